package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/predsync/internal/domain"
)

// NotificationsChannel is the signal bus channel user-facing notifications
// are published on. The WebSocket hub relays it to connected clients.
const NotificationsChannel = "notifications"

// BusSender publishes messages on the signal bus.
type BusSender struct {
	bus domain.SignalBus
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus}
}

// Send publishes msg as JSON on NotificationsChannel.
func (b *BusSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal message: %w", err)
	}
	return b.bus.Publish(ctx, NotificationsChannel, data)
}

// Name returns "bus".
func (b *BusSender) Name() string {
	return "bus"
}
