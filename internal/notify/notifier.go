// Package notify delivers reconciliation alerts to operators and users.
// Messages fan out to every registered sender (Telegram, Discord, the signal
// bus) and can be filtered by event type so operators only receive the
// alerts they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Message is one notification.
type Message struct {
	Event string    `json:"event"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Sender is implemented by each delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches messages to its senders. Notify forwards only the
// configured event types; an empty event list allows all of them.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
		now:     time.Now,
	}
}

// Notify sends a message if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Message{Event: event, Title: title, Body: message, At: n.now().UTC()})
}

// NotifyAll sends a message regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, Message{Event: "broadcast", Title: title, Body: message, At: n.now().UTC()})
}

// Senders returns the names of the configured senders.
func (n *Notifier) Senders() []string {
	names := make([]string, len(n.senders))
	for i, s := range n.senders {
		names[i] = s.Name()
	}
	return names
}

// dispatch delivers to every sender. One sender failing does not stop the
// others; all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
