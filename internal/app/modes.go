package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predsync/internal/notify"
	"github.com/alanyoungcy/predsync/internal/reconcile"
	"github.com/alanyoungcy/predsync/internal/server"
	"github.com/alanyoungcy/predsync/internal/server/handler"
	"github.com/alanyoungcy/predsync/internal/server/ws"
)

// FullMode serves the API and runs the periodic resync loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startResyncLoop(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ServerMode serves the API without a resync loop; another replica is
// expected to run one.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// WorkerMode runs only the periodic resync loop.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode",
		slog.Duration("interval", a.cfg.Reconcile.ResyncInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startResyncLoop(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ResyncMode runs one resync pass and returns.
func (a *App) ResyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting one-shot resync")

	report, err := deps.Engine.RunResyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("resync mode: %w", err)
	}
	if report.Skipped {
		a.logger.WarnContext(ctx, "resync skipped: another replica holds the lock")
		return nil
	}
	if report.Failed > 0 {
		return fmt.Errorf("resync mode: %d of %d predictions failed", report.Failed, report.Predictions)
	}
	return nil
}

func (a *App) startResyncLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Engine.RunResyncLoop(ctx)
	})
}

// startHTTPServer adds the WebSocket hub and the HTTP server to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, []string{
		reconcile.SyncEventsChannel,
		notify.NotificationsChannel,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, func() int { return len(deps.Engine.Pending()) }, a.logger),
		Sync:        handler.NewSyncHandler(deps.Engine, deps.AuditStore, a.logger),
		Predictions: handler.NewPredictionHandler(deps.Projection, a.logger),
		Portfolio:   handler.NewPortfolioHandler(deps.Portfolios, deps.Projection, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, server.Deps{
		Hub:      hub,
		Limiter:  deps.RateLimiter,
		Registry: deps.Registry,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
