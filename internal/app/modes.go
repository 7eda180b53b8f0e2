package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/server"
	"github.com/primitivefi/prime-engine/internal/server/handler"
	"github.com/primitivefi/prime-engine/internal/server/ws"
)

// archiveLockTTL bounds how long a crashed instance can hold the sweep lock.
const archiveLockTTL = 10 * time.Minute

// EngineMode runs the full protocol engine behind the HTTP API: registry,
// pool, exchange, WebSocket event feed. No archive sweeps.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, true)
	return g.Wait()
}

// ServerMode exposes only the monitoring surface: health, status, audit log,
// and the WebSocket event feed. Mutating protocol routes are not registered,
// so a server-mode instance can sit next to an engine instance sharing the
// same Redis and Postgres.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, false)
	return g.Wait()
}

// ArchiveMode runs only the periodic cold-storage sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("app: archive mode requires postgres and s3")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	return g.Wait()
}

// FullMode starts every subsystem: the engine API plus the archive sweep.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps, true)

	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			a.logger.WarnContext(ctx, "archive enabled but postgres or s3 is not; sweeps disabled")
		} else {
			g.Go(func() error {
				return a.runArchiveLoop(ctx, deps)
			})
		}
	}

	return g.Wait()
}

// startHTTPServer builds the handler set, attaches the WebSocket hub when a
// signal bus is wired, and runs the server on the errgroup. When engine is
// false only the monitoring handlers are registered.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine bool) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; no API surface will be exposed")
		return
	}

	startedAt := time.Now().UTC()

	var nonce func() uint64
	if engine && deps.Registry != nil {
		nonce = deps.Registry.Nonce
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, startedAt, nonce),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if engine {
		handlers.Options = handler.NewOptionHandler(deps.Registry, a.logger)
		if deps.Pool != nil {
			handlers.Pool = handler.NewPoolHandler(deps.Pool, a.logger)
		}
		if deps.Exchange != nil {
			handlers.Exchange = handler.NewExchangeHandler(deps.Exchange, a.logger)
		}
	}

	// WebSocket hub requires the Redis signal bus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			err := hub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// runArchiveLoop sweeps settled history to cold storage on a fixed interval.
// A distributed lock keeps concurrent instances from double-archiving.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweepArchive(ctx, deps)
		}
	}
}

// sweepArchive performs one archive pass under the distributed lock.
func (a *App) sweepArchive(ctx context.Context, deps *Dependencies) {
	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, "archive:sweep", archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive sweep skipped, lock held elsewhere")
			} else {
				a.logger.WarnContext(ctx, "archive lock acquire failed",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		defer release()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	sweeps := []struct {
		kind string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"tokens", deps.Archiver.ArchiveTokens},
		{"orders", deps.Archiver.ArchiveOrders},
		{"audit", deps.Archiver.ArchiveAudit},
	}
	for _, s := range sweeps {
		n, err := s.run(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive sweep failed",
				slog.String("kind", s.kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archive sweep complete",
				slog.String("kind", s.kind),
				slog.Int64("rows", n),
				slog.Time("cutoff", cutoff),
			)
		}
	}
}
