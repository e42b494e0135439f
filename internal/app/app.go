// Package app provides the top-level application lifecycle management for
// auctiond. It wires together all dependencies (stores, caches, blob storage,
// the engine connection, and notifications), builds the auction components on
// top of them, and runs everything until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mevflow/auctiond/internal/auction"
	s3blob "github.com/mevflow/auctiond/internal/blob/s3"
	"github.com/mevflow/auctiond/internal/config"
	"github.com/mevflow/auctiond/internal/detector"
	"github.com/mevflow/auctiond/internal/domain"
	"github.com/mevflow/auctiond/internal/engine"
	"github.com/mevflow/auctiond/internal/executor"
	"github.com/mevflow/auctiond/internal/server"
	"github.com/mevflow/auctiond/internal/server/handler"
	"github.com/mevflow/auctiond/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the auction
// pipeline, starts the goroutines, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting auctiond",
		slog.String("engine_ws", a.cfg.Engine.WsURL),
		slog.String("default_mode", a.cfg.Auction.DefaultMode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// --- Auction components ---
	det := detector.New(detector.Config{
		MinImpactBps: a.cfg.Detector.MinImpactBps,
	}, a.logger)

	reg := auction.NewRegistry(auction.Config{
		CreationThresholdWei: config.Wei(a.cfg.Auction.CreationThresholdWei),
		DefaultMode:          domain.AuctionMode(a.cfg.Auction.DefaultMode),
		RevealTimeoutEpochs:  a.cfg.Auction.RevealTimeoutEpochs,
	}, deps.AuctionStore, deps.BidStore, deps.SignalBus, deps.Engine, deps.StakeRegistry, deps.Confidential, a.logger)

	redist := auction.NewRedistributor(auction.RedistributorConfig{
		RebateBps: a.cfg.Auction.RebateBps,
	}, deps.Engine, deps.RewardStore, deps.SignalBus, a.logger)

	// Carry pending rewards across restarts.
	balances, err := deps.RewardStore.All(ctx)
	if err != nil {
		return fmt.Errorf("app: restore reward ledger: %w", err)
	}
	redist.Restore(balances)

	exec := executor.New(executor.Config{
		MaxSizeCeiling: config.Wei(a.cfg.Executor.MaxSizeCeilingWei),
		MinViableSize:  config.Wei(a.cfg.Executor.MinViableSizeWei),
	}, deps.Engine, a.logger)

	hook := engine.New(engine.Config{
		AutoReveal:         a.cfg.Engine.AutoReveal,
		RevealPollInterval: a.cfg.Engine.RevealPollInterval.Duration,
	}, det, reg, exec, redist, deps.AuditStore, deps.Notifier, deps.SignalBus, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// --- Engine hook feed ---
	if err := deps.Engine.Connect(ctx); err != nil {
		return fmt.Errorf("app: engine connect: %w", err)
	}
	if err := deps.Engine.SubscribeHooks(ctx, a.cfg.Engine.Pools); err != nil {
		return fmt.Errorf("app: engine subscribe: %w", err)
	}
	g.Go(func() error {
		return hook.Run(ctx, deps.Engine.Events())
	})

	// --- HTTP/WS API ---
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		pingers := make(map[string]handler.Pinger, len(deps.Pingers))
		for name, fn := range deps.Pingers {
			pingers[name] = pingerFunc(fn)
		}

		srv := server.New(server.Config{
			Port:            a.cfg.Server.Port,
			APIKey:          a.cfg.Server.ApiKey,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(pingers),
			Auction: handler.NewAuctionHandler(auctionAPI{Registry: reg, hook: hook}, deps.AuctionStore, deps.BidStore),
			Bid:     handler.NewBidHandler(reg),
			Reward:  handler.NewRewardHandler(redist),
			Hub:     hub,
		}, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// --- Settled-auction archive job ---
	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		arch := s3blob.NewArchiver(deps.BlobWriter, deps.AuctionStore, deps.BidStore, deps.AuditStore)
		g.Go(func() error {
			return a.runArchiveLoop(ctx, arch, deps.Locker)
		})
	}

	return g.Wait()
}

// runArchiveLoop periodically uploads settled auctions older than the
// retention window. A distributed lock keeps concurrent instances from
// archiving the same rows twice.
func (a *App) runArchiveLoop(ctx context.Context, arch *s3blob.Archiver, locker domain.Locker) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		release, err := locker.Acquire(ctx, "archive:run", interval)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				a.logger.WarnContext(ctx, "archive lock", slog.Any("error", err))
			}
			continue
		}

		cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
		count, err := arch.ArchiveSettled(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.Any("error", err))
		} else if count > 0 {
			a.logger.InfoContext(ctx, "archived settled auctions",
				slog.Int64("count", count),
				slog.Time("cutoff", cutoff))
		}

		if err := release(ctx); err != nil {
			a.logger.WarnContext(ctx, "archive lock release", slog.Any("error", err))
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down auctiond")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// pingerFunc adapts a bare function to the handler.Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// auctionAPI layers the hook's finalizing reveal over the registry so the
// manual winner endpoint runs back-run execution and redistribution instead
// of stopping at the settled record.
type auctionAPI struct {
	*auction.Registry
	hook *engine.Hook
}

func (s auctionAPI) RevealWinner(ctx context.Context, id string) (*domain.Auction, error) {
	return s.hook.Reveal(ctx, id)
}
