// Package app provides the top-level application lifecycle for the
// prediction market daemon. It wires together stores, caches, blob storage
// and services, starts the HTTP/WebSocket server plus the background market
// sweep, and tears everything down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openforecast/predictd/internal/config"
	"github.com/openforecast/predictd/internal/server"
	"github.com/openforecast/predictd/internal/server/handler"
	"github.com/openforecast/predictd/internal/server/ws"
	"github.com/openforecast/predictd/internal/service"
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

// Run is the main entry point. It wires all dependencies, starts the server
// and background goroutines, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("store", a.cfg.Store),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	initialBalance := a.cfg.Market.InitialBalanceTicks()

	exchangeOpts := []service.ExchangeOption{
		service.WithAuditStore(deps.AuditStore),
	}
	if deps.SignalBus != nil {
		exchangeOpts = append(exchangeOpts, service.WithSignalBus(deps.SignalBus))
	}
	if deps.RateLimiter != nil && a.cfg.Market.OrdersPerMinute > 0 {
		exchangeOpts = append(exchangeOpts,
			service.WithRateLimiter(deps.RateLimiter, a.cfg.Market.OrdersPerMinute))
	}
	exchange := service.NewExchangeService(
		deps.TxRunner, deps.OrderStore, deps.ProfileStore,
		initialBalance, a.logger, exchangeOpts...)

	settlementOpts := []service.SettlementOption{
		service.WithSettlementAudit(deps.AuditStore),
	}
	if deps.LockManager != nil {
		settlementOpts = append(settlementOpts, service.WithLockManager(deps.LockManager))
	}
	if deps.SignalBus != nil {
		settlementOpts = append(settlementOpts, service.WithSettlementBus(deps.SignalBus))
	}
	if deps.Archiver != nil {
		settlementOpts = append(settlementOpts, service.WithArchiver(deps.Archiver))
	}
	settlement := service.NewSettlementService(
		deps.TxRunner, deps.ProfileStore, initialBalance, a.logger, settlementOpts...)

	markets := service.NewMarketService(deps.MarketStore, deps.AuditStore, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Markets:   handler.NewMarketHandler(markets, settlement, a.logger),
		Orders:    handler.NewOrderHandler(exchange, a.logger),
		Positions: handler.NewPositionHandler(exchange, a.logger),
	}
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		AdminKey:    a.cfg.Server.AdminKey,
	}, handlers, hub, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if hub != nil {
		g.Go(func() error {
			err := hub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return a.sweepLoop(ctx, markets)
	})

	return g.Wait()
}

// sweepLoop periodically closes open markets whose closing date has passed.
func (a *App) sweepLoop(ctx context.Context, markets *service.MarketService) error {
	interval := a.cfg.Market.SweepInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			closed, err := markets.CloseExpired(ctx, time.Now().UTC())
			if err != nil {
				a.logger.WarnContext(ctx, "market sweep failed", slog.String("error", err.Error()))
				continue
			}
			if closed > 0 {
				a.logger.InfoContext(ctx, "market sweep", slog.Int("closed", closed))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
