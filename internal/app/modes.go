package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whetherfun/weathermark/internal/book"
	"github.com/whetherfun/weathermark/internal/crypto"
	"github.com/whetherfun/weathermark/internal/domain"
	"github.com/whetherfun/weathermark/internal/ledger"
	"github.com/whetherfun/weathermark/internal/market"
	"github.com/whetherfun/weathermark/internal/oracle"
	"github.com/whetherfun/weathermark/internal/server"
	"github.com/whetherfun/weathermark/internal/server/handler"
	"github.com/whetherfun/weathermark/internal/server/ws"
	"github.com/whetherfun/weathermark/internal/service"
)

// services bundles the hydrated application services shared across modes.
type services struct {
	oracle  *service.OracleService
	markets *service.MarketService
	orders  *service.OrderService
}

// buildServices constructs the in-memory engines, wraps them in the
// persistence-aware services, and hydrates everything from the stores.
// Hydration order matters: the market engine needs oracle reports for
// settled state, and the order book gate needs markets loaded before
// resting orders are restored.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	oracleEngine := oracle.New(a.cfg.Oracle.Owner)
	tokens := ledger.New()
	marketEngine := market.New(a.cfg.Market.Owner, tokens, market.Config{
		FeeBps:          a.cfg.Market.FeeBps,
		CreatorShareBps: a.cfg.Market.CreatorShareBps,
		DisputeWindow:   a.cfg.Market.DisputeWindow.Duration,
		MinBet:          a.cfg.Market.MinBet,
	})
	orderBook := book.New(marketEngine).WithMinOrder(a.cfg.Market.MinBet)

	oracleSvc := service.NewOracleService(
		oracleEngine,
		deps.ReportStore, deps.DisputeStore, deps.ReporterStore, deps.ArbitratorStore,
		deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	)
	marketSvc := service.NewMarketService(
		marketEngine, oracleEngine,
		deps.MarketStore, deps.PositionStore,
		deps.MarketCache, deps.LockManager,
		deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	)
	orderSvc := service.NewOrderService(
		orderBook,
		deps.OrderStore, deps.BookCache, deps.RateLimiter,
		deps.SignalBus, deps.AuditStore, a.logger,
	)

	// Settlement attestation is optional: without a key, settlements are
	// recorded unsigned.
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Signer.PrivateKey,
		EncryptedKeyPath: a.cfg.Signer.EncryptedKeyPath,
		KeyPassword:      a.cfg.Signer.KeyPassword,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "settlement signer unavailable, attestations disabled",
			slog.String("error", err.Error()),
		)
	} else if keyHex != "" {
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			a.logger.WarnContext(ctx, "settlement signer invalid, attestations disabled",
				slog.String("error", err.Error()),
			)
		} else {
			marketSvc.WithAttestor(signer)
			a.logger.InfoContext(ctx, "settlement signer loaded",
				slog.String("address", signer.Address()),
			)
		}
	}

	if err := oracleSvc.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrate oracle: %w", err)
	}
	if err := marketSvc.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrate markets: %w", err)
	}
	for _, m := range marketSvc.ListMarkets(domain.MarketStatusActive) {
		if err := orderSvc.Hydrate(ctx, m.ID); err != nil {
			return nil, fmt.Errorf("hydrate order book %s: %w", m.ID, err)
		}
	}

	return &services{oracle: oracleSvc, markets: marketSvc, orders: orderSvc}, nil
}

// startHTTPServer registers the API handlers, starts the WebSocket hub, and
// runs the HTTP server under the errgroup with shutdown on context cancel.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Reports:   handler.NewReportHandler(svcs.oracle, a.logger),
		Disputes:  handler.NewDisputeHandler(svcs.oracle, a.logger),
		Markets:   handler.NewMarketHandler(svcs.markets, a.logger),
		Positions: handler.NewPositionHandler(svcs.markets, a.logger),
		Orders:    handler.NewOrderHandler(svcs.orders, a.logger),
		Admin:     handler.NewAdminHandler(svcs.markets, svcs.oracle, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop runs the cold-history offload on the configured interval.
// One pass archives markets, reports, and disputes older than the retention
// cutoff; a failing pass is logged and retried on the next tick.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.logger.InfoContext(ctx, "archive loop started",
			slog.Duration("interval", interval),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchivePass(ctx, deps.Archiver, time.Now().UTC().Add(-retention))
			}
		}
	})
}

func (a *App) runArchivePass(ctx context.Context, archiver domain.Archiver, before time.Time) {
	type step struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}
	steps := []step{
		{"markets", archiver.ArchiveMarkets},
		{"reports", archiver.ArchiveReports},
		{"disputes", archiver.ArchiveDisputes},
	}
	for _, s := range steps {
		n, err := s.fn(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed",
				slog.String("kind", s.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archived records",
				slog.String("kind", s.name),
				slog.Int64("count", n),
				slog.Time("before", before),
			)
		}
	}
}

// ServerMode runs the HTTP and WebSocket API without background jobs.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// MonitorMode consumes the signal bus and forwards notable events to the
// configured notification channels. It serves no HTTP traffic.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	channels := []string{"reports", "disputes", "markets", "orders"}
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			ch, err := deps.SignalBus.Subscribe(ctx, channel)
			if err != nil {
				return fmt.Errorf("monitor mode: subscribe %s: %w", channel, err)
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case payload, ok := <-ch:
					if !ok {
						return nil
					}
					a.handleMonitorEvent(ctx, deps, channel, payload)
				}
			}
		})
	}

	return g.Wait()
}

// monitorEvent is the envelope the services publish on the signal bus.
type monitorEvent struct {
	Type string `json:"type"`
}

func (a *App) handleMonitorEvent(ctx context.Context, deps *Dependencies, channel string, payload []byte) {
	var ev monitorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		a.logger.WarnContext(ctx, "monitor: malformed event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	a.logger.DebugContext(ctx, "monitor: event",
		slog.String("channel", channel),
		slog.String("type", ev.Type),
	)

	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, ev.Type,
		fmt.Sprintf("weathermark: %s", ev.Type),
		string(payload),
	); err != nil {
		a.logger.WarnContext(ctx, "monitor: notify failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// ArchiveMode runs a single archive pass and then keeps the interval loop
// running until cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	a.runArchivePass(ctx, deps.Archiver, time.Now().UTC().Add(-retention))

	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API server plus the archive loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svcs)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	return g.Wait()
}
