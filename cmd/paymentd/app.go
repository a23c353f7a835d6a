package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/nats"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/providers/chapa"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/providers/telebirr"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/reconciliation"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/settings"
)

// app holds the wired services shared by serve and sweep.
type app struct {
	db       *database.DB
	natsConn *nats.Client

	settings    *settings.Store
	gateways    gateway.Registry
	orders      *order.PostgresStore
	orderSvc    *order.Service
	commissions *commission.PostgresStore
	commission  *commission.Service
	engine      *reconciliation.Engine
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	a := &app{db: db}

	var publisher events.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		a.natsConn, err = nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		if _, err := a.natsConn.EnsureStream(ctx, cfg.NATS.Stream); err != nil {
			a.Close()
			return nil, err
		}
		publisher = nats.NewPublisher(a.natsConn, logger)
	}

	a.settings = settings.NewStore(settings.NewPostgresRepository(db), logger)
	if err := a.settings.Init(ctx); err != nil {
		logger.Warn("settings unavailable, serving defaults", "error", err)
	}

	tb, err := telebirr.NewAdapter(cfg.Telebirr, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configuring telebirr: %w", err)
	}
	a.gateways = gateway.NewRegistry(chapa.NewAdapter(cfg.Chapa, logger), tb)

	a.orders = order.NewPostgresStore(db)
	a.orderSvc = order.NewService(a.orders, order.NewPostgresCatalog(db), a.settings, a.gateways, logger)

	a.commissions = commission.NewPostgresStore(db)
	a.commission = commission.NewService(a.commissions, a.orders, a.settings, publisher, logger)

	a.engine = reconciliation.NewEngine(a.orders, a.commission, publisher, cfg.Reconciliation, logger)

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	a.db.Close()
}
