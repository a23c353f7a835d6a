package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/reconciliation"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/reporting"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/settings"
)

func serveCmd() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and commission sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), !noSweep)
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the background commission sweeper")

	return cmd
}

func runServe(parent context.Context, sweep bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	webhookHandler := reconciliation.NewHandler(a.engine, a.gateways, cfg.Webhook, logger)
	orderHandler := order.NewHandler(a.orderSvc)
	reportHandler := reporting.NewHandler(a.orders, commission.NewHandler(a.commission))
	settingsHandler := settings.NewHandler(a.settings)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if a.natsConn != nil {
			if err := a.natsConn.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Mount("/webhooks", webhookHandler.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", orderHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(cfg.AdminAPIKeys))
			r.Mount("/reports", reportHandler.Routes())
			r.Mount("/admin/settings", settingsHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Webhook.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting payment service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"gateways", a.gateways.Names(),
			"version", version,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if sweep {
		sweeper := commission.NewSweeper(a.commission, a.commissions, cfg.Sweep, logger)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
