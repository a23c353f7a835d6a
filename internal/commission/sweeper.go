package commission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

// SweepConfig holds sweeper configuration. Orders paid within Grace are left
// to the webhook path; orders older than Lookback are no longer retried.
type SweepConfig struct {
	Interval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	Grace     time.Duration `envconfig:"SWEEP_GRACE" default:"1m"`
	Lookback  time.Duration `envconfig:"SWEEP_LOOKBACK" default:"72h"`
	BatchSize int           `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
}

// SweepResult counts what a single pass did.
type SweepResult struct {
	Scanned  int
	Recorded int
	Rejected int
	Failed   int
}

// Sweeper retries commissions for paid orders whose inline attempt failed.
type Sweeper struct {
	service *Service
	store   Store
	config  SweepConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a new commission sweeper.
func NewSweeper(service *Service, store Store, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 72 * time.Hour
	}
	return &Sweeper{
		service: service,
		store:   store,
		config:  cfg,
		logger:  logger.With("component", "commission_sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("commission sweeper started", "interval", s.config.Interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("commission sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("commission sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce makes one pass over uncommissioned paid orders.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	now := s.now()
	var pending []Uncommissioned
	err := database.Retry(ctx, 3, func(err error) bool { return !errors.Is(err, context.Canceled) }, func() error {
		var err error
		pending, err = s.store.ListUncommissioned(ctx, now.Add(-s.config.Lookback), now.Add(-s.config.Grace), s.config.BatchSize)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Scanned = len(pending)

	for _, u := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		_, err := s.service.RecordCommission(ctx, u.OrderID, u.ReferralCode)
		switch {
		case err == nil:
			res.Recorded++
		case errors.Is(err, ErrDuplicateCommission):
			// recorded concurrently by the webhook path
		case Permanent(err):
			res.Rejected++
			s.logger.Debug("commission not owed",
				"order_id", u.OrderID,
				"referral_code", u.ReferralCode,
				"reason", err.Error(),
			)
		default:
			res.Failed++
			s.logger.Error("commission retry failed",
				"order_id", u.OrderID,
				"referral_code", u.ReferralCode,
				"error", err,
			)
		}
	}

	if res.Scanned > 0 {
		s.logger.Info("commission sweep complete",
			"scanned", res.Scanned,
			"recorded", res.Recorded,
			"rejected", res.Rejected,
			"failed", res.Failed,
		)
	}
	return res, nil
}
