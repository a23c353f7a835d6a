// Package reconciliation turns gateway webhooks into confirmed payments.
// Every delivery is authenticated, re-verified with the provider and
// reconciled against the stored order before the order is marked PAID.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

// Errors returned by Process. Provider outages surface as gateway.ErrUnavailable.
var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrOrderNotFound      = errors.New("no pending order for transaction")
	ErrAmountMismatch     = errors.New("verified amount does not match order total")
)

// Outcome describes a successfully handled delivery.
type Outcome string

const (
	// OutcomeConfirmed means this delivery moved the order to PAID.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeIgnored means the provider reported a non-success status.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate means the order had already been processed.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is returned for deliveries that should be acknowledged.
type Result struct {
	Outcome        Outcome              `json:"outcome"`
	TransactionRef string               `json:"transaction_ref"`
	OrderID        string               `json:"order_id,omitempty"`
	Commission     *commission.Referral `json:"-"`
	CommissionErr  error                `json:"-"`
}

// CommissionRecorder is run once for a newly paid, referred order.
type CommissionRecorder interface {
	RecordCommission(ctx context.Context, orderID, referralCode string) (*commission.Referral, error)
}

// Config holds engine configuration.
type Config struct {
	AmountToleranceMinor int64 `envconfig:"RECON_AMOUNT_TOLERANCE_MINOR" default:"1"`
}

// Engine runs the webhook pipeline.
type Engine struct {
	orders      order.Store
	guard       *Guard
	commissions CommissionRecorder
	publisher   events.EventPublisher
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates a new reconciliation engine.
func NewEngine(orders order.Store, commissions CommissionRecorder, publisher events.EventPublisher, cfg Config, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.AmountToleranceMinor < 0 {
		cfg.AmountToleranceMinor = 0
	}
	return &Engine{
		orders:      orders,
		guard:       NewGuard(orders),
		commissions: commissions,
		publisher:   publisher,
		config:      cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one webhook delivery from gw. The steps run in order and
// each one is a hard gate; nothing is written before the final conditional
// update, so any failure before it leaves the order untouched.
func (e *Engine) Process(ctx context.Context, gw gateway.Gateway, payload []byte, signature string) (*Result, error) {
	logger := e.logger.With(
		"gateway", gw.Name(),
		"correlation_id", middleware.GetCorrelationID(ctx),
	)

	// 1. authenticity
	if !gw.VerifySignature(payload, signature) {
		logger.Warn("webhook signature rejected", "payload_bytes", len(payload))
		return nil, ErrInvalidSignature
	}

	n, err := gw.ParseNotification(payload)
	if err != nil {
		logger.Warn("webhook body rejected", "error", err)
		return nil, err
	}
	ref := n.TransactionRef
	logger = logger.With("tx_ref", ref)

	// 2. self-reported status
	if !n.Succeeded {
		logger.Info("ignoring non-success notification", "status", n.Status)
		return &Result{Outcome: OutcomeIgnored, TransactionRef: ref}, nil
	}

	// 3. redelivery
	done, err := e.guard.IsAlreadyProcessed(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if done {
		logger.Info("duplicate notification")
		return &Result{Outcome: OutcomeDuplicate, TransactionRef: ref}, nil
	}

	// 4. ask the provider directly
	v, err := gw.VerifyTransaction(ctx, ref)
	if err != nil {
		logger.Error("provider verification unavailable", "error", err)
		if errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("verifying %s: %w", ref, err)
	}
	if !v.Verified {
		logger.Warn("provider did not confirm payment", "provider_status", v.Status)
		return nil, fmt.Errorf("%w: provider status %q", ErrVerificationFailed, v.Status)
	}

	// 5. the order we expect to be paying for
	o, err := e.orders.GetPendingByTransactionRef(ctx, ref)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// a concurrent delivery may have confirmed it since step 3
			if done, gErr := e.guard.IsAlreadyProcessed(ctx, ref); gErr == nil && done {
				logger.Info("order confirmed by a concurrent delivery")
				return &Result{Outcome: OutcomeDuplicate, TransactionRef: ref}, nil
			}
			logger.Error("verified payment has no pending order",
				"verified_minor", v.Amount.AmountMinor,
				"currency", v.Amount.Currency,
				"provider_tx_id", v.ProviderTxID,
			)
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, ref)
		}
		return nil, fmt.Errorf("loading order: %w", err)
	}
	if o.Gateway != gw.Name() {
		logger.Error("notification arrived from a different gateway than the order's",
			"order_id", o.ID,
			"order_gateway", o.Gateway,
		)
		return nil, fmt.Errorf("%w: %s belongs to %s", ErrOrderNotFound, ref, o.Gateway)
	}
	logger = logger.With("order_id", o.ID)

	// 6. amount
	expected := o.Total()
	if !expected.WithinTolerance(v.Amount, e.config.AmountToleranceMinor) {
		logger.Error("SECURITY: verified amount does not match order",
			"expected_minor", expected.AmountMinor,
			"expected_currency", expected.Currency,
			"verified_minor", v.Amount.AmountMinor,
			"verified_currency", v.Amount.Currency,
			"tolerance_minor", e.config.AmountToleranceMinor,
			"provider_tx_id", v.ProviderTxID,
		)
		e.publish(ctx, events.EventPaymentAmountMismatch, o.ID, events.PaymentAmountMismatchData{
			OrderID:        o.ID,
			TransactionRef: ref,
			Gateway:        gw.Name(),
			ExpectedMinor:  expected.AmountMinor,
			VerifiedMinor:  v.Amount.AmountMinor,
			Currency:       string(v.Amount.Currency),
		})
		return nil, fmt.Errorf("%w: expected %s, verified %s", ErrAmountMismatch, expected, v.Amount)
	}

	// 7. PENDING -> PAID, once
	flipped, err := e.orders.MarkPaid(ctx, ref, e.now())
	if err != nil {
		return nil, fmt.Errorf("confirming payment: %w", err)
	}
	if !flipped {
		logger.Info("order confirmed by a concurrent delivery")
		return &Result{Outcome: OutcomeDuplicate, TransactionRef: ref, OrderID: o.ID}, nil
	}

	logger.Info("payment confirmed",
		"amount_minor", expected.AmountMinor,
		"currency", expected.Currency,
		"provider_tx_id", v.ProviderTxID,
	)
	e.publish(ctx, events.EventPaymentConfirmed, o.ID, events.PaymentConfirmedData{
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		TransactionRef: ref,
		Gateway:        gw.Name(),
		AmountMinor:    expected.AmountMinor,
		Currency:       string(expected.Currency),
		ReferralCode:   o.ReferralCode,
	})

	res := &Result{Outcome: OutcomeConfirmed, TransactionRef: ref, OrderID: o.ID}

	// 8. commission; never undoes the payment
	if o.HasReferral() && e.commissions != nil {
		res.Commission, res.CommissionErr = e.commissions.RecordCommission(ctx, o.ID, o.ReferralCode)
		if res.CommissionErr != nil {
			logCommissionFailure(logger, o, res.CommissionErr)
			e.publish(ctx, events.EventCommissionRejected, o.ID, events.CommissionRejectedData{
				OrderID:      o.ID,
				ReferralCode: o.ReferralCode,
				Reason:       res.CommissionErr.Error(),
			})
		}
	}

	return res, nil
}

func logCommissionFailure(logger *slog.Logger, o *order.Order, err error) {
	if commission.Permanent(err) {
		logger.Warn("commission not recorded", "referral_code", o.ReferralCode, "reason", err.Error())
		return
	}
	logger.Error("commission failed, left for sweep", "referral_code", o.ReferralCode, "error", err)
}

// publish sends an order event. Failures are logged; the database is the
// source of truth.
func (e *Engine) publish(ctx context.Context, eventType, orderID string, data any) {
	event, err := events.NewEvent(eventType, events.AggregateOrder, orderID, data)
	if err != nil {
		e.logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	if id := middleware.GetCorrelationID(ctx); id != "" {
		event.WithCorrelation(id)
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Error("failed to publish event", "type", eventType, "order_id", orderID, "error", err)
	}
}
