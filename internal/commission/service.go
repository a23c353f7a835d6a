package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

// OrderReader loads the order a commission is paid on.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// Rates supplies the programme defaults.
type Rates interface {
	CommissionRateBP(ctx context.Context) int64
	CommissionHoldPeriod(ctx context.Context) time.Duration
}

// Service records and summarises commissions.
type Service struct {
	store     Store
	orders    OrderReader
	rates     Rates
	publisher events.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new commission service.
func NewService(store Store, orders OrderReader, rates Rates, publisher events.EventPublisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		store:     store,
		orders:    orders,
		rates:     rates,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordCommission creates the commission record for a paid order referred
// by referralCode. The rate in force now is copied onto the record. Permanent
// rejections are stored so the sweeper does not retry them.
func (s *Service) RecordCommission(ctx context.Context, orderID, referralCode string) (*Referral, error) {
	ref, err := s.record(ctx, orderID, referralCode)
	if err != nil && Permanent(err) && !errors.Is(err, ErrDuplicateCommission) {
		if rErr := s.store.RecordRejection(ctx, orderID, referralCode, err.Error(), s.now()); rErr != nil {
			s.logger.Warn("failed to store commission rejection",
				"order_id", orderID,
				"referral_code", referralCode,
				"error", rErr,
			)
		}
	}
	return ref, err
}

func (s *Service) record(ctx context.Context, orderID, referralCode string) (*Referral, error) {
	amb, err := s.store.GetAmbassadorByCode(ctx, referralCode)
	if err != nil {
		if errors.Is(err, ErrAmbassadorNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReferralCode, referralCode)
		}
		return nil, fmt.Errorf("resolving referral code: %w", err)
	}
	if amb.Status != AmbassadorActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrInvalidReferralCode, referralCode, amb.Status)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", orderID, err)
	}
	if o.Status == order.StatusPending || o.Status == order.StatusCancelled {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPaid, orderID, o.Status)
	}

	if amb.UserID == o.CustomerID {
		s.logger.Warn("self-referral rejected",
			"order_id", orderID,
			"ambassador_id", amb.ID,
			"customer_id", o.CustomerID,
		)
		return nil, fmt.Errorf("%w: order %s", ErrSelfReferralRejected, orderID)
	}

	rate := s.rates.CommissionRateBP(ctx)
	if amb.RateBP != nil {
		rate = *amb.RateBP
	}
	amount := Calculate(o.Total(), rate)

	ref := &Referral{
		ID:              ulid.Make().String(),
		AmbassadorID:    amb.ID,
		CustomerID:      o.CustomerID,
		OrderID:         o.ID,
		ReferralCode:    amb.ReferralCode,
		RateBP:          rate,
		CommissionCents: amount.AmountMinor,
		Currency:        amount.Currency,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateReferral(ctx, ref); err != nil {
		return nil, err
	}

	s.logger.Info("commission recorded",
		"referral_id", ref.ID,
		"ambassador_id", ref.AmbassadorID,
		"order_id", ref.OrderID,
		"rate_bp", ref.RateBP,
		"commission_cents", ref.CommissionCents,
	)

	s.publish(ctx, ref)
	return ref, nil
}

// publish emits commission.recorded. The record is already durable so a
// publish failure is only logged.
func (s *Service) publish(ctx context.Context, ref *Referral) {
	event, err := events.NewEvent(events.EventCommissionRecorded, events.AggregateReferral, ref.ID, events.CommissionRecordedData{
		ReferralID:       ref.ID,
		AmbassadorID:     ref.AmbassadorID,
		OrderID:          ref.OrderID,
		CommissionRateBP: ref.RateBP,
		CommissionMinor:  ref.CommissionCents,
		Currency:         string(ref.Currency),
	})
	if err != nil {
		s.logger.Error("failed to build commission event", "referral_id", ref.ID, "error", err)
		return
	}
	if id := middleware.GetCorrelationID(ctx); id != "" {
		event.WithCorrelation(id)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish commission event", "referral_id", ref.ID, "error", err)
	}
}

// Earnings returns the ambassador's records with available and pending totals.
func (s *Service) Earnings(ctx context.Context, ambassadorID string, now time.Time) (*Earnings, []Referral, error) {
	if _, err := s.store.GetAmbassador(ctx, ambassadorID); err != nil {
		return nil, nil, err
	}
	referrals, err := s.store.ListReferrals(ctx, ambassadorID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing referrals: %w", err)
	}
	e := Summarise(ambassadorID, referrals, s.rates.CommissionHoldPeriod(ctx), now)
	return &e, referrals, nil
}
