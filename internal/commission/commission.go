// Package commission records ambassador earnings for paid, referred orders.
package commission

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
)

// Errors
var (
	ErrInvalidReferralCode  = errors.New("invalid referral code")
	ErrSelfReferralRejected = errors.New("self-referral rejected")
	ErrDuplicateCommission  = errors.New("commission already recorded for order")
	ErrOrderNotPaid         = errors.New("order is not paid")
	ErrAmbassadorNotFound   = errors.New("ambassador not found")
)

// Permanent reports whether retrying RecordCommission can never succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidReferralCode) ||
		errors.Is(err, ErrSelfReferralRejected) ||
		errors.Is(err, ErrDuplicateCommission)
}

// AmbassadorStatus gates whether a referral code earns commission.
type AmbassadorStatus string

const (
	AmbassadorActive   AmbassadorStatus = "ACTIVE"
	AmbassadorInactive AmbassadorStatus = "INACTIVE"
	AmbassadorRejected AmbassadorStatus = "REJECTED"
)

// Ambassador is owned by the referral programme; this package only reads it.
type Ambassador struct {
	ID           string           `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	ReferralCode string           `json:"referral_code"`
	RateBP       *int64           `json:"commission_rate_bp,omitempty"`
	Status       AmbassadorStatus `json:"status"`
}

// Referral is an immutable commission record, one per order.
type Referral struct {
	ID              string         `json:"id"`
	AmbassadorID    string         `json:"ambassador_id"`
	CustomerID      uuid.UUID      `json:"customer_id"`
	OrderID         string         `json:"order_id"`
	ReferralCode    string         `json:"referral_code"`
	RateBP          int64          `json:"commission_rate_bp"`
	CommissionCents int64          `json:"commission_cents"`
	Currency        money.Currency `json:"currency"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AvailableAt is when the commission clears the hold period.
func (r *Referral) AvailableAt(hold time.Duration) time.Time {
	return r.CreatedAt.Add(hold)
}

// Available reports whether the hold period has elapsed at now.
func (r *Referral) Available(hold time.Duration, now time.Time) bool {
	return !now.Before(r.AvailableAt(hold))
}

// Earnings summarises an ambassador's commissions at a point in time.
// Nothing here is stored; availability is derived from created_at.
type Earnings struct {
	AmbassadorID   string         `json:"ambassador_id"`
	Currency       money.Currency `json:"currency"`
	AvailableCents int64          `json:"available_cents"`
	PendingCents   int64          `json:"pending_cents"`
	TotalCents     int64          `json:"total_cents"`
	Referrals      int            `json:"referrals"`
	HoldDays       int64          `json:"hold_days"`
	AsOf           time.Time      `json:"as_of"`
}

// Calculate returns floor(total * bp / 10000).
func Calculate(total money.Money, rateBP int64) money.Money {
	return total.Percentage(rateBP)
}

// Summarise splits referrals into available and pending at now.
func Summarise(ambassadorID string, referrals []Referral, hold time.Duration, now time.Time) Earnings {
	e := Earnings{
		AmbassadorID: ambassadorID,
		Currency:     money.ETB,
		Referrals:    len(referrals),
		HoldDays:     int64(hold / (24 * time.Hour)),
		AsOf:         now,
	}
	for i := range referrals {
		r := &referrals[i]
		if i == 0 {
			e.Currency = r.Currency
		}
		if r.Available(hold, now) {
			e.AvailableCents += r.CommissionCents
		} else {
			e.PendingCents += r.CommissionCents
		}
	}
	e.TotalCents = e.AvailableCents + e.PendingCents
	return e
}
