// Package order owns orders from checkout until payment is confirmed.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusFulfilling Status = "FULFILLING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// Errors
var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrProductNotFound   = errors.New("product not found")
	ErrOutOfStock        = errors.New("insufficient stock")
	ErrBelowMinimum      = errors.New("order total below minimum")
	ErrCurrencyMismatch  = errors.New("cart mixes currencies")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
)

// forward lists the next state in the fulfilment chain
var forward = map[Status]Status{
	StatusPending:    StatusPaid,
	StatusPaid:       StatusFulfilling,
	StatusFulfilling: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFulfilling, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// CanTransitionTo reports whether moving from s to next is allowed. Orders
// move one step forward at a time; CANCELLED and REFUNDED can be entered from
// any state that is not yet terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled || next == StatusRefunded {
		return true
	}
	return forward[s] == next
}

// Item is one priced line of an order.
type Item struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Order is a customer purchase awaiting or past payment.
type Order struct {
	ID             string         `json:"id"`
	Number         string         `json:"order_number"`
	TransactionRef string         `json:"transaction_ref"`
	CustomerID     uuid.UUID      `json:"customer_id"`
	Status         Status         `json:"status"`
	SubtotalCents  int64          `json:"subtotal_cents"`
	DiscountCents  int64          `json:"discount_cents"`
	TotalCents     int64          `json:"total_cents"`
	Currency       money.Currency `json:"currency"`
	ReferralCode   string         `json:"referral_code,omitempty"`
	Gateway        string         `json:"gateway"`
	Items          []Item         `json:"items,omitempty"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Total returns the amount the customer owes.
func (o *Order) Total() money.Money {
	return money.New(o.TotalCents, o.Currency)
}

// HasReferral reports whether a referral code was attached at checkout.
func (o *Order) HasReferral() bool {
	return o.ReferralCode != ""
}

// Transition moves the order to next.
func (o *Order) Transition(next Status, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = at
	if next == StatusPaid {
		o.PaidAt = &at
	}
	return nil
}

// CheckTotals verifies the stored amounts are consistent with the lines.
func (o *Order) CheckTotals() error {
	var sum int64
	for _, it := range o.Items {
		if it.LineTotalCents != it.UnitPriceCents*int64(it.Quantity) {
			return fmt.Errorf("line %s: total %d != %d x %d", it.ProductID, it.LineTotalCents, it.UnitPriceCents, it.Quantity)
		}
		sum += it.LineTotalCents
	}
	if o.SubtotalCents != sum {
		return fmt.Errorf("subtotal %d != sum of lines %d", o.SubtotalCents, sum)
	}
	if o.TotalCents != o.SubtotalCents-o.DiscountCents {
		return fmt.Errorf("total %d != subtotal %d - discount %d", o.TotalCents, o.SubtotalCents, o.DiscountCents)
	}
	if o.TotalCents < 0 {
		return fmt.Errorf("negative total %d", o.TotalCents)
	}
	return nil
}

// NewTransactionRef returns a fresh gateway reference. ULIDs carry a
// millisecond timestamp plus 80 random bits; uniqueness is still enforced by
// the orders table.
func NewTransactionRef() string {
	return "TX-" + ulid.Make().String()
}

// NewOrderNumber returns a human readable number like ORD-20240131-7QF3ZK.
func NewOrderNumber(at time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), id[len(id)-6:])
}
