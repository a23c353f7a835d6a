package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }

const (
	AggregateOrder    = "order"
	AggregateReferral = "ambassador_referral"
)

const (
	EventPaymentConfirmed      = "payment.confirmed"
	EventPaymentAmountMismatch = "payment.amount_mismatch"
	EventCommissionRecorded    = "commission.recorded"
	EventCommissionRejected    = "commission.rejected"
)

// PaymentConfirmedData is the data for payment.confirmed events
type PaymentConfirmedData struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	TransactionRef string `json:"transaction_ref"`
	Gateway        string `json:"gateway"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ReferralCode   string `json:"referral_code,omitempty"`
}

// PaymentAmountMismatchData is the data for payment.amount_mismatch events
type PaymentAmountMismatchData struct {
	OrderID        string `json:"order_id"`
	TransactionRef string `json:"transaction_ref"`
	Gateway        string `json:"gateway"`
	ExpectedMinor  int64  `json:"expected_minor"`
	VerifiedMinor  int64  `json:"verified_minor"`
	Currency       string `json:"currency"`
}

// CommissionRecordedData is the data for commission.recorded events
type CommissionRecordedData struct {
	ReferralID       string `json:"referral_id"`
	AmbassadorID     string `json:"ambassador_id"`
	OrderID          string `json:"order_id"`
	CommissionRateBP int64  `json:"commission_rate_bp"`
	CommissionMinor  int64  `json:"commission_minor"`
	Currency         string `json:"currency"`
}

// CommissionRejectedData is the data for commission.rejected events
type CommissionRejectedData struct {
	OrderID      string `json:"order_id"`
	ReferralCode string `json:"referral_code"`
	Reason       string `json:"reason"`
}
