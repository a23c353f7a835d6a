// Package gateway defines the contract every payment provider adapter
// satisfies. The reconciliation engine only talks to providers through it.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
)

// ErrUnavailable marks a verification call that could not reach a
// definitive answer (timeout, transport failure, 5xx). The caller should
// let the provider redeliver.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrMalformedNotification is returned when a webhook body cannot be parsed
var ErrMalformedNotification = errors.New("malformed gateway notification")

// Notification is what a provider claims in its webhook body. None of it is
// trusted beyond routing the verification call.
type Notification struct {
	TransactionRef string `validate:"required"`
	Status         string
	Succeeded      bool
}

// Verification is the provider's authoritative answer for a transaction
type Verification struct {
	TransactionRef string
	Verified       bool
	Status         string
	Amount         money.Money
	ProviderTxID   string
}

// InitRequest starts a hosted payment for a freshly persisted order
type InitRequest struct {
	TransactionRef string
	Amount         money.Money
	OrderNumber    string
	CustomerID     string
	Email          string
	FirstName      string
	LastName       string
	Phone          string
}

// InitResult tells the client where to complete payment
type InitResult struct {
	TransactionRef string `json:"transaction_ref"`
	CheckoutURL    string `json:"checkout_url"`
}

// Gateway is implemented by each provider adapter
type Gateway interface {
	// Name is the route segment and the value stored on orders
	Name() string
	// SignatureHeader is the HTTP header carrying the webhook signature
	SignatureHeader() string
	// VerifySignature checks the raw webhook body. Any malformed input is
	// reported as false, never as an error.
	VerifySignature(payload []byte, signature string) bool
	ParseNotification(payload []byte) (*Notification, error)
	// VerifyTransaction asks the provider directly. A definitive
	// non-success is Verified=false with a nil error; anything that
	// prevents a definitive answer wraps ErrUnavailable.
	VerifyTransaction(ctx context.Context, transactionRef string) (*Verification, error)
	Initialize(ctx context.Context, req InitRequest) (*InitResult, error)
}

// Registry resolves a gateway by name
type Registry map[string]Gateway

// NewRegistry indexes gateways by Name
func NewRegistry(gateways ...Gateway) Registry {
	r := make(Registry, len(gateways))
	for _, g := range gateways {
		r[g.Name()] = g
	}
	return r
}

// Lookup returns the gateway registered under name
func (r Registry) Lookup(name string) (Gateway, bool) {
	g, ok := r[strings.ToLower(name)]
	return g, ok
}

// Names lists the registered gateway names
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// IsRetriableStatus reports whether an HTTP status from a provider should be
// treated as an outage rather than an answer.
func IsRetriableStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// DecimalString holds a provider amount as text. Providers send amounts as
// either JSON strings or JSON numbers; both keep their exact digits.
type DecimalString string

// UnmarshalJSON implements json.Unmarshaler
func (d *DecimalString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = ""
		return nil
	}
	*d = DecimalString(strings.Trim(s, `"`))
	return nil
}
