// Package chapa provides the Chapa payment gateway adapter. Webhooks are
// authenticated with an HMAC-SHA256 of the raw body.
package chapa

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
)

// Name is the route segment and stored gateway value
const Name = "chapa"

// SignatureHeader carries the hex HMAC of the webhook body
const SignatureHeader = "Chapa-Signature"

const statusSuccess = "success"

// maxResponseBytes bounds what we read from the provider
const maxResponseBytes = 1 << 20

// Config holds Chapa adapter configuration.
type Config struct {
	BaseURL       string        `envconfig:"CHAPA_BASE_URL" default:"https://api.chapa.co"`
	SecretKey     string        `envconfig:"CHAPA_SECRET_KEY"`
	WebhookSecret string        `envconfig:"CHAPA_WEBHOOK_SECRET"`
	CallbackURL   string        `envconfig:"CHAPA_CALLBACK_URL"`
	ReturnURL     string        `envconfig:"CHAPA_RETURN_URL"`
	Timeout       time.Duration `envconfig:"CHAPA_TIMEOUT" default:"10s"`
}

// webhookPayload is the body Chapa posts on charge events.
type webhookPayload struct {
	Event     string                `json:"event"`
	TxRef     string                `json:"tx_ref"`
	Reference string                `json:"reference"`
	Status    string                `json:"status"`
	Amount    gateway.DecimalString `json:"amount"`
	Currency  string                `json:"currency"`
}

// verifyResponse is the body of GET /v1/transaction/verify/{tx_ref}.
type verifyResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		TxRef     string                `json:"tx_ref"`
		Reference string                `json:"reference"`
		Status    string                `json:"status"`
		Amount    gateway.DecimalString `json:"amount"`
		Currency  string                `json:"currency"`
	} `json:"data"`
}

// initializeRequest is the body of POST /v1/transaction/initialize.
type initializeRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	TxRef       string `json:"tx_ref"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

type initializeResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// Adapter implements gateway.Gateway for Chapa.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ gateway.Gateway = (*Adapter)(nil)

// NewAdapter creates a new Chapa adapter.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("gateway", Name),
	}
}

// Name implements gateway.Gateway.
func (a *Adapter) Name() string { return Name }

// SignatureHeader implements gateway.Gateway.
func (a *Adapter) SignatureHeader() string { return SignatureHeader }

// VerifySignature implements gateway.Gateway.
func (a *Adapter) VerifySignature(payload []byte, signature string) bool {
	return VerifySignature(payload, signature, a.config.WebhookSecret)
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// payload under secret. Comparison is constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseNotification implements gateway.Gateway.
func (a *Adapter) ParseNotification(payload []byte) (*gateway.Notification, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedNotification, err)
	}

	n := &gateway.Notification{
		TransactionRef: p.TxRef,
		Status:         p.Status,
		Succeeded:      strings.EqualFold(p.Status, statusSuccess),
	}
	if err := api.Validate.Struct(n); err != nil {
		return nil, fmt.Errorf("%w: missing tx_ref", gateway.ErrMalformedNotification)
	}
	return n, nil
}

// VerifyTransaction implements gateway.Gateway.
func (a *Adapter) VerifyTransaction(ctx context.Context, transactionRef string) (*gateway.Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/transaction/verify/%s", strings.TrimRight(a.config.BaseURL, "/"), url.PathEscape(transactionRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.SecretKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: chapa verify %s: %v", gateway.ErrUnavailable, transactionRef, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: chapa verify %s: reading body: %v", gateway.ErrUnavailable, transactionRef, err)
	}

	if gateway.IsRetriableStatus(resp.StatusCode) {
		return nil, fmt.Errorf("%w: chapa verify %s: status=%d", gateway.ErrUnavailable, transactionRef, resp.StatusCode)
	}

	unverified := &gateway.Verification{TransactionRef: transactionRef}

	if resp.StatusCode >= 400 {
		a.logger.Warn("chapa rejected verification",
			"tx_ref", transactionRef,
			"http_status", resp.StatusCode,
			"body", string(body),
		)
		unverified.Status = fmt.Sprintf("http_%d", resp.StatusCode)
		return unverified, nil
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("%w: chapa verify %s: decoding body: %v", gateway.ErrUnavailable, transactionRef, err)
	}
	if vr.Data == nil {
		unverified.Status = vr.Status
		return unverified, nil
	}

	unverified.Status = vr.Data.Status
	unverified.ProviderTxID = vr.Data.Reference

	if !strings.EqualFold(vr.Status, statusSuccess) || !strings.EqualFold(vr.Data.Status, statusSuccess) {
		return unverified, nil
	}
	if vr.Data.TxRef != transactionRef {
		a.logger.Warn("chapa verification returned a different tx_ref",
			"requested", transactionRef,
			"returned", vr.Data.TxRef,
		)
		return unverified, nil
	}

	currency := money.Currency(strings.ToUpper(vr.Data.Currency))
	amount, err := money.ParseMajor(string(vr.Data.Amount), currency)
	if err != nil {
		a.logger.Warn("chapa verification returned an unparseable amount",
			"tx_ref", transactionRef,
			"amount", string(vr.Data.Amount),
			"error", err,
		)
		return unverified, nil
	}

	a.logger.Info("chapa transaction verified",
		"tx_ref", transactionRef,
		"amount_minor", amount.AmountMinor,
		"currency", amount.Currency,
	)

	return &gateway.Verification{
		TransactionRef: transactionRef,
		Verified:       true,
		Status:         vr.Data.Status,
		Amount:         amount,
		ProviderTxID:   vr.Data.Reference,
	}, nil
}

// Initialize implements gateway.Gateway.
func (a *Adapter) Initialize(ctx context.Context, in gateway.InitRequest) (*gateway.InitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(initializeRequest{
		Amount:      in.Amount.MajorString(),
		Currency:    string(in.Amount.Currency),
		TxRef:       in.TransactionRef,
		Email:       in.Email,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		PhoneNumber: in.Phone,
		CallbackURL: a.config.CallbackURL,
		ReturnURL:   a.config.ReturnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(a.config.BaseURL, "/") + "/v1/transaction/initialize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.SecretKey)

	a.logger.Info("initializing chapa payment",
		"tx_ref", in.TransactionRef,
		"order_number", in.OrderNumber,
		"amount_minor", in.Amount.AmountMinor,
	)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: chapa initialize: %v", gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chapa api error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var ir initializeResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if ir.Data == nil || ir.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("chapa api error: no checkout url: %s", ir.Message)
	}

	return &gateway.InitResult{
		TransactionRef: in.TransactionRef,
		CheckoutURL:    ir.Data.CheckoutURL,
	}, nil
}
