// Package telebirr provides the Telebirr payment gateway adapter. Webhooks
// are authenticated with an RSA PKCS#1 v1.5 signature over the SHA-256 of
// the raw body.
package telebirr

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
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
const Name = "telebirr"

// SignatureHeader carries the base64 RSA signature of the webhook body
const SignatureHeader = "X-Telebirr-Signature"

const (
	notifyStatusCompleted = "Completed"
	orderStatusPaid       = "PAY_SUCCESS"
	resultSuccess         = "SUCCESS"
)

const maxResponseBytes = 1 << 20

// Config holds Telebirr adapter configuration.
type Config struct {
	BaseURL      string        `envconfig:"TELEBIRR_BASE_URL" default:"https://apiapp.ethiotelecom.et"`
	CheckoutURL  string        `envconfig:"TELEBIRR_CHECKOUT_URL" default:"https://app.ethiotelecom.et/payment/web/paygate"`
	AppID        string        `envconfig:"TELEBIRR_APP_ID"`
	AppKey       string        `envconfig:"TELEBIRR_APP_KEY"`
	MerchantCode string        `envconfig:"TELEBIRR_MERCHANT_CODE"`
	PublicKey    string        `envconfig:"TELEBIRR_PUBLIC_KEY"`
	NotifyURL    string        `envconfig:"TELEBIRR_NOTIFY_URL"`
	Timeout      time.Duration `envconfig:"TELEBIRR_TIMEOUT" default:"10s"`
}

// notification is the body Telebirr posts to the notify URL.
type notification struct {
	MerchOrderID   string                `json:"merch_order_id"`
	PaymentOrderID string                `json:"payment_order_id"`
	TradeStatus    string                `json:"trade_status"`
	TotalAmount    gateway.DecimalString `json:"total_amount"`
	TransCurrency  string                `json:"trans_currency"`
	NotifyTime     string                `json:"notify_time"`
}

type queryOrderRequest struct {
	AppID        string `json:"appid"`
	MerchantCode string `json:"merch_code"`
	MerchOrderID string `json:"merch_order_id"`
}

type queryOrderResponse struct {
	Result     string `json:"result"`
	Code       string `json:"code"`
	Msg        string `json:"msg"`
	BizContent *struct {
		MerchOrderID   string                `json:"merch_order_id"`
		PaymentOrderID string                `json:"payment_order_id"`
		OrderStatus    string                `json:"order_status"`
		TotalAmount    gateway.DecimalString `json:"total_amount"`
		TransCurrency  string                `json:"trans_currency"`
	} `json:"biz_content"`
}

type preOrderRequest struct {
	AppID         string `json:"appid"`
	MerchantCode  string `json:"merch_code"`
	MerchOrderID  string `json:"merch_order_id"`
	Title         string `json:"title"`
	TotalAmount   string `json:"total_amount"`
	TransCurrency string `json:"trans_currency"`
	NotifyURL     string `json:"notify_url,omitempty"`
}

type preOrderResponse struct {
	Result     string `json:"result"`
	Msg        string `json:"msg"`
	BizContent *struct {
		PrepayID string `json:"prepay_id"`
	} `json:"biz_content"`
}

// Adapter implements gateway.Gateway for Telebirr.
type Adapter struct {
	config     Config
	publicKey  *rsa.PublicKey
	httpClient *http.Client
	logger     *slog.Logger
}

var _ gateway.Gateway = (*Adapter)(nil)

// NewAdapter creates a new Telebirr adapter. An empty public key is allowed
// but every webhook will then fail signature verification.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	a := &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("gateway", Name),
	}

	if cfg.PublicKey == "" {
		a.logger.Warn("telebirr public key not configured, webhooks will be rejected")
		return a, nil
	}

	pub, err := ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing telebirr public key: %w", err)
	}
	a.publicKey = pub
	return a, nil
}

// ParsePublicKey accepts a PEM block (PKIX or PKCS#1) or the bare base64 DER
// Telebirr hands out in its merchant portal.
func ParsePublicKey(key string) (*rsa.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(key)); block != nil {
		der = block.Bytes
	} else {
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(key), ""))
		if err != nil {
			return nil, errors.New("key is neither PEM nor base64 DER")
		}
		der = raw
	}

	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("key is not an RSA public key")
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

// Name implements gateway.Gateway.
func (a *Adapter) Name() string { return Name }

// SignatureHeader implements gateway.Gateway.
func (a *Adapter) SignatureHeader() string { return SignatureHeader }

// VerifySignature implements gateway.Gateway.
func (a *Adapter) VerifySignature(payload []byte, signature string) bool {
	return VerifySignature(payload, signature, a.publicKey)
}

// VerifySignature reports whether signature is a base64 RSA PKCS#1 v1.5
// SHA-256 signature of payload under pub.
func VerifySignature(payload []byte, signature string, pub *rsa.PublicKey) bool {
	if pub == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	digest := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// ParseNotification implements gateway.Gateway.
func (a *Adapter) ParseNotification(payload []byte) (*gateway.Notification, error) {
	var p notification
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedNotification, err)
	}

	n := &gateway.Notification{
		TransactionRef: p.MerchOrderID,
		Status:         p.TradeStatus,
		Succeeded:      strings.EqualFold(p.TradeStatus, notifyStatusCompleted),
	}
	if err := api.Validate.Struct(n); err != nil {
		return nil, fmt.Errorf("%w: missing merch_order_id", gateway.ErrMalformedNotification)
	}
	return n, nil
}

// VerifyTransaction implements gateway.Gateway.
func (a *Adapter) VerifyTransaction(ctx context.Context, transactionRef string) (*gateway.Verification, error) {
	var qr queryOrderResponse
	status, err := a.post(ctx, "/payment/v1/merchant/queryOrder", queryOrderRequest{
		AppID:        a.config.AppID,
		MerchantCode: a.config.MerchantCode,
		MerchOrderID: transactionRef,
	}, &qr)
	if err != nil {
		return nil, fmt.Errorf("%w: telebirr query %s: %v", gateway.ErrUnavailable, transactionRef, err)
	}
	if gateway.IsRetriableStatus(status) {
		return nil, fmt.Errorf("%w: telebirr query %s: status=%d", gateway.ErrUnavailable, transactionRef, status)
	}

	unverified := &gateway.Verification{TransactionRef: transactionRef}

	if status >= 400 || !strings.EqualFold(qr.Result, resultSuccess) || qr.BizContent == nil {
		a.logger.Warn("telebirr query did not confirm payment",
			"merch_order_id", transactionRef,
			"http_status", status,
			"result", qr.Result,
			"code", qr.Code,
			"msg", qr.Msg,
		)
		unverified.Status = qr.Result
		return unverified, nil
	}

	biz := qr.BizContent
	unverified.Status = biz.OrderStatus
	unverified.ProviderTxID = biz.PaymentOrderID

	if biz.OrderStatus != orderStatusPaid {
		return unverified, nil
	}
	if biz.MerchOrderID != transactionRef {
		a.logger.Warn("telebirr query returned a different order",
			"requested", transactionRef,
			"returned", biz.MerchOrderID,
		)
		return unverified, nil
	}

	amount, err := money.ParseMajor(string(biz.TotalAmount), money.Currency(strings.ToUpper(biz.TransCurrency)))
	if err != nil {
		a.logger.Warn("telebirr query returned an unparseable amount",
			"merch_order_id", transactionRef,
			"amount", string(biz.TotalAmount),
			"error", err,
		)
		return unverified, nil
	}

	a.logger.Info("telebirr transaction verified",
		"merch_order_id", transactionRef,
		"amount_minor", amount.AmountMinor,
		"currency", amount.Currency,
	)

	return &gateway.Verification{
		TransactionRef: transactionRef,
		Verified:       true,
		Status:         biz.OrderStatus,
		Amount:         amount,
		ProviderTxID:   biz.PaymentOrderID,
	}, nil
}

// Initialize implements gateway.Gateway.
func (a *Adapter) Initialize(ctx context.Context, in gateway.InitRequest) (*gateway.InitResult, error) {
	a.logger.Info("creating telebirr pre-order",
		"merch_order_id", in.TransactionRef,
		"order_number", in.OrderNumber,
		"amount_minor", in.Amount.AmountMinor,
	)

	var pr preOrderResponse
	status, err := a.post(ctx, "/payment/v1/merchant/preOrder", preOrderRequest{
		AppID:         a.config.AppID,
		MerchantCode:  a.config.MerchantCode,
		MerchOrderID:  in.TransactionRef,
		Title:         in.OrderNumber,
		TotalAmount:   in.Amount.MajorString(),
		TransCurrency: string(in.Amount.Currency),
		NotifyURL:     a.config.NotifyURL,
	}, &pr)
	if err != nil {
		return nil, fmt.Errorf("%w: telebirr pre-order: %v", gateway.ErrUnavailable, err)
	}
	if status >= 400 || !strings.EqualFold(pr.Result, resultSuccess) || pr.BizContent == nil || pr.BizContent.PrepayID == "" {
		return nil, fmt.Errorf("telebirr api error: status=%d result=%s msg=%s", status, pr.Result, pr.Msg)
	}

	q := url.Values{}
	q.Set("prepay_id", pr.BizContent.PrepayID)
	q.Set("appid", a.config.AppID)

	return &gateway.InitResult{
		TransactionRef: in.TransactionRef,
		CheckoutURL:    a.config.CheckoutURL + "?" + q.Encode(),
	}, nil
}

// post sends a JSON request and decodes a JSON response into out. Decoding
// is skipped for statuses that signal an outage.
func (a *Adapter) post(ctx context.Context, path string, in, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(a.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-APP-Key", a.config.AppID)
	req.Header.Set("Authorization", a.config.AppKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if gateway.IsRetriableStatus(resp.StatusCode) {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.StatusCode, nil
}
