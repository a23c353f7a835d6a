package reconciliation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

func newTestHandler(h *harness, cfg WebhookConfig) http.Handler {
	return NewHandler(h.engine, gateway.NewRegistry(h.gw), cfg, discardLogger()).Routes()
}

func deliver(handler http.Handler, provider, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/"+provider, strings.NewReader(body))
	req.Header.Set("X-Sig", signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		body     string
		sig      string
		status   int
		code     string
		outcome  Outcome
		provider string
	}{
		{name: "confirmed", body: "TX-1:success", sig: goodSignature, status: http.StatusOK, outcome: OutcomeConfirmed},
		{name: "ignored", body: "TX-1:failed", sig: goodSignature, status: http.StatusOK, outcome: OutcomeIgnored},
		{name: "bad signature", body: "TX-1:success", sig: "forged", status: http.StatusUnauthorized, code: "INVALID_SIGNATURE"},
		{name: "malformed", body: "nonsense", sig: goodSignature, status: http.StatusBadRequest, code: "BAD_REQUEST"},
		{name: "unknown order", body: "TX-9:success", sig: goodSignature, status: http.StatusBadRequest, code: "ORDER_NOT_FOUND"},
		{name: "unknown provider", provider: "paypal", body: "TX-1:success", sig: goodSignature, status: http.StatusNotFound},
		{
			name:   "not verified",
			setup:  func(h *harness) { h.gw.verified = false },
			body:   "TX-1:success",
			sig:    goodSignature,
			status: http.StatusBadRequest,
			code:   "VERIFICATION_FAILED",
		},
		{
			name:   "amount mismatch",
			setup:  func(h *harness) { h.gw.amount = money.New(1, money.ETB) },
			body:   "TX-1:success",
			sig:    goodSignature,
			status: http.StatusBadRequest,
			code:   "AMOUNT_MISMATCH",
		},
		{
			name:   "provider down",
			setup:  func(h *harness) { h.gw.verifyErr = gateway.ErrUnavailable },
			body:   "TX-1:success",
			sig:    goodSignature,
			status: http.StatusInternalServerError,
			code:   "SERVICE_UNAVAILABLE",
		},
		{
			name: "already paid",
			setup: func(h *harness) {
				o := pendingOrder("TX-1", 100000, "")
				o.Status = order.StatusPaid
				h.orders.Put(o)
			},
			body:    "TX-1:success",
			sig:     goodSignature,
			status:  http.StatusOK,
			outcome: OutcomeDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(100000)
			h.orders.Put(pendingOrder("TX-1", 100000, ""))
			if tt.setup != nil {
				tt.setup(h)
			}
			provider := tt.provider
			if provider == "" {
				provider = "chapa"
			}

			rec := deliver(newTestHandler(h, WebhookConfig{}), provider, tt.body, tt.sig)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body struct {
				Data  *Result `json:"data"`
				Error *struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.outcome != "" {
				require.NotNil(t, body.Data)
				assert.Equal(t, tt.outcome, body.Data.Outcome)
			}
			if tt.code != "" {
				require.NotNil(t, body.Error)
				assert.Equal(t, tt.code, body.Error.Code)
			}
		})
	}
}

func TestHandler_BodyLimit(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))
	handler := newTestHandler(h, WebhookConfig{MaxBodyBytes: 16})

	rec := deliver(handler, "chapa", "TX-1:success"+strings.Repeat(" ", 64), goodSignature)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, h.gw.verifyCalls.Load())
}

func TestHandler_ProviderNameIsCaseInsensitive(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))

	rec := deliver(newTestHandler(h, WebhookConfig{}), "Chapa", "TX-1:success", goodSignature)
	assert.Equal(t, http.StatusOK, rec.Code)
}
