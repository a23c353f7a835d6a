package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
)

// WebhookConfig bounds each delivery.
type WebhookConfig struct {
	Timeout      time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"20s"`
	MaxBodyBytes int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

// Handler receives provider webhooks at POST /{provider}.
type Handler struct {
	engine   *Engine
	gateways gateway.Registry
	config   WebhookConfig
	logger   *slog.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(engine *Engine, gateways gateway.Registry, cfg WebhookConfig, logger *slog.Logger) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		engine:   engine,
		gateways: gateways,
		config:   cfg,
		logger:   logger,
	}
}

// Routes returns the webhook routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.MaxBodyBytes(h.config.MaxBodyBytes))
	r.Post("/{provider}", h.Receive)
	return r
}

// Receive handles POST /{provider}
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateways.Lookup(chi.URLParam(r, "provider"))
	if !ok {
		api.NotFound(w, "unknown payment provider")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ErrCodeBadRequest, "payload too large")
			return
		}
		api.BadRequest(w, "failed to read body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.Timeout)
	defer cancel()

	res, err := h.engine.Process(ctx, gw, payload, r.Header.Get(gw.SignatureHeader()))
	switch {
	case err == nil:
		api.WriteData(w, http.StatusOK, res)
	case errors.Is(err, ErrInvalidSignature):
		api.WriteError(w, http.StatusUnauthorized, api.ErrCodeInvalidSig, "invalid signature")
	case errors.Is(err, gateway.ErrMalformedNotification):
		api.BadRequest(w, "malformed notification")
	case errors.Is(err, ErrVerificationFailed):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeVerification, "payment could not be verified")
	case errors.Is(err, ErrAmountMismatch):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeAmountMismatch, "amount mismatch")
	case errors.Is(err, ErrOrderNotFound):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeOrderNotFound, "order not found")
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		api.WriteError(w, http.StatusInternalServerError, api.ErrCodeServiceUnavail, "verification unavailable, retry later")
	default:
		h.logger.Error("webhook processing failed",
			"gateway", gw.Name(),
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
		api.InternalError(w, "internal error")
	}
}
