package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
)

// Handler exposes checkout to authenticated customers.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the customer-facing routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireCustomer)
	r.Post("/checkout", h.Checkout)
	r.Get("/orders/{id}", h.Get)
	return r
}

// CheckoutResponse is returned by POST /checkout
type CheckoutResponse struct {
	Order       *Order `json:"order"`
	CheckoutURL string `json:"checkout_url"`
}

// Checkout handles POST /checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.GetCustomerID(r.Context())

	var req CheckoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	req.CustomerID = customerID

	o, init, err := h.service.CreatePendingOrder(r.Context(), &req)
	switch {
	case err == nil:
		api.WriteData(w, http.StatusCreated, CheckoutResponse{Order: o, CheckoutURL: init.CheckoutURL})
	case errors.Is(err, ErrOutOfStock):
		api.WriteError(w, http.StatusConflict, api.ErrCodeOutOfStock, err.Error())
	case errors.Is(err, ErrBelowMinimum):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBelowMinimum, err.Error())
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrUnknownGateway),
		errors.Is(err, ErrInvalidCoupon):
		api.BadRequest(w, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrCodeServiceUnavail, "payment gateway unavailable, retry later")
	default:
		api.InternalError(w, "failed to create order")
	}
}

// Get handles GET /orders/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.GetCustomerID(r.Context())

	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			api.NotFound(w, "order not found")
			return
		}
		api.InternalError(w, "failed to get order")
		return
	}
	// other customers' orders look absent
	if o.CustomerID != customerID {
		api.NotFound(w, "order not found")
		return
	}
	api.WriteData(w, http.StatusOK, o)
}
