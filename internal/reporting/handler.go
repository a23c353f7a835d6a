// Package reporting serves read-only operational views over orders and
// ambassador commissions.
package reporting

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler handles reporting HTTP requests
type Handler struct {
	orders      order.Store
	commissions *commission.Handler
}

// NewHandler creates a new reporting handler
func NewHandler(orders order.Store, commissions *commission.Handler) *Handler {
	return &Handler{orders: orders, commissions: commissions}
}

// Routes returns the reporting routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{id}", h.GetOrder)

	r.Mount("/ambassadors", h.commissions.Routes())

	return r
}

// ListOrders handles GET /orders?status=PAID&limit=&offset=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if s := r.URL.Query().Get("status"); s != "" {
		status = order.Status(strings.ToUpper(s))
		if !status.Valid() {
			api.BadRequest(w, "unknown status "+s)
			return
		}
	}

	page := api.GetPaginationParams(r, defaultLimit, maxLimit)

	orders, total, err := h.orders.List(r.Context(), order.ListFilter{
		Status: status,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		api.InternalError(w, "failed to list orders")
		return
	}

	api.WritePaginated(w, orders, &api.Pagination{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   int64(total),
		HasMore: page.Offset+len(orders) < total,
	})
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			api.NotFound(w, "order not found")
			return
		}
		api.InternalError(w, "failed to get order")
		return
	}
	api.WriteData(w, http.StatusOK, o)
}
