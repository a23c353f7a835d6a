package settings

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
)

// Handler exposes settings to administrators
type Handler struct {
	store *Store
}

// NewHandler creates a new settings handler
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the settings routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{key}", h.Get)
	r.Put("/{key}", h.Update)
	return r
}

type listResponse struct {
	Settings []Setting `json:"settings"`
	Degraded bool      `json:"degraded"`
}

// List handles GET /
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all := h.store.All(r.Context())
	api.WriteData(w, http.StatusOK, listResponse{Settings: all, Degraded: h.store.Degraded()})
}

// Get handles GET /{key}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.store.Get(r.Context(), key)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeUnknownSetting, err.Error())
		return
	}
	api.WriteData(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// UpdateRequest is the body of PUT /{key}
type UpdateRequest struct {
	Value string `json:"value" validate:"required"`
}

// Update handles PUT /{key}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	actor := middleware.GetActor(r.Context())
	if actor == "" {
		actor = "admin"
	}

	setting, err := h.store.Update(r.Context(), chi.URLParam(r, "key"), req.Value, actor)
	switch {
	case errors.Is(err, ErrUnknownSetting):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeUnknownSetting, err.Error())
	case errors.Is(err, ErrInvalidValue):
		api.BadRequest(w, err.Error())
	case err != nil:
		api.InternalError(w, "failed to update setting")
	default:
		api.WriteData(w, http.StatusOK, setting)
	}
}
