package commission

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/api"
)

// Handler serves ambassador earnings.
type Handler struct {
	service *Service
}

// NewHandler creates a new commission handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the ambassador routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/referrals", h.Referrals)
	return r
}

// ReferralsResponse is the body of GET /{id}/referrals
type ReferralsResponse struct {
	Earnings  *Earnings  `json:"earnings"`
	Referrals []Referral `json:"referrals"`
}

// Referrals handles GET /{id}/referrals
func (h *Handler) Referrals(w http.ResponseWriter, r *http.Request) {
	earnings, referrals, err := h.service.Earnings(r.Context(), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrAmbassadorNotFound) {
			api.NotFound(w, "ambassador not found")
			return
		}
		api.InternalError(w, "failed to load referrals")
		return
	}
	if referrals == nil {
		referrals = []Referral{}
	}
	api.WriteData(w, http.StatusOK, ReferralsResponse{Earnings: earnings, Referrals: referrals})
}
