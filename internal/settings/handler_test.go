package settings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/middleware"
)

func newTestRouter(t *testing.T) (http.Handler, *memoryRepository) {
	t.Helper()
	repo := newMemoryRepository()
	h := NewHandler(NewStore(repo, discardLogger()))
	return middleware.APIKeyAuth(map[string]string{"k": "ops"})(h.Routes()), repo
}

func TestHandler_List(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data listResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data.Settings, 3)
	assert.False(t, body.Data.Degraded)
}

func TestHandler_Update(t *testing.T) {
	router, repo := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/commission_rate_bp", strings.NewReader(`{"value":"450"}`))
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "450", repo.rows[KeyCommissionRateBP].Value)
	assert.Equal(t, "ops", repo.rows[KeyCommissionRateBP].UpdatedBy)
}

func TestHandler_UpdateErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown key", "/nope", `{"value":"1"}`, http.StatusNotFound},
		{"invalid value", "/commission_rate_bp", `{"value":"lots"}`, http.StatusBadRequest},
		{"missing value", "/commission_rate_bp", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer k")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
