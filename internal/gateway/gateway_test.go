package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedGateway struct{ name string }

func (g namedGateway) Name() string                                    { return g.name }
func (g namedGateway) SignatureHeader() string                         { return "X-Sig" }
func (g namedGateway) VerifySignature([]byte, string) bool             { return false }
func (g namedGateway) ParseNotification([]byte) (*Notification, error) { return nil, nil }
func (g namedGateway) VerifyTransaction(context.Context, string) (*Verification, error) {
	return nil, nil
}
func (g namedGateway) Initialize(context.Context, InitRequest) (*InitResult, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedGateway{"chapa"}, namedGateway{"telebirr"})

	g, ok := r.Lookup("chapa")
	require.True(t, ok)
	assert.Equal(t, "chapa", g.Name())

	_, ok = r.Lookup("Telebirr")
	assert.True(t, ok)

	_, ok = r.Lookup("paypal")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"chapa", "telebirr"}, r.Names())
}

func TestDecimalString(t *testing.T) {
	var v struct {
		A DecimalString `json:"a"`
		B DecimalString `json:"b"`
		C DecimalString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1000.00","b":1000.50,"c":null}`), &v))

	assert.Equal(t, DecimalString("1000.00"), v.A)
	assert.Equal(t, DecimalString("1000.50"), v.B)
	assert.Equal(t, DecimalString(""), v.C)
}

func TestIsRetriableStatus(t *testing.T) {
	assert.True(t, IsRetriableStatus(http.StatusInternalServerError))
	assert.True(t, IsRetriableStatus(http.StatusBadGateway))
	assert.True(t, IsRetriableStatus(http.StatusTooManyRequests))
	assert.False(t, IsRetriableStatus(http.StatusNotFound))
	assert.False(t, IsRetriableStatus(http.StatusOK))
}
