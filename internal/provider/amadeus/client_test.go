package amadeus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "client-1", r.FormValue("client_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   1799,
		})
	})
	mux.HandleFunc("/", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, "client-1", "shh", zap.NewNop()).
		WithHTTPClient(server.Client())
	return client, &tokenCalls
}

func TestCreateOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/booking/flight-orders", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id": "AMA-77",
				"associatedRecords": []map[string]any{
					{"reference": "XK9PQR"},
				},
			},
		})
	})

	order, err := client.CreateOrder(context.Background(), map[string]any{"type": "flight-order"})

	require.NoError(t, err)
	assert.Equal(t, "AMA-77", order.OrderID)
	assert.Equal(t, "XK9PQR", order.PNR)
}

func TestCreateOrder_ValidationRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.CreateOrder(context.Background(), map[string]any{})

	assert.ErrorIs(t, err, ErrValidationRejected)
}

func TestCancelOrder_NotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/booking/flight-orders/AMA-77", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.CancelOrder(context.Background(), "AMA-77")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelOrder_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, client.CancelOrder(context.Background(), "AMA-77"))
}

func TestCancelOrder_ServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.CancelOrder(context.Background(), "AMA-77")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	client, tokenCalls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.CancelOrder(context.Background(), "AMA-1"))
	require.NoError(t, client.CancelOrder(context.Background(), "AMA-2"))

	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls))
}
