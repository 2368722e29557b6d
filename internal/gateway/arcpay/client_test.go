package arcpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "MERCHANT1", "secret", zap.NewNop()).
		WithHTTPClient(server.Client())
}

func TestCreateSession(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "merchant.MERCHANT1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"result":           "SUCCESS",
			"session":          map[string]any{"id": "SESSION0001"},
			"successIndicator": "abc123",
		})
	})

	session, err := client.CreateSession(context.Background(), SessionRequest{
		OrderID:   "pay-1",
		Amount:    decimal.RequireFromString("124.5"),
		Currency:  "USD",
		ReturnURL: "https://travelpay.example/callback",
	})

	require.NoError(t, err)
	assert.Equal(t, "SESSION0001", session.SessionID)
	assert.Equal(t, "abc123", session.SuccessIndicator)
	assert.Equal(t, "INITIATE_CHECKOUT", captured["apiOperation"])
	order := captured["order"].(map[string]any)
	assert.Equal(t, "124.50", order["amount"])
	assert.Equal(t, "USD", order["currency"])
}

func TestCreateSession_NonSuccessResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": "ERROR"})
	})

	_, err := client.CreateSession(context.Background(), SessionRequest{OrderID: "pay-1"})

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetrieveOrder_ParsesTransactionHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order/pay-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"result":               "success",
			"status":               "authenticated",
			"authenticationStatus": "AUTHENTICATION_SUCCESSFUL",
			"amount":               "124.00",
			"currency":             "USD",
			"totalCapturedAmount":  "0",
			"transaction": []map[string]any{
				{
					"transaction": map[string]any{"id": "auth-1", "type": "authentication"},
					"authentication": map[string]any{
						"3ds": map[string]any{"transactionId": "threeds-9"},
					},
					"result": "SUCCESS",
				},
			},
		})
	})

	details, err := client.RetrieveOrder(context.Background(), "pay-1")

	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, details.Status)
	assert.Equal(t, AuthenticationSuccessful, details.AuthenticationStatus)
	assert.False(t, details.Captured())
	assert.Equal(t, "threeds-9", details.AuthenticationTransactionID())
}

func TestRetrieveOrder_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.RetrieveOrder(context.Background(), "pay-1")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCapture_Declined(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/order/pay-1/transaction/txn-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"result":   "FAILURE",
			"response": map[string]any{"gatewayCode": "INSUFFICIENT_FUNDS"},
		})
	})

	result, err := client.Capture(context.Background(), "pay-1", "txn-1", decimal.RequireFromString("50"), "USD")

	assert.ErrorIs(t, err, ErrDeclined)
	require.NotNil(t, result)
	assert.Equal(t, "INSUFFICIENT_FUNDS", result.GatewayCode)
}

func TestRefund_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "REFUND", payload["apiOperation"])
		txn := payload["transaction"].(map[string]any)
		assert.Equal(t, "80.00", txn["amount"])
		json.NewEncoder(w).Encode(map[string]any{
			"result":      "SUCCESS",
			"transaction": map[string]any{"receipt": "RF-42"},
		})
	})

	result, err := client.Refund(context.Background(), "pay-1", "txn-1", decimal.RequireFromString("80"), "USD")

	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.Result)
	assert.Equal(t, "RF-42", result.RefundReference)
}

func TestAuthenticationTransactionID_PrefersNewest(t *testing.T) {
	details := OrderDetails{Transactions: []Transaction{
		{TransactionID: "auth-old", Type: "AUTHENTICATION"},
		{TransactionID: "cap-1", Type: "CAPTURE"},
		{TransactionID: "auth-new", Type: "AUTHENTICATION"},
	}}

	assert.Equal(t, "auth-new", details.AuthenticationTransactionID())
}

func TestAuthenticationTransactionID_NoneFound(t *testing.T) {
	details := OrderDetails{Transactions: []Transaction{
		{TransactionID: "cap-1", Type: "CAPTURE"},
	}}

	assert.Empty(t, details.AuthenticationTransactionID())
}

func TestHostedCheckoutURL(t *testing.T) {
	client := NewClient("https://gateway.example/api/rest/version/72/merchant/M1", "M1", "pw", zap.NewNop())

	assert.Equal(t,
		"https://gateway.example/api/rest/version/72/merchant/M1/checkout/pay/SESSION0001",
		client.HostedCheckoutURL("SESSION0001"))
}
