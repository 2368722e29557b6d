package arcpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable covers transport failures, timeouts and non-2xx
	// replies. The outcome at the gateway is unknown, so callers must not
	// retry a mutation with the same transaction id.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrDeclined is a business outcome, not an infrastructure failure.
	ErrDeclined = errors.New("payment declined by gateway")
)

const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"

	StatusCaptured      = "CAPTURED"
	StatusAuthenticated = "AUTHENTICATED"

	AuthenticationSuccessful = "AUTHENTICATION_SUCCESSFUL"
	AuthenticationPending    = "AUTHENTICATION_PENDING"

	txnTypeAuthentication = "AUTHENTICATION"
)

type Client struct {
	baseURL    string
	merchantID string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, merchantID, password string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		password:   password,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// WithHTTPClient replaces the transport, used by tests against httptest.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type SessionRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
	Description string
}

type Session struct {
	SessionID        string
	SuccessIndicator string
}

type Transaction struct {
	TransactionID        string
	Type                 string
	Result               string
	ThreeDSTransactionID string
	Timestamp            time.Time
}

type OrderDetails struct {
	Result                string
	Status                string
	AuthenticationStatus  string
	Amount                decimal.Decimal
	Currency              string
	TotalCapturedAmount   decimal.Decimal
	TotalAuthorizedAmount decimal.Decimal
	Transactions          []Transaction
}

// Captured reports whether any funds have moved for this order.
func (o OrderDetails) Captured() bool {
	return o.TotalCapturedAmount.IsPositive()
}

// AuthenticationTransactionID walks the transaction history newest-first
// looking for the 3DS authentication step, preferring the nested 3DS
// transaction id over the order-level one.
func (o OrderDetails) AuthenticationTransactionID() string {
	for i := len(o.Transactions) - 1; i >= 0; i-- {
		t := o.Transactions[i]
		if !strings.EqualFold(t.Type, txnTypeAuthentication) {
			continue
		}
		if t.ThreeDSTransactionID != "" {
			return t.ThreeDSTransactionID
		}
		return t.TransactionID
	}
	return ""
}

type OperationResult struct {
	Result          string
	GatewayCode     string
	RefundReference string
}

// CreateSession opens a hosted-checkout session. No session exists at the
// gateway unless this returns nil error.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	payload := map[string]any{
		"apiOperation": "INITIATE_CHECKOUT",
		"interaction": map[string]any{
			"operation": "PURCHASE",
			"returnUrl": req.ReturnURL,
			"cancelUrl": req.CancelURL,
		},
		"order": map[string]any{
			"id":          req.OrderID,
			"amount":      req.Amount.StringFixed(2),
			"currency":    req.Currency,
			"description": req.Description,
		},
	}

	var resp struct {
		Result  string `json:"result"`
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		SuccessIndicator string `json:"successIndicator"`
	}
	if err := c.do(ctx, http.MethodPost, "/session", payload, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Result, ResultSuccess) || resp.Session.ID == "" {
		return nil, fmt.Errorf("%w: session create returned %q", ErrUnavailable, resp.Result)
	}
	return &Session{SessionID: resp.Session.ID, SuccessIndicator: resp.SuccessIndicator}, nil
}

// RetrieveOrder is the single source of ground truth for what actually
// happened to a purchase. Redirect parameters are never trusted instead.
func (c *Client) RetrieveOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/order/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toDetails(), nil
}

// Capture moves authorized funds. txnID must be freshly minted per attempt;
// reusing one is never valid.
func (c *Client) Capture(ctx context.Context, orderID, txnID string, amount decimal.Decimal, currency string) (*OperationResult, error) {
	return c.transaction(ctx, orderID, txnID, map[string]any{
		"apiOperation": "CAPTURE",
		"transaction": map[string]any{
			"amount":   amount.StringFixed(2),
			"currency": currency,
		},
	})
}

// Void cancels an authorization before capture.
func (c *Client) Void(ctx context.Context, orderID, txnID, targetTxnID string) (*OperationResult, error) {
	return c.transaction(ctx, orderID, txnID, map[string]any{
		"apiOperation": "VOID",
		"transaction": map[string]any{
			"targetTransactionId": targetTxnID,
		},
	})
}

// Refund returns captured funds.
func (c *Client) Refund(ctx context.Context, orderID, txnID string, amount decimal.Decimal, currency string) (*OperationResult, error) {
	return c.transaction(ctx, orderID, txnID, map[string]any{
		"apiOperation": "REFUND",
		"transaction": map[string]any{
			"amount":   amount.StringFixed(2),
			"currency": currency,
		},
	})
}

// HostedCheckoutURL builds the gateway-hosted payment page URL the browser
// is redirected to after a session is created.
func (c *Client) HostedCheckoutURL(sessionID string) string {
	return fmt.Sprintf("%s/checkout/pay/%s", c.baseURL, sessionID)
}

func (c *Client) transaction(ctx context.Context, orderID, txnID string, payload map[string]any) (*OperationResult, error) {
	var resp struct {
		Result   string `json:"result"`
		Response struct {
			GatewayCode string `json:"gatewayCode"`
		} `json:"response"`
		Transaction struct {
			Receipt string `json:"receipt"`
		} `json:"transaction"`
	}
	path := fmt.Sprintf("/order/%s/transaction/%s", orderID, txnID)
	if err := c.do(ctx, http.MethodPut, path, payload, &resp); err != nil {
		return nil, err
	}
	result := &OperationResult{
		Result:          strings.ToUpper(resp.Result),
		GatewayCode:     resp.Response.GatewayCode,
		RefundReference: resp.Transaction.Receipt,
	}
	if result.Result != ResultSuccess {
		return result, fmt.Errorf("%w: %s", ErrDeclined, resp.Response.GatewayCode)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth("merchant."+c.merchantID, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		c.logger.Warn("gateway returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
		return fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type orderResponse struct {
	Result                string          `json:"result"`
	Status                string          `json:"status"`
	AuthenticationStatus  string          `json:"authenticationStatus"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	TotalCapturedAmount   decimal.Decimal `json:"totalCapturedAmount"`
	TotalAuthorizedAmount decimal.Decimal `json:"totalAuthorizedAmount"`
	Transaction           []struct {
		Transaction struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"transaction"`
		Authentication struct {
			ThreeDS struct {
				TransactionID string `json:"transactionId"`
			} `json:"3ds"`
		} `json:"authentication"`
		Result    string    `json:"result"`
		Timestamp time.Time `json:"timeOfRecord"`
	} `json:"transaction"`
}

func (r orderResponse) toDetails() *OrderDetails {
	details := &OrderDetails{
		Result:                strings.ToUpper(r.Result),
		Status:                strings.ToUpper(r.Status),
		AuthenticationStatus:  strings.ToUpper(r.AuthenticationStatus),
		Amount:                r.Amount,
		Currency:              r.Currency,
		TotalCapturedAmount:   r.TotalCapturedAmount,
		TotalAuthorizedAmount: r.TotalAuthorizedAmount,
	}
	for _, t := range r.Transaction {
		details.Transactions = append(details.Transactions, Transaction{
			TransactionID:        t.Transaction.ID,
			Type:                 strings.ToUpper(t.Transaction.Type),
			Result:               strings.ToUpper(t.Result),
			ThreeDSTransactionID: t.Authentication.ThreeDS.TransactionID,
			Timestamp:            t.Timestamp,
		})
	}
	return details
}
