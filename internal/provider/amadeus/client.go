package amadeus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnavailable = errors.New("booking provider unavailable")
	// ErrOrderNotFound on cancel means the order is already gone at the
	// provider. The cancellation saga treats it the same as success.
	ErrOrderNotFound      = errors.New("provider order not found")
	ErrValidationRejected = errors.New("provider rejected booking payload")
)

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		logger:       logger,
	}
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type Order struct {
	OrderID string
	PNR     string
	Status  string
}

// CreateOrder places a flight order. The payload is the storefront's
// booking details, opaque to this client.
func (c *Client) CreateOrder(ctx context.Context, payload map[string]any) (*Order, error) {
	body := map[string]any{"data": payload}
	var resp struct {
		Data struct {
			ID                string `json:"id"`
			AssociatedRecords []struct {
				Reference string `json:"reference"`
			} `json:"associatedRecords"`
		} `json:"data"`
	}
	status, err := c.do(ctx, http.MethodPost, "/v1/booking/flight-orders", body, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return nil, ErrValidationRejected
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, status)
	}
	order := &Order{OrderID: resp.Data.ID, Status: "CONFIRMED"}
	if len(resp.Data.AssociatedRecords) > 0 {
		order.PNR = resp.Data.AssociatedRecords[0].Reference
	}
	return order, nil
}

// CancelOrder releases the order at the provider. 404 maps to
// ErrOrderNotFound so callers can treat already-cancelled as done.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/v1/booking/flight-orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return ErrOrderNotFound
	case status >= 200 && status <= 299:
		return nil
	default:
		return fmt.Errorf("%w: cancel returned http %d", ErrUnavailable, status)
	}
}

func (c *Client) RetrieveOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp struct {
		Data struct {
			ID                string `json:"id"`
			AssociatedRecords []struct {
				Reference string `json:"reference"`
			} `json:"associatedRecords"`
		} `json:"data"`
	}
	status, err := c.do(ctx, http.MethodGet, "/v1/booking/flight-orders/"+url.PathEscape(orderID), nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, status)
	}
	order := &Order{OrderID: resp.Data.ID, Status: "CONFIRMED"}
	if len(resp.Data.AssociatedRecords) > 0 {
		order.PNR = resp.Data.AssociatedRecords[0].Reference
	}
	return order, nil
}

// token fetches (or reuses) the OAuth access token the provider requires.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned http %d", ErrUnavailable, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-30) * time.Second)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) (int, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed", zap.String("path", path), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
