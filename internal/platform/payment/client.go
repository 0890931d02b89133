// Package payment creates payable orders for sold auctions.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Order is the payable order requested for a sold auction. Amount is in minor
// units.
type Order struct {
	AuctionID string `json:"auction_id"`
	WinnerID  string `json:"winner_id"`
	Amount    int64  `json:"amount"`
	Display   string `json:"display_amount"`
}

// Config configures the payment client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the REST client for the payment/order service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a payment client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("payment: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// CreateOrder asks the payment service for an order and returns its id. The
// auction id is sent as the idempotency key, so a retried call for the same
// auction yields the same order.
func (c *Client) CreateOrder(ctx context.Context, o Order) (string, error) {
	if o.Display == "" {
		o.Display = domain.FormatMinorUnits(o.Amount)
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("payment: encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("payment: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", o.AuctionID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment: create order %s: %w", o.AuctionID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("payment: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return "", fmt.Errorf("payment: create order %s: %w", o.AuctionID, err)
	}

	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("payment: decode order: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("payment: create order %s: empty order id", o.AuctionID)
	}
	return out.OrderID, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
