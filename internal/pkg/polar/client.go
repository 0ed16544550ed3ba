package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds Polar API configuration
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client represents the Polar checkout API client
type Client struct {
	httpClient *http.Client
	config     Config
}

// CreateCheckoutRequest represents a custom-price checkout creation request
type CreateCheckoutRequest struct {
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	SuccessURL  string            `json:"success_url"`
	CustomerID  string            `json:"external_customer_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateCheckoutResponse represents the created checkout session
type CreateCheckoutResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	ExpiresAt  string `json:"expires_at"`
	ClientSecr string `json:"client_secret"`
}

// NewClient creates a new Polar API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

// CreateCheckout creates a checkout session and returns its redirect URL
func (c *Client) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("validation error: amount must be > 0")
	}
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("polar client is not initialized")
	}
	if strings.TrimSpace(c.config.BaseURL) == "" {
		return nil, fmt.Errorf("polar config error: base_url is empty")
	}
	if strings.TrimSpace(c.config.AccessToken) == "" {
		return nil, fmt.Errorf("polar config error: access_token is empty")
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode polar request: %w", err)
	}

	base := strings.TrimRight(c.config.BaseURL, "/")
	url := base + "/v1/checkouts"

	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("polar api call failed: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("polar api call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polar api call failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("polar api returned non-2xx status: %d, body: %s", resp.StatusCode, string(body))
	}

	var out CreateCheckoutResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse polar response: %w", err)
	}

	return &out, nil
}
