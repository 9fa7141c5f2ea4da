package gateway

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
)

const createPath = "/api/v1/order/create-transaction"

// APIError describes a failed session creation.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: create transaction: status %d, code %d: %s", e.Status, e.Code, e.Message)
}

type Config struct {
	BaseURL     string
	Token       string
	NotifyURL   string
	RedirectURL string
	HTTPClient  *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// Enabled reports whether the client has enough configuration to open sessions.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != "" && c.cfg.Token != "" && c.cfg.NotifyURL != ""
}

// Session is an opened custodial payment session.
type Session struct {
	TradeID        string
	OrderID        string
	Amount         string
	ActualAmount   string
	Token          string
	ExpirationTime int64
	PaymentURL     string
}

type createResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Data       *struct {
		TradeID        string      `json:"trade_id"`
		OrderID        string      `json:"order_id"`
		Amount         json.Number `json:"amount"`
		ActualAmount   json.Number `json:"actual_amount"`
		Token          string      `json:"token"`
		ExpirationTime int64       `json:"expiration_time"`
		PaymentURL     string      `json:"payment_url"`
	} `json:"data"`
}

// CreateTransaction opens a session for orderID charging amount.
func (c *Client) CreateTransaction(ctx context.Context, orderID string, amount decimal.Decimal) (*Session, error) {
	if !c.Enabled() {
		return nil, errors.New("gateway: not configured")
	}

	fields := map[string]string{
		"order_id":   orderID,
		"amount":     amount.StringFixed(2),
		"notify_url": c.cfg.NotifyURL,
	}
	if c.cfg.RedirectURL != "" {
		fields["redirect_url"] = c.cfg.RedirectURL
	}
	payload := map[string]interface{}{
		"order_id":   orderID,
		"amount":     json.Number(fields["amount"]),
		"notify_url": c.cfg.NotifyURL,
		"signature":  Sign(fields, c.cfg.Token),
	}
	if c.cfg.RedirectURL != "" {
		payload["redirect_url"] = c.cfg.RedirectURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+createPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: create transaction: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}

	var out createResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: string(raw)}
	}
	if resp.StatusCode != http.StatusOK || out.StatusCode != http.StatusOK || out.Data == nil {
		return nil, &APIError{Status: resp.StatusCode, Code: out.StatusCode, Message: out.Message}
	}

	d := out.Data
	return &Session{
		TradeID:        d.TradeID,
		OrderID:        d.OrderID,
		Amount:         d.Amount.String(),
		ActualAmount:   d.ActualAmount.String(),
		Token:          d.Token,
		ExpirationTime: d.ExpirationTime,
		PaymentURL:     d.PaymentURL,
	}, nil
}
