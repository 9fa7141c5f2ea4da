package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL   = "https://fragment.com/api"
	DefaultPageURL   = "https://fragment.com/premium/gift"
	defaultUserAgent = "Mozilla/5.0 (compatible; premiumbot/1.0)"
	maxBodyLog       = 512
)

var reImgSrc = regexp.MustCompile(`src="([^"]+)"`)

type Config struct {
	BaseURL     string
	PageURL     string
	UserAgent   string
	AutoRefresh bool
	HTTPClient  *http.Client

	// Override returns the operator-supplied credential, if any.
	Override  func() (Credential, bool)
	Persister Persister
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu           sync.RWMutex
	cred         *Credential
	refreshGroup singleflight.Group
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

// Recipient is the result of a recipient search.
type Recipient struct {
	Handle   string
	Token    string
	Name     string
	PhotoURL string
}

// DisplayName falls back to the handle when the provider sent no name.
func (r *Recipient) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Handle
}

type GiftRequest struct {
	ID     string
	Amount decimal.Decimal
}

// Payment is the transfer the provider expects for a request.
type Payment struct {
	Address    string
	AmountNano uint64
	Payload    string
}

// Account describes the paying wallet. It never contains secret material.
type Account struct {
	Address         string `json:"address"`
	Chain           string `json:"chain"`
	WalletStateInit string `json:"walletStateInit"`
	PublicKey       string `json:"publicKey"`
}

type device struct {
	Platform           string        `json:"platform"`
	AppName            string        `json:"appName"`
	AppVersion         string        `json:"appVersion"`
	MaxProtocolVersion int           `json:"maxProtocolVersion"`
	Features           []interface{} `json:"features"`
}

var defaultDevice = device{
	Platform:           "web",
	AppName:            "premiumbot",
	AppVersion:         "1.0.0",
	MaxProtocolVersion: 2,
	Features: []interface{}{
		"SendTransaction",
		map[string]interface{}{"name": "SendTransaction", "maxMessages": 4},
	},
}

type envelope struct {
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

type searchResponse struct {
	envelope
	Found *struct {
		Recipient string `json:"recipient"`
		Name      string `json:"name"`
		Photo     string `json:"photo"`
	} `json:"found"`
	Recipient string `json:"recipient"`
}

type initResponse struct {
	envelope
	ReqID  string      `json:"req_id"`
	Amount json.Number `json:"amount"`
}

type message struct {
	Address string      `json:"address"`
	Amount  json.Number `json:"amount"`
	Payload string      `json:"payload"`
}

type linkResponse struct {
	envelope
	Transaction *struct {
		Messages []message `json:"messages"`
	} `json:"transaction"`
	CheckParams *struct {
		ID string `json:"id"`
	} `json:"check_params"`
}

type rawRequestResponse struct {
	Body struct {
		Messages []message `json:"messages"`
	} `json:"body"`
}

type checkResponse struct {
	envelope
	Confirmed bool `json:"confirmed"`
}

// SearchRecipient looks up a recipient by handle.
func (c *Client) SearchRecipient(ctx context.Context, query string, months int) (*Recipient, error) {
	var out searchResponse
	err := c.call(ctx, "searchPremiumGiftRecipient", map[string]string{
		"query":  query,
		"months": strconv.Itoa(months),
	}, &out)
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) && isNotFoundMessage(provErr.Message) {
			return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, query)
		}
		return nil, err
	}

	r := &Recipient{Handle: query, Token: out.Recipient}
	if out.Found != nil {
		r.Token = out.Found.Recipient
		r.Name = out.Found.Name
		if m := reImgSrc.FindStringSubmatch(out.Found.Photo); m != nil {
			r.PhotoURL = m[1]
		}
	}
	if r.Token == "" {
		return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, query)
	}
	return r, nil
}

// InitRequest opens a gift request and returns its correlation id.
func (c *Client) InitRequest(ctx context.Context, recipientToken string, months int) (*GiftRequest, error) {
	var out initResponse
	err := c.call(ctx, "initGiftPremiumRequest", map[string]string{
		"recipient": recipientToken,
		"months":    strconv.Itoa(months),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ReqID == "" {
		return nil, &ProviderError{Method: "initGiftPremiumRequest", Message: "response has no req_id"}
	}
	amount := decimal.Zero
	if out.Amount != "" {
		if amount, err = decimal.NewFromString(out.Amount.String()); err != nil {
			return nil, fmt.Errorf("catalog initGiftPremiumRequest: bad amount %q: %w", out.Amount, err)
		}
	}
	return &GiftRequest{ID: out.ReqID, Amount: amount}, nil
}

// ConfirmRequest finalizes a request and returns the transfer to pay it.
// With an account descriptor the provider answers with the transaction
// directly; without one the legacy raw-request endpoint is consulted.
func (c *Client) ConfirmRequest(ctx context.Context, requestID string, account *Account) (*Payment, error) {
	params := map[string]string{
		"id":          requestID,
		"show_sender": "1",
	}
	if account != nil {
		accountJSON, err := json.Marshal(account)
		if err != nil {
			return nil, err
		}
		deviceJSON, err := json.Marshal(defaultDevice)
		if err != nil {
			return nil, err
		}
		params["transaction"] = "1"
		params["account"] = string(accountJSON)
		params["device"] = string(deviceJSON)
	}

	var out linkResponse
	if err := c.call(ctx, "getGiftPremiumLink", params, &out); err != nil {
		return nil, err
	}
	if out.Transaction != nil && len(out.Transaction.Messages) > 0 {
		return toPayment("getGiftPremiumLink", out.Transaction.Messages[0])
	}
	if out.CheckParams == nil || out.CheckParams.ID == "" {
		return nil, &ProviderError{Method: "getGiftPremiumLink", Message: "response has neither transaction nor check_params"}
	}
	return c.rawRequest(ctx, requestID)
}

// CheckRequest reports whether the provider has fulfilled the request.
func (c *Client) CheckRequest(ctx context.Context, requestID string) (bool, error) {
	var out checkResponse
	if err := c.call(ctx, "checkReq", map[string]string{"id": requestID}, &out); err != nil {
		return false, err
	}
	return out.Confirmed, nil
}

func (c *Client) rawRequest(ctx context.Context, requestID string) (*Payment, error) {
	const method = "rawRequest"
	var out rawRequestResponse
	err := c.withCredential(ctx, method, func(cred Credential) error {
		return c.fetchRaw(ctx, cred, requestID, &out)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Body.Messages) == 0 {
		return nil, &ProviderError{Method: method, Message: "no transfer message in response"}
	}
	return toPayment(method, out.Body.Messages[0])
}

func (c *Client) fetchRaw(ctx context.Context, cred Credential, requestID string, out *rawRequestResponse) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/tonkeeper/rawRequest?" + url.Values{
		"id": {requestID},
		"qr": {"1"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, cred)

	body, err := c.send(req, "rawRequest")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("catalog rawRequest: decode: %w", err)
	}
	return nil
}

// call runs one API method with the current credential.
func (c *Client) call(ctx context.Context, method string, params map[string]string, out interface{}) error {
	return c.withCredential(ctx, method, func(cred Credential) error {
		return c.do(ctx, cred, method, params, out)
	})
}

// withCredential runs fn with the current credential, transparently
// refreshing it and retrying once when the provider rejects it. If the
// refresh fails the original error is returned.
func (c *Client) withCredential(ctx context.Context, method string, fn func(Credential) error) error {
	cred, ok := c.Credential()
	if !ok {
		return ErrNotInitialized
	}
	err := fn(cred)
	if err == nil || !IsAuthFailure(err) {
		return err
	}

	log.Printf("catalog: %s rejected credential, refreshing: %v", method, err)
	if rerr := c.Refresh(ctx); rerr != nil {
		log.Printf("catalog: %v", rerr)
		return err
	}
	cred, ok = c.Credential()
	if !ok {
		return err
	}
	return fn(cred)
}

func (c *Client) do(ctx context.Context, cred Credential, method string, params map[string]string, out interface{}) error {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("method", method)

	u := c.cfg.BaseURL + "?" + url.Values{"hash": {cred.Hash}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	c.setHeaders(req, cred)

	body, err := c.send(req, method)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("catalog %s: decode: %w (body: %s)", method, err, truncate(string(body)))
	}
	if env.Error != "" {
		return &ProviderError{Method: method, Message: env.Error}
	}
	if out != nil {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("catalog %s: decode: %w", method, err)
		}
	}
	return nil
}

func (c *Client) send(req *http.Request, method string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: read body: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Method: method, Status: resp.StatusCode, Body: truncate(string(body))}
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, cred Credential) {
	req.Header.Set("Cookie", cred.Token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}

func toPayment(method string, m message) (*Payment, error) {
	if m.Address == "" {
		return nil, &ProviderError{Method: method, Message: "transfer message has no address"}
	}
	amount, err := strconv.ParseUint(m.Amount.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: bad transfer amount %q: %w", method, m.Amount, err)
	}
	return &Payment{Address: m.Address, AmountNano: amount, Payload: m.Payload}, nil
}

func truncate(s string) string {
	if len(s) <= maxBodyLog {
		return s
	}
	return s[:maxBodyLog] + "…"
}
