package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated             Status = "created"
	StatusWaitingUserPayment  Status = "waiting_user_payment"
	StatusProcessingPayment   Status = "processing_payment"
	StatusBroadcasting        Status = "broadcasting"
	StatusBroadcasted         Status = "broadcasted"
	StatusWaitingConfirmation Status = "waiting_confirmation"
	StatusCompleted           Status = "completed"
	StatusExpired             Status = "expired"
	StatusError               Status = "error"
)

// Terminal reports whether no further transition is expected for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusError:
		return true
	}
	return false
}

// ChainPayment is the transfer the upstream provider expects for a request.
type ChainPayment struct {
	Address    string `json:"address"`
	AmountNano uint64 `json:"amount_nano"`
	Payload    string `json:"payload"`
}

// GatewaySession is the custodial payment session opened for a request.
type GatewaySession struct {
	TradeID      string `json:"trade_id"`
	OrderID      string `json:"order_id"`
	ActualAmount string `json:"actual_amount"`
	Token        string `json:"token"`
	PaymentURL   string `json:"payment_url"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Request is one upstream gift request belonging to an order.
type Request struct {
	ID        string          `json:"id"`
	Recipient string          `json:"recipient"`
	Months    int             `json:"months"`
	Upstream  decimal.Decimal `json:"upstream_amount"`
	Price     decimal.Decimal `json:"price"`
	Chain     ChainPayment    `json:"chain"`
	Gateway   *GatewaySession `json:"gateway,omitempty"`
	Status    Status          `json:"status"`
}

type Order struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	ChatID       string          `json:"chat_id"`
	ExternalIDs  []string        `json:"external_ids"`
	Recipients   []string        `json:"recipients"`
	Months       int             `json:"months"`
	Status       Status          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	CryptoAmount string          `json:"crypto_amount,omitempty"`
	Rail         string          `json:"rail,omitempty"`
	Requests     []Request       `json:"requests"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Request returns a copy of the request with the given correlation id.
func (o *Order) Request(id string) (Request, bool) {
	for _, r := range o.Requests {
		if r.ID == id {
			return r, true
		}
	}
	return Request{}, false
}

// Unsent sums the price of requests that never reached the chain: failed
// before broadcast or never attempted.
func (o *Order) Unsent() decimal.Decimal {
	total := decimal.Zero
	for _, r := range o.Requests {
		switch r.Status {
		case StatusBroadcasting, StatusBroadcasted, StatusWaitingConfirmation, StatusCompleted:
			continue
		}
		total = total.Add(r.Price)
	}
	return total
}

// Open reports whether any request of the order is still non-terminal.
func (o *Order) Open() bool {
	for _, r := range o.Requests {
		if !r.Status.Terminal() {
			return true
		}
	}
	return false
}

func (o *Order) clone() *Order {
	c := *o
	c.ExternalIDs = append([]string(nil), o.ExternalIDs...)
	c.Recipients = append([]string(nil), o.Recipients...)
	c.Requests = make([]Request, len(o.Requests))
	for i, r := range o.Requests {
		c.Requests[i] = r
		if r.Gateway != nil {
			g := *r.Gateway
			c.Requests[i].Gateway = &g
		}
	}
	return &c
}

// Patch holds the fields to merge into an order. Nil fields are left untouched;
// slices are unioned; Request is upserted by ID.
type Patch struct {
	ChatID       *string
	Months       *int
	Status       *Status
	Amount       *decimal.Decimal
	CryptoAmount *string
	Rail         *string
	Error        *string
	ExternalIDs  []string
	Recipients   []string
	Request      *Request
	DropRequest  string
}

func (p Patch) apply(o *Order) {
	if p.ChatID != nil {
		o.ChatID = *p.ChatID
	}
	if p.Months != nil {
		o.Months = *p.Months
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Amount != nil {
		o.Amount = *p.Amount
	}
	if p.CryptoAmount != nil {
		o.CryptoAmount = *p.CryptoAmount
	}
	if p.Rail != nil {
		o.Rail = *p.Rail
	}
	if p.Error != nil {
		o.Error = *p.Error
	}
	o.ExternalIDs = union(o.ExternalIDs, p.ExternalIDs)
	o.Recipients = union(o.Recipients, p.Recipients)
	if p.Request != nil {
		o.ExternalIDs = union(o.ExternalIDs, []string{p.Request.ID})
		replaced := false
		for i := range o.Requests {
			if o.Requests[i].ID == p.Request.ID {
				o.Requests[i] = *p.Request
				replaced = true
				break
			}
		}
		if !replaced {
			o.Requests = append(o.Requests, *p.Request)
		}
	}
	if p.DropRequest != "" {
		kept := o.Requests[:0]
		for _, r := range o.Requests {
			if r.ID != p.DropRequest {
				kept = append(kept, r)
			}
		}
		o.Requests = kept
	}
}

func union(dst, src []string) []string {
	for _, s := range src {
		if s == "" || contains(dst, s) {
			continue
		}
		dst = append(dst, s)
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Ptr is a helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
