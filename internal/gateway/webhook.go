package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
)

// Notification statuses.
const (
	StatusPending = 1
	StatusPaid    = 2
	StatusExpired = 3
)

// ErrUnknownOrder is returned by a Processor when no order matches the
// notification. The webhook acknowledges it.
var ErrUnknownOrder = errors.New("gateway: no matching order")

type Notification struct {
	TradeID            string
	OrderID            string
	Amount             string
	ActualAmount       string
	Token              string
	BlockTransactionID string
	Status             int
}

type Processor interface {
	ProcessNotification(ctx context.Context, n Notification) error
}

// Webhook authenticates gateway notifications and hands them to a Processor.
type Webhook struct {
	token     string
	processor Processor
}

func NewWebhook(token string, p Processor) *Webhook {
	return &Webhook{token: token, processor: p}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r)
	if err != nil {
		log.Printf("gateway: bad notification body: %v", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	if !Verify(fields, h.token) {
		log.Printf("gateway: rejected notification for order %q: invalid signature", fields["order_id"])
		respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid signature"})
		return
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		log.Printf("gateway: notification for order %q has bad status %q", fields["order_id"], fields["status"])
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid status"})
		return
	}

	n := Notification{
		TradeID:            fields["trade_id"],
		OrderID:            fields["order_id"],
		Amount:             fields["amount"],
		ActualAmount:       fields["actual_amount"],
		Token:              fields["token"],
		BlockTransactionID: fields["block_transaction_id"],
		Status:             status,
	}

	err = h.processor.ProcessNotification(r.Context(), n)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownOrder):
		log.Printf("gateway: no order for notification %q (status %d), ignoring", n.OrderID, n.Status)
	default:
		log.Printf("gateway: process notification %q: %v", n.OrderID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readFields flattens the JSON body into strings, keeping numbers verbatim.
func readFields(r *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			fields[k] = string(b)
		}
	}
	return fields, nil
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
