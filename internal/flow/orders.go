package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/susu3304/premiumbot/internal/catalog"
	"github.com/susu3304/premiumbot/internal/store"
)

// createRequest allocates exactly one upstream request. It is not retried.
func (c *Controller) createRequest(ctx context.Context, userID, handle string, months int, price decimal.Decimal) (*store.Request, error) {
	r, err := c.catalog.SearchRecipient(ctx, handle, months)
	if err != nil {
		return nil, err
	}
	req, err := c.catalog.InitRequest(ctx, r.Token, months)
	if err != nil {
		return nil, err
	}
	sr := &store.Request{
		ID:        req.ID,
		Recipient: handle,
		Months:    months,
		Upstream:  req.Amount,
		Price:     price,
		Status:    store.StatusCreated,
	}
	c.store.Put(userID, store.Patch{Request: sr})
	log.Printf("flow: user %s: request %s for @%s (%d months)", userID, req.ID, handle, months)
	return sr, nil
}

// createOrders creates one request per recipient, sequentially. A single
// recipient's failure is returned as is; in a batch it is reported in the
// summary and the rest continue. It returns nil when nothing was created.
func (c *Controller) createOrders(ctx context.Context, ev Event, recipients []string, months int, price decimal.Decimal) (*store.Order, error) {
	c.store.Put(ev.UserID, store.Patch{
		ChatID:     store.Ptr(ev.ChatID),
		Months:     store.Ptr(months),
		Status:     store.Ptr(store.StatusCreated),
		Recipients: recipients,
	})

	if len(recipients) == 1 {
		if _, err := c.createRequest(ctx, ev.UserID, recipients[0], months, price); err != nil {
			c.store.Clear(ev.UserID)
			return nil, err
		}
		o, _ := c.store.Update(ev.UserID, store.Patch{Amount: store.Ptr(price)})
		return o, nil
	}

	c.say(ctx, ev.ChatID, text(fmt.Sprintf("Creating %d gift requests, one at a time…", len(recipients))))
	var created, failed []string
	for _, handle := range recipients {
		if _, err := c.createRequest(ctx, ev.UserID, handle, months, price); err != nil {
			log.Printf("flow: user %s: request for @%s: %v", ev.UserID, handle, err)
			failed = append(failed, fmt.Sprintf("@%s (%s)", handle, describeFailure(err)))
			continue
		}
		created = append(created, "@"+handle)
	}

	c.say(ctx, ev.ChatID, text(summary(created, failed)))
	if len(created) == 0 {
		c.store.Clear(ev.UserID)
		return nil, nil
	}
	total := price.Mul(decimal.NewFromInt(int64(len(created))))
	o, _ := c.store.Update(ev.UserID, store.Patch{Amount: store.Ptr(total)})
	return o, nil
}

func summary(created, failed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Created %d of %d requests.", len(created), len(created)+len(failed))
	if len(created) > 0 {
		fmt.Fprintf(&b, "\nReady: %s", strings.Join(created, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nFailed: %s", strings.Join(failed, ", "))
	}
	return b.String()
}

// describeFailure gives a short user-facing reason without raw upstream bodies.
func describeFailure(err error) string {
	var provErr *catalog.ProviderError
	switch {
	case errors.Is(err, catalog.ErrRecipientNotFound):
		return "not found"
	case errors.As(err, &provErr):
		return provErr.Message
	case errors.Is(err, catalog.ErrNotInitialized):
		return "service unavailable"
	}
	return "failed"
}
