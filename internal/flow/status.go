package flow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/susu3304/premiumbot/internal/store"
)

var statusText = map[store.Status]string{
	store.StatusCreated:             "being created",
	store.StatusWaitingUserPayment:  "waiting for your payment",
	store.StatusProcessingPayment:   "payment received, processing",
	store.StatusBroadcasting:        "sending payment to the provider",
	store.StatusBroadcasted:         "payment sent, waiting for the provider",
	store.StatusWaitingConfirmation: "waiting for delivery confirmation",
	store.StatusCompleted:           "completed",
	store.StatusExpired:             "payment expired",
	store.StatusError:               "failed",
}

// reportStatus answers a status query. Requests still waiting for
// confirmation are checked once more with the provider.
func (c *Controller) reportStatus(ctx context.Context, ev Event) error {
	o, ok := c.store.Get(ev.UserID)
	if !ok {
		c.say(ctx, ev.ChatID, text("You have no active order."))
		return nil
	}

	if o.Status == store.StatusWaitingConfirmation {
		o = c.recheck(ctx, o)
		if o == nil {
			c.say(ctx, ev.ChatID, text("All done! Premium has been delivered."))
			return nil
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s: %s", o.ID, statusText[o.Status])
	if !o.Amount.IsZero() {
		fmt.Fprintf(&b, "\nAmount: %s", o.Amount.StringFixed(2))
	}
	if o.CryptoAmount != "" {
		fmt.Fprintf(&b, " (%s)", o.CryptoAmount)
	}
	for _, r := range o.Requests {
		fmt.Fprintf(&b, "\n• @%s, %d months: %s", r.Recipient, r.Months, statusText[r.Status])
	}
	if o.Error != "" {
		b.WriteString("\nPlease contact support with the order id above.")
	}

	msg := Message{Text: b.String()}
	for _, r := range o.Requests {
		if r.Gateway != nil && r.Gateway.PaymentURL != "" && o.Status == store.StatusWaitingUserPayment {
			msg.Buttons = [][]Button{row(Button{Label: "Pay now", URL: r.Gateway.PaymentURL})}
			break
		}
	}
	c.say(ctx, ev.ChatID, msg)

	if o.Status.Terminal() {
		c.store.Clear(ev.UserID)
	}
	return nil
}

// recheck asks the provider about each unconfirmed request, dropping the
// confirmed ones. It returns nil once the order is complete and cleared.
func (c *Controller) recheck(ctx context.Context, o *store.Order) *store.Order {
	for _, r := range o.Requests {
		if r.Status != store.StatusWaitingConfirmation {
			continue
		}
		ok, err := c.catalog.CheckRequest(ctx, r.ID)
		if err != nil {
			log.Printf("flow: recheck %s: %v", r.ID, err)
			continue
		}
		if ok {
			c.store.Update(o.UserID, store.Patch{DropRequest: r.ID})
		}
	}

	updated, ok := c.store.Get(o.UserID)
	if !ok {
		return nil
	}
	if len(updated.Requests) == 0 {
		done, _ := c.store.Update(o.UserID, store.Patch{Status: store.Ptr(store.StatusCompleted)})
		c.record(ctx, done)
		c.store.Clear(o.UserID)
		return nil
	}
	return updated
}
