package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/susu3304/premiumbot/internal/catalog"
	"github.com/susu3304/premiumbot/internal/chain"
	"github.com/susu3304/premiumbot/internal/gateway"
	"github.com/susu3304/premiumbot/internal/store"
)

// reportedError marks a failure the user has already been told about.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// fulfill pays and confirms every open request of the user's order with the
// operator wallet. The caller must hold the user's lock.
func (c *Controller) fulfill(ctx context.Context, userID string) error {
	o, ok := c.store.Get(userID)
	if !ok {
		return fmt.Errorf("flow: order for %s vanished before fulfillment", userID)
	}
	if c.sender == nil {
		err := errors.New("no operator wallet configured")
		c.markError(ctx, o, err)
		return &reportedError{err}
	}

	var failures []string
	for _, r := range o.Requests {
		if r.Status.Terminal() {
			continue
		}
		if err := c.fulfillRequest(ctx, o, r); err != nil {
			log.Printf("flow: order %s request %s: %v", o.ID, r.ID, err)
			failures = append(failures, fmt.Sprintf("@%s: %v", r.Recipient, userFacing(err)))
		}
	}

	o, ok = c.store.Get(userID)
	if !ok {
		return nil
	}
	switch {
	case len(failures) > 0:
		msg := strings.Join(failures, "; ")
		updated, _ := c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusError), Error: store.Ptr(msg)})
		c.record(ctx, updated)
		c.sessions.set(userID, Idle{})
		c.say(ctx, o.ChatID, text("Some deliveries failed: "+msg+"\nPlease contact support with your order id "+o.ID+"."))
		return &reportedError{errors.New("fulfillment failed: " + msg)}
	case len(o.Requests) == 0:
		updated, _ := c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusCompleted)})
		c.record(ctx, updated)
		c.store.Clear(userID)
		c.sessions.set(userID, Idle{})
		c.say(ctx, o.ChatID, text("All done! Premium has been delivered. Thank you for your purchase."))
	default:
		updated, _ := c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusWaitingConfirmation)})
		c.record(ctx, updated)
		c.sessions.set(userID, Idle{})
		c.say(ctx, o.ChatID, Message{
			Text:    "Payment sent, but the provider has not confirmed delivery yet. Check again in a few minutes.",
			Buttons: [][]Button{row(button("Order status", Action{Kind: ActStatus}))},
		})
	}
	return nil
}

func (c *Controller) fulfillRequest(ctx context.Context, o *store.Order, r store.Request) error {
	userID := o.UserID
	c.setRequestStatus(userID, r.ID, store.StatusBroadcasting)
	c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusBroadcasting)})

	acc := c.sender.Account()
	payment, err := c.catalog.ConfirmRequest(ctx, r.ID, &catalog.Account{
		Address:         acc.Address,
		Chain:           acc.Chain,
		PublicKey:       acc.PublicKey,
		WalletStateInit: acc.WalletStateInit,
	})
	if err != nil {
		c.setRequestStatus(userID, r.ID, store.StatusError)
		return err
	}
	c.store.UpdateRequest(userID, r.ID, func(req *store.Request) {
		req.Chain = store.ChainPayment{Address: payment.Address, AmountNano: payment.AmountNano, Payload: payment.Payload}
	})

	receipt, err := c.sender.Transfer(ctx, chain.Transfer{
		To:         payment.Address,
		AmountNano: payment.AmountNano,
		Payload:    payment.Payload,
	})
	if err != nil {
		c.setRequestStatus(userID, r.ID, store.StatusError)
		return err
	}
	c.setRequestStatus(userID, r.ID, store.StatusBroadcasted)
	updated, _ := c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusBroadcasted)})
	c.record(ctx, updated)
	log.Printf("flow: order %s request %s broadcast from %s seqno %d", o.ID, r.ID, receipt.Wallet, receipt.Seqno)

	c.say(ctx, o.ChatID, text(fmt.Sprintf("Payment for @%s sent. Waiting for the provider to confirm…", r.Recipient)))
	res, err := c.poller.Poll(ctx, r.ID, func(attempt int) error {
		return c.messenger.Send(ctx, o.ChatID, text(fmt.Sprintf("Still waiting for confirmation for @%s (check %d)…", r.Recipient, attempt)))
	})
	if err != nil {
		return err
	}
	if !res.Confirmed {
		c.setRequestStatus(userID, r.ID, store.StatusWaitingConfirmation)
		return nil
	}
	c.store.Update(userID, store.Patch{DropRequest: r.ID})
	c.say(ctx, o.ChatID, text(fmt.Sprintf("Premium for %d months delivered to @%s.", r.Months, r.Recipient)))
	return nil
}

func (c *Controller) setRequestStatus(userID, requestID string, status store.Status) {
	c.store.UpdateRequest(userID, requestID, func(r *store.Request) { r.Status = status })
}

func (c *Controller) markError(ctx context.Context, o *store.Order, err error) {
	updated, _ := c.store.Update(o.UserID, store.Patch{Status: store.Ptr(store.StatusError), Error: store.Ptr(err.Error())})
	c.record(ctx, updated)
	c.sessions.set(o.UserID, Idle{})
	c.say(ctx, o.ChatID, text(fmt.Sprintf("Your order %s could not be delivered: %s\nPlease contact support.", o.ID, userFacing(err))))
}

func userFacing(err error) string {
	var provErr *catalog.ProviderError
	switch {
	case errors.Is(err, chain.ErrWalletNotDeployed):
		return "the payment wallet is not funded yet"
	case errors.As(err, &provErr):
		return provErr.Message
	case errors.Is(err, catalog.ErrNotInitialized):
		return "service unavailable"
	}
	return "payment could not be completed"
}

// ProcessNotification applies an authenticated gateway notification. A paid
// order is moved to processing and fulfilled in the background; the
// notification is acknowledged without waiting for delivery.
func (c *Controller) ProcessNotification(ctx context.Context, n gateway.Notification) error {
	userID, o, ok := c.store.GetByExternalID(n.OrderID)
	if !ok {
		return gateway.ErrUnknownOrder
	}

	switch n.Status {
	case gateway.StatusPaid:
		if _, ok := c.store.Transition(userID, store.StatusWaitingUserPayment, store.StatusProcessingPayment); !ok {
			log.Printf("flow: order %s already past payment (status %s), ignoring duplicate", o.ID, o.Status)
			return nil
		}
		log.Printf("flow: order %s paid (trade %s, %s)", o.ID, n.TradeID, n.ActualAmount)
		c.say(ctx, o.ChatID, text("Payment received. Delivering now…"))

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			bg := context.WithoutCancel(ctx)
			unlock := c.sessions.lock(userID)
			defer unlock()
			if err := c.fulfill(bg, userID); err != nil {
				log.Printf("flow: order %s: %v", o.ID, err)
			}
		}()
		return nil

	case gateway.StatusExpired:
		updated, ok := c.store.Transition(userID, store.StatusWaitingUserPayment, store.StatusExpired)
		if !ok {
			log.Printf("flow: order %s expired notification in status %s, ignoring", o.ID, o.Status)
			return nil
		}
		c.record(ctx, updated)
		c.sessions.set(userID, Idle{})
		c.say(ctx, o.ChatID, text(fmt.Sprintf("The payment for order %s expired. Send /premium to start again.", o.ID)))
		return nil

	default:
		if o.Status == store.StatusCreated {
			c.store.Update(userID, store.Patch{Status: store.Ptr(store.StatusWaitingUserPayment)})
		}
		return nil
	}
}
