package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/susu3304/premiumbot/internal/store"
)

type Outcome int

const (
	// Settled means the order is paid and fulfillment can start now.
	Settled Outcome = iota
	// Pending means payment continues asynchronously.
	Pending
	// SoftFail hands the order to the next strategy.
	SoftFail
	// HardFail stops the plan.
	HardFail
)

func (o Outcome) String() string {
	switch o {
	case Settled:
		return "settled"
	case Pending:
		return "pending"
	case SoftFail:
		return "soft-fail"
	case HardFail:
		return "hard-fail"
	}
	return "unknown"
}

// Strategy is one way to pay for an order.
type Strategy interface {
	Name() string
	Settle(ctx context.Context, ev Event, o *store.Order) (Outcome, error)
}

func (c *Controller) strategy(name string) (Strategy, error) {
	switch name {
	case "balance":
		return &balanceStrategy{c: c}, nil
	case "gateway":
		return &gatewayStrategy{c: c}, nil
	case "chain":
		return &chainStrategy{c: c}, nil
	}
	return nil, fmt.Errorf("flow: unknown settlement strategy %q", name)
}

// settle runs the plan in order until a strategy settles, defers, or hard-fails.
func (c *Controller) settle(ctx context.Context, ev Event, o *store.Order) error {
	var reasons []string
	for _, s := range c.plan {
		outcome, err := s.Settle(ctx, ev, o)
		if err != nil {
			log.Printf("flow: order %s: %s %s: %v", o.ID, s.Name(), outcome, err)
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name(), err))
		}

		switch outcome {
		case Settled:
			err := c.fulfill(ctx, ev.UserID)
			if err != nil && s.Name() == "balance" {
				c.refund(ctx, ev.UserID, o)
			}
			return err
		case Pending:
			return nil
		case HardFail:
			return c.settlementFailed(ctx, ev, o, reasons)
		}
	}
	return c.settlementFailed(ctx, ev, o, reasons)
}

func (c *Controller) settlementFailed(ctx context.Context, ev Event, o *store.Order, reasons []string) error {
	msg := strings.Join(reasons, "; ")
	if msg == "" {
		msg = "no payment method available"
	}
	updated, _ := c.store.Update(ev.UserID, store.Patch{Status: store.Ptr(store.StatusError), Error: store.Ptr(msg)})
	c.record(ctx, updated)
	return fmt.Errorf("%w: order %s: %s", ErrNoSettlement, o.ID, msg)
}

type balanceStrategy struct{ c *Controller }

func (s *balanceStrategy) Name() string { return "balance" }

func (s *balanceStrategy) Settle(ctx context.Context, ev Event, o *store.Order) (Outcome, error) {
	c := s.c
	if c.ledger == nil {
		return SoftFail, nil
	}
	if err := c.ledger.Debit(ctx, ev.UserID, o.Amount); err != nil {
		bal, berr := c.ledger.Balance(ctx, ev.UserID)
		if berr == nil {
			c.say(ctx, ev.ChatID, text(fmt.Sprintf("Your balance (%s) does not cover %s.", bal.StringFixed(2), o.Amount.StringFixed(2))))
		}
		return SoftFail, err
	}
	updated, _ := c.store.Update(ev.UserID, store.Patch{
		Rail:   store.Ptr("balance"),
		Status: store.Ptr(store.StatusProcessingPayment),
	})
	c.record(ctx, updated)
	c.say(ctx, ev.ChatID, text(fmt.Sprintf("Paid %s from your balance. Delivering now…", o.Amount.StringFixed(2))))
	return Settled, nil
}

// refund credits back the price of every request that was never sent on
// chain. Delivered or broadcast requests stay paid.
func (c *Controller) refund(ctx context.Context, userID string, paid *store.Order) {
	o, ok := c.store.Get(userID)
	if !ok || o.ID != paid.ID {
		o = paid
	}
	amount := o.Unsent()
	if !amount.IsPositive() {
		return
	}
	if err := c.ledger.Credit(ctx, userID, amount); err != nil {
		log.Printf("flow: refund %s to %s for order %s: %v", amount.StringFixed(2), userID, o.ID, err)
		return
	}
	log.Printf("flow: refunded %s to %s for order %s", amount.StringFixed(2), userID, o.ID)
	c.say(ctx, o.ChatID, text(fmt.Sprintf("%s for undelivered gifts was returned to your balance.", amount.StringFixed(2))))
}

type gatewayStrategy struct{ c *Controller }

func (s *gatewayStrategy) Name() string { return "gateway" }

func (s *gatewayStrategy) Settle(ctx context.Context, ev Event, o *store.Order) (Outcome, error) {
	c := s.c
	if c.gateway == nil || !c.gateway.Enabled() {
		return SoftFail, nil
	}
	session, err := c.gateway.CreateTransaction(ctx, o.ID, o.Amount)
	if err != nil {
		return SoftFail, err
	}

	gs := store.GatewaySession{
		TradeID:      session.TradeID,
		OrderID:      session.OrderID,
		ActualAmount: session.ActualAmount,
		Token:        session.Token,
		PaymentURL:   session.PaymentURL,
		ExpiresAt:    session.ExpirationTime,
	}
	for _, r := range o.Requests {
		c.store.UpdateRequest(ev.UserID, r.ID, func(req *store.Request) {
			g := gs
			req.Gateway = &g
		})
	}
	updated, _ := c.store.Update(ev.UserID, store.Patch{
		Rail:         store.Ptr("gateway"),
		Status:       store.Ptr(store.StatusWaitingUserPayment),
		CryptoAmount: store.Ptr(session.ActualAmount),
		ExternalIDs:  []string{o.ID, session.TradeID},
	})
	c.record(ctx, updated)
	c.sessions.set(ev.UserID, WaitingForPayment{CorrelationID: o.ID})

	msg := fmt.Sprintf("Order %s\nAmount: %s\nPay exactly %s to %s.", o.ID, o.Amount.StringFixed(2), session.ActualAmount, session.Token)
	if session.ExpirationTime > 0 {
		msg += fmt.Sprintf("\nThe payment link expires at %s.", time.Unix(session.ExpirationTime, 0).UTC().Format("2006-01-02 15:04 MST"))
	}
	msg += "\nDelivery starts automatically once the payment arrives."
	c.say(ctx, ev.ChatID, Message{
		Text: msg,
		Buttons: [][]Button{row(
			Button{Label: "Pay now", URL: session.PaymentURL},
			button("Order status", Action{Kind: ActStatus}),
		)},
	})
	return Pending, nil
}

type chainStrategy struct{ c *Controller }

func (s *chainStrategy) Name() string { return "chain" }

func (s *chainStrategy) Settle(ctx context.Context, ev Event, o *store.Order) (Outcome, error) {
	c := s.c
	if c.sender == nil {
		return HardFail, errors.New("no operator wallet configured")
	}
	if !c.autoPay(ctx) {
		return HardFail, errors.New("automatic on-chain payment is disabled")
	}
	updated, _ := c.store.Update(ev.UserID, store.Patch{
		Rail:   store.Ptr("chain"),
		Status: store.Ptr(store.StatusProcessingPayment),
	})
	c.record(ctx, updated)
	return Settled, nil
}
