package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susu3304/premiumbot/internal/catalog"
	"github.com/susu3304/premiumbot/internal/chain"
	"github.com/susu3304/premiumbot/internal/gateway"
	"github.com/susu3304/premiumbot/internal/poll"
	"github.com/susu3304/premiumbot/internal/pricing"
	"github.com/susu3304/premiumbot/internal/store"
)

var (
	// ErrNotInitialized means purchases are unavailable because the catalog
	// client holds no validated credential.
	ErrNotInitialized = fmt.Errorf("flow: purchases unavailable: %w", catalog.ErrNotInitialized)

	ErrNoRecipients     = errors.New("flow: no recipients given")
	ErrOrderInProgress  = errors.New("flow: an order is already in progress")
	ErrNoSettlement     = errors.New("flow: no payment method could settle the order")
	errUnexpectedAction = errors.New("flow: action does not fit the current step")
)

type Catalog interface {
	Ready() bool
	SearchRecipient(ctx context.Context, query string, months int) (*catalog.Recipient, error)
	InitRequest(ctx context.Context, recipientToken string, months int) (*catalog.GiftRequest, error)
	ConfirmRequest(ctx context.Context, requestID string, account *catalog.Account) (*catalog.Payment, error)
	CheckRequest(ctx context.Context, requestID string) (bool, error)
}

type Sender interface {
	Account() chain.Account
	Transfer(ctx context.Context, t chain.Transfer) (*chain.Receipt, error)
}

type Gateway interface {
	Enabled() bool
	CreateTransaction(ctx context.Context, orderID string, amount decimal.Decimal) (*gateway.Session, error)
}

type Prices interface {
	Prices(ctx context.Context) map[int]decimal.Decimal
	Quote(ctx context.Context, months int) (decimal.Decimal, error)
}

// Ledger is the prepaid balance of each user.
type Ledger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error
	Debit(ctx context.Context, userID string, amount decimal.Decimal) error
}

// Archive receives best-effort copies of users and orders for the dashboard.
type Archive interface {
	UpsertUser(ctx context.Context, userID, username string) error
	RecordOrder(ctx context.Context, o *store.Order) error
}

type Deps struct {
	Store     *store.Store
	Catalog   Catalog
	Prices    Prices
	Messenger Messenger

	// Optional collaborators.
	Sender  Sender
	Gateway Gateway
	Ledger  Ledger
	Archive Archive

	// AutoPay reports whether the operator wallet may pay upstream requests.
	AutoPay func(ctx context.Context) bool

	Settlement   []string
	PollInterval time.Duration
	PollAttempts int
}

// Controller drives each user's purchase conversation.
type Controller struct {
	store     *store.Store
	catalog   Catalog
	prices    Prices
	messenger Messenger
	sender    Sender
	gateway   Gateway
	ledger    Ledger
	archive   Archive
	autoPay   func(ctx context.Context) bool
	poller    *poll.Poller
	plan      []Strategy

	sessions *sessions
	inflight sync.WaitGroup
}

func NewController(d Deps) (*Controller, error) {
	c := &Controller{
		store:     d.Store,
		catalog:   d.Catalog,
		prices:    d.Prices,
		messenger: d.Messenger,
		sender:    d.Sender,
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		archive:   d.Archive,
		autoPay:   d.AutoPay,
		poller:    poll.New(d.Catalog, d.PollInterval, d.PollAttempts),
		sessions:  newSessions(),
	}
	if c.autoPay == nil {
		c.autoPay = func(context.Context) bool { return false }
	}

	names := d.Settlement
	if len(names) == 0 {
		names = []string{"gateway", "chain"}
	}
	for _, name := range names {
		s, err := c.strategy(name)
		if err != nil {
			return nil, err
		}
		c.plan = append(c.plan, s)
	}
	return c, nil
}

// Session returns the user's current step.
func (c *Controller) Session(userID string) State {
	return c.sessions.get(userID)
}

// Wait blocks until detached fulfillment work has finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Handle processes one chat event. Input mistakes are answered with a
// re-prompt and return nil; other failures reset the session, tell the user,
// and are returned for logging.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	unlock := c.sessions.lock(ev.UserID)
	defer unlock()

	c.touchUser(ctx, ev)

	var err error
	switch ev.Kind {
	case EventStart:
		err = c.showMenu(ctx, ev)
	case EventText:
		err = c.onText(ctx, ev)
	case EventButton:
		act, perr := ParseAction(ev.Action)
		if perr != nil {
			log.Printf("flow: user %s: %v", ev.UserID, perr)
			return nil
		}
		err = c.onAction(ctx, ev, act)
	}
	if err != nil {
		return c.fail(ctx, ev, err)
	}
	return nil
}

func (c *Controller) onText(ctx context.Context, ev Event) error {
	st, ok := c.sessions.get(ev.UserID).(SelectingTarget)
	if !ok {
		// Free text only matters while a recipient is expected.
		return nil
	}
	return c.submitRecipients(ctx, ev, st, ev.Text)
}

func (c *Controller) onAction(ctx context.Context, ev Event, act Action) error {
	st := c.sessions.get(ev.UserID)
	switch act.Kind {
	case ActMenu:
		return c.showMenu(ctx, ev)
	case ActStatus:
		return c.reportStatus(ctx, ev)
	case ActPurchaseSelf:
		return c.beginPurchase(ctx, ev, false)
	case ActPurchaseGift:
		return c.beginPurchase(ctx, ev, true)
	case ActCancelSelf, ActCancelGift:
		if _, ok := st.(ConfirmingRecipient); !ok {
			return errUnexpectedAction
		}
		c.sessions.set(ev.UserID, Idle{})
		c.say(ctx, ev.ChatID, text("Cancelled. Send /premium to start again."))
		return nil
	case ActConfirmSelf, ActConfirmGift:
		cr, ok := st.(ConfirmingRecipient)
		if !ok || cr.Self != (act.Kind == ActConfirmSelf) {
			return errUnexpectedAction
		}
		recipient := cr.Recipient
		if act.Recipient != "" {
			recipient = act.Recipient
		}
		return c.promptDuration(ctx, ev, []string{recipient})
	case ActMonths:
		sd, ok := st.(SelectingDuration)
		if !ok {
			return errUnexpectedAction
		}
		return c.selectDuration(ctx, ev, sd, act.Months)
	}
	return errUnexpectedAction
}

func (c *Controller) showMenu(ctx context.Context, ev Event) error {
	c.sessions.set(ev.UserID, Idle{})
	c.say(ctx, ev.ChatID, Message{
		Text: "Buy a Premium subscription for yourself or gift it to friends.",
		Buttons: [][]Button{
			row(button("For myself", Action{Kind: ActPurchaseSelf}), button("As a gift", Action{Kind: ActPurchaseGift})),
			row(button("Order status", Action{Kind: ActStatus})),
		},
	})
	return nil
}

// beginPurchase moves idle → selecting-target.
func (c *Controller) beginPurchase(ctx context.Context, ev Event, gift bool) error {
	if !c.catalog.Ready() {
		return ErrNotInitialized
	}
	if o, ok := c.store.Get(ev.UserID); ok {
		if !o.Status.Terminal() && o.Status != store.StatusCreated {
			return ErrOrderInProgress
		}
		c.store.Clear(ev.UserID)
	}

	st := SelectingTarget{Gift: gift}
	c.sessions.set(ev.UserID, st)
	if !gift && ev.Handle != "" {
		return c.submitRecipients(ctx, ev, st, ev.Handle)
	}
	if gift {
		c.say(ctx, ev.ChatID, text("Send the recipient's username. Separate several usernames with commas or spaces to gift them all at once."))
	} else {
		c.say(ctx, ev.ChatID, text("Send your own username on the messaging platform."))
	}
	return nil
}

// submitRecipients handles the recipient text for selecting-target.
func (c *Controller) submitRecipients(ctx context.Context, ev Event, st SelectingTarget, input string) error {
	if !c.catalog.Ready() {
		return ErrNotInitialized
	}
	recipients := ParseRecipients(input)
	switch {
	case len(recipients) == 0:
		return ErrNoRecipients
	case len(recipients) > 1:
		if !st.Gift {
			c.say(ctx, ev.ChatID, text("Only one username can be used for yourself."))
			return nil
		}
		return c.promptDuration(ctx, ev, recipients)
	}

	r := recipients[0]
	display, photo := c.lookupDisplay(ctx, r)
	c.sessions.set(ev.UserID, ConfirmingRecipient{Recipient: r, Display: display, Self: !st.Gift})

	confirm, cancel := Action{Kind: ActConfirmSelf}, Action{Kind: ActCancelSelf}
	if st.Gift {
		confirm, cancel = Action{Kind: ActConfirmGift, Recipient: r}, Action{Kind: ActCancelGift}
	}
	c.say(ctx, ev.ChatID, Message{
		Text:     fmt.Sprintf("Recipient: %s (@%s)\nIs this correct?", display, r),
		ImageURL: photo,
		Buttons:  [][]Button{row(button("Confirm", confirm), button("Cancel", cancel))},
	})
	return nil
}

// lookupDisplay is best-effort: any failure falls back to the raw handle.
func (c *Controller) lookupDisplay(ctx context.Context, handle string) (string, string) {
	r, err := c.catalog.SearchRecipient(ctx, handle, 3)
	if err != nil {
		log.Printf("flow: display lookup for %s: %v", handle, err)
		return handle, ""
	}
	return r.DisplayName(), r.PhotoURL
}

func (c *Controller) promptDuration(ctx context.Context, ev Event, recipients []string) error {
	c.sessions.set(ev.UserID, SelectingDuration{Recipients: recipients})

	prices := c.prices.Prices(ctx)
	if len(prices) == 0 {
		c.sessions.set(ev.UserID, Idle{})
		c.say(ctx, ev.ChatID, text("No subscription durations are on sale right now. Please try again later."))
		return nil
	}
	var buttons []Button
	for _, months := range pricing.Durations(prices) {
		label := fmt.Sprintf("%d months · %s", months, prices[months].StringFixed(2))
		buttons = append(buttons, button(label, Action{Kind: ActMonths, Months: months}))
	}
	msg := "Choose a duration."
	if len(recipients) > 1 {
		msg = fmt.Sprintf("Gifting %d recipients: %v\nChoose a duration. The price applies per recipient.", len(recipients), recipients)
	}
	c.say(ctx, ev.ChatID, Message{Text: msg, Buttons: [][]Button{buttons}})
	return nil
}

// selectDuration quotes n against a freshly refreshed price table, then
// creates and settles the order.
func (c *Controller) selectDuration(ctx context.Context, ev Event, st SelectingDuration, months int) error {
	price, err := c.prices.Quote(ctx, months)
	if err != nil {
		return err
	}
	if !c.catalog.Ready() {
		return ErrNotInitialized
	}
	c.sessions.set(ev.UserID, CreatingOrders{Recipients: st.Recipients, Months: months})

	o, err := c.createOrders(ctx, ev, st.Recipients, months, price)
	if err != nil {
		return err
	}
	if o == nil {
		c.sessions.set(ev.UserID, Idle{})
		return nil
	}
	return c.settle(ctx, ev, o)
}

// fail maps an error to what the user sees. Input errors keep the session;
// everything else resets it.
func (c *Controller) fail(ctx context.Context, ev Event, err error) error {
	switch {
	case errors.Is(err, ErrNoRecipients):
		c.say(ctx, ev.ChatID, text("Please send at least one username, e.g. @alice."))
		return nil
	case errors.Is(err, pricing.ErrUnknownDuration):
		c.say(ctx, ev.ChatID, text("That duration is not available any more. Please choose another one."))
		if sd, ok := c.sessions.get(ev.UserID).(SelectingDuration); ok {
			return c.promptDuration(ctx, ev, sd.Recipients)
		}
		return nil
	case errors.Is(err, errUnexpectedAction):
		c.say(ctx, ev.ChatID, text("That button has expired. Send /premium to start again."))
		c.sessions.set(ev.UserID, Idle{})
		return nil
	case errors.Is(err, ErrOrderInProgress):
		c.say(ctx, ev.ChatID, Message{
			Text:    "You already have an order in progress.",
			Buttons: [][]Button{row(button("Order status", Action{Kind: ActStatus}))},
		})
		return nil
	}

	c.sessions.set(ev.UserID, Idle{})
	var provErr *catalog.ProviderError
	var reported *reportedError
	switch {
	case errors.As(err, &reported):
	case errors.Is(err, catalog.ErrNotInitialized):
		c.say(ctx, ev.ChatID, text("Purchases are temporarily unavailable. Please try again later or contact support."))
	case errors.Is(err, catalog.ErrRecipientNotFound):
		c.say(ctx, ev.ChatID, text("That user could not be found. Check the username and try again."))
		return nil
	case errors.As(err, &provErr):
		c.say(ctx, ev.ChatID, text(fmt.Sprintf("The provider rejected the request: %s\nPlease try again or contact support.", provErr.Message)))
	default:
		c.say(ctx, ev.ChatID, text("Something went wrong. Please try again or contact support."))
	}
	log.Printf("flow: user %s: %v", ev.UserID, err)
	return err
}

func (c *Controller) touchUser(ctx context.Context, ev Event) {
	if c.archive == nil {
		return
	}
	if err := c.archive.UpsertUser(ctx, ev.UserID, ev.Username); err != nil {
		log.Printf("flow: upsert user %s: %v", ev.UserID, err)
	}
}

func (c *Controller) record(ctx context.Context, o *store.Order) {
	if c.archive == nil || o == nil {
		return
	}
	if err := c.archive.RecordOrder(ctx, o); err != nil {
		log.Printf("flow: archive order %s: %v", o.ID, err)
	}
}
