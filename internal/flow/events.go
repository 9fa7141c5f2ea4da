package flow

import (
	"fmt"
	"strconv"
	"strings"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventText
	EventButton
)

// Event is one inbound chat interaction.
type Event struct {
	Kind     EventKind
	UserID   string
	ChatID   string
	Username string
	// Handle is the user's own handle on the catalog platform, when the chat
	// platform knows it.
	Handle string
	Text   string
	Action string
}

type ActionKind string

const (
	ActPurchaseSelf ActionKind = "purchase:self"
	ActPurchaseGift ActionKind = "purchase:gift"
	ActConfirmSelf  ActionKind = "confirm:self"
	ActCancelSelf   ActionKind = "cancel:self"
	ActConfirmGift  ActionKind = "confirm:gift"
	ActCancelGift   ActionKind = "cancel:gift"
	ActMonths       ActionKind = "months"
	ActStatus       ActionKind = "status"
	ActMenu         ActionKind = "menu"
)

// Action is a parsed button action.
type Action struct {
	Kind      ActionKind
	Recipient string
	Months    int
}

func ParseAction(s string) (Action, error) {
	switch ActionKind(s) {
	case ActPurchaseSelf, ActPurchaseGift, ActConfirmSelf, ActCancelSelf, ActCancelGift, ActStatus, ActMenu:
		return Action{Kind: ActionKind(s)}, nil
	}
	if r, ok := strings.CutPrefix(s, string(ActConfirmGift)+":"); ok && r != "" {
		return Action{Kind: ActConfirmGift, Recipient: r}, nil
	}
	if n, ok := strings.CutPrefix(s, string(ActMonths)+":"); ok {
		months, err := strconv.Atoi(n)
		if err != nil || months <= 0 {
			return Action{}, fmt.Errorf("flow: bad duration in action %q", s)
		}
		return Action{Kind: ActMonths, Months: months}, nil
	}
	return Action{}, fmt.Errorf("flow: unknown action %q", s)
}

func (a Action) String() string {
	switch a.Kind {
	case ActConfirmGift:
		return string(ActConfirmGift) + ":" + a.Recipient
	case ActMonths:
		return string(ActMonths) + ":" + strconv.Itoa(a.Months)
	}
	return string(a.Kind)
}
