package flow

import (
	"context"
	"log"
)

// Button is either an action button or a link button when URL is set.
type Button struct {
	Label  string
	Action Action
	URL    string
}

type Message struct {
	Text     string
	ImageURL string
	Buttons  [][]Button
}

// Messenger delivers outbound messages to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID string, m Message) error
}

// say is best-effort: delivery failures are logged, never returned.
func (c *Controller) say(ctx context.Context, chatID string, m Message) {
	if err := c.messenger.Send(ctx, chatID, m); err != nil {
		log.Printf("flow: send to %s: %v", chatID, err)
	}
}

func text(s string) Message {
	return Message{Text: s}
}

func row(buttons ...Button) []Button {
	return buttons
}

func button(label string, a Action) Button {
	return Button{Label: label, Action: a}
}
