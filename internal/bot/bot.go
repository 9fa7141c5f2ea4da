package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/premiumbot/internal/commands"
	"github.com/susu3304/premiumbot/internal/flow"
)

// Handler consumes chat events; *flow.Controller implements it.
type Handler interface {
	Handle(ctx context.Context, ev flow.Event) error
}

type Bot struct {
	session   *discordgo.Session
	messenger *Messenger
	ledger    commands.Ledger
	isAdmin   func(string) bool

	ctx     context.Context
	handler Handler
}

func New(token string, ledger commands.Ledger, isAdmin func(string) bool) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session:   session,
		messenger: NewMessenger(session),
		ledger:    ledger,
		isAdmin:   isAdmin,
		ctx:       context.Background(),
	}

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	return bot, nil
}

// Messenger delivers flow messages through this bot's session.
func (b *Bot) Messenger() *Messenger {
	return b.messenger
}

// Start connects to the gateway and begins feeding events to h.
func (b *Bot) Start(ctx context.Context, h Handler) error {
	b.ctx = ctx
	b.handler = h
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Println("bot: discord session is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) dispatch(ev flow.Event) {
	if b.handler == nil {
		return
	}
	if err := b.handler.Handle(b.ctx, ev); err != nil {
		log.Printf("bot: user %s: %v", ev.UserID, err)
	}
}
