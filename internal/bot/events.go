package bot

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/premiumbot/internal/commands"
	"github.com/susu3304/premiumbot/internal/flow"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("bot: %s is connected", event.User.Username)

	// Global commands so they also work in direct messages.
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", commands.GetCommands()); err != nil {
		log.Printf("bot: failed to register commands: %v", err)
		return
	}
	log.Println("bot: registered application commands")
}

// onMessageCreate forwards direct-message text. Guild chatter is ignored.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ev, ok := textEvent(m.Message)
	if !ok {
		return
	}
	b.dispatch(ev)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	switch data.Name {
	case commands.Premium, commands.Orders:
		user := commands.InteractionUser(i)
		if user == nil {
			return
		}
		// The conversation always runs in a DM so free-text replies reach us.
		dm, err := s.UserChannelCreate(user.ID)
		if err != nil {
			log.Printf("bot: open DM with %s: %v", user.ID, err)
			commands.RespondEphemeral(s, i, "I could not open a direct message with you. Please allow DMs and try again.")
			return
		}
		if i.GuildID != "" {
			commands.RespondEphemeral(s, i, "Check your direct messages.")
		} else {
			commands.RespondEphemeral(s, i, "One moment…")
		}
		b.dispatch(commandEvent(data.Name, user, dm.ID))
	case commands.Balance:
		commands.HandleBalance(b.ctx, s, i, b.ledger)
	case commands.Credit:
		commands.HandleCredit(b.ctx, s, i, b.ledger, b.isAdmin)
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Acknowledge first; the flow answers with new messages.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		log.Printf("bot: acknowledge interaction %s: %v", i.ID, err)
	}
	ev, ok := componentEvent(i)
	if !ok {
		return
	}
	b.dispatch(ev)
}

func textEvent(m *discordgo.Message) (flow.Event, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return flow.Event{}, false
	}
	return flow.Event{
		Kind:     flow.EventText,
		UserID:   m.Author.ID,
		ChatID:   m.ChannelID,
		Username: m.Author.Username,
		Text:     m.Content,
	}, true
}

func commandEvent(name string, user *discordgo.User, chatID string) flow.Event {
	ev := flow.Event{
		Kind:     flow.EventStart,
		UserID:   user.ID,
		ChatID:   chatID,
		Username: user.Username,
	}
	if name == commands.Orders {
		ev.Kind = flow.EventButton
		ev.Action = flow.Action{Kind: flow.ActStatus}.String()
	}
	return ev
}

func componentEvent(i *discordgo.InteractionCreate) (flow.Event, bool) {
	user := commands.InteractionUser(i)
	if user == nil {
		return flow.Event{}, false
	}
	return flow.Event{
		Kind:     flow.EventButton,
		UserID:   user.ID,
		ChatID:   i.ChannelID,
		Username: user.Username,
		Action:   i.MessageComponentData().CustomID,
	}, true
}
