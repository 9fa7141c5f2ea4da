package commands

import (
	"log"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of *discordgo.Session the handlers need.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// InteractionUser returns the invoking user for both guild and DM interactions.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// RespondEphemeral answers an interaction with a message only the invoker sees.
func RespondEphemeral(s Responder, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("commands: respond to %s: %v", i.ID, err)
	}
}

func optionValue(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name != name {
			continue
		}
		if v, ok := o.Value.(string); ok {
			return v
		}
	}
	return ""
}
