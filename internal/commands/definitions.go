package commands

import "github.com/bwmarrin/discordgo"

// Slash command names.
const (
	Premium = "premium"
	Orders  = "orders"
	Balance = "balance"
	Credit  = "credit"
)

func GetCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:         Premium,
			Description:  "Buy Premium for yourself or gift it to friends",
			DMPermission: boolPtr(true),
		},
		{
			Name:         Orders,
			Description:  "Show the status of your current order",
			DMPermission: boolPtr(true),
		},
		{
			Name:         Balance,
			Description:  "Show your prepaid balance",
			DMPermission: boolPtr(true),
		},
		{
			Name:         Credit,
			Description:  "Add prepaid balance to a user (operators only)",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to credit",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "amount",
					Description: "Amount, e.g. 12.50",
					Required:    true,
				},
			},
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}
