package commands

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error
}

func HandleBalance(ctx context.Context, s Responder, i *discordgo.InteractionCreate, ledger Ledger) {
	user := InteractionUser(i)
	if user == nil {
		return
	}
	bal, err := ledger.Balance(ctx, user.ID)
	if err != nil {
		log.Printf("commands: balance for %s: %v", user.ID, err)
		RespondEphemeral(s, i, "Your balance is unavailable right now. Please try again later.")
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("Your balance: %s", bal.StringFixed(2)))
}

// HandleCredit tops up another user's balance. Only operators may use it.
func HandleCredit(ctx context.Context, s Responder, i *discordgo.InteractionCreate, ledger Ledger, isAdmin func(string) bool) {
	user := InteractionUser(i)
	if user == nil || !isAdmin(user.ID) {
		RespondEphemeral(s, i, "This command is for operators only.")
		return
	}

	data := i.ApplicationCommandData()
	target := optionValue(data.Options, "user")
	amount, err := decimal.NewFromString(optionValue(data.Options, "amount"))
	if target == "" || err != nil || !amount.IsPositive() {
		RespondEphemeral(s, i, "Give a user and a positive amount, e.g. 12.50.")
		return
	}
	amount = amount.Round(2)

	if err := ledger.Credit(ctx, target, amount); err != nil {
		log.Printf("commands: credit %s to %s: %v", amount, target, err)
		RespondEphemeral(s, i, "Crediting failed.")
		return
	}
	log.Printf("commands: %s credited %s to %s", user.ID, amount.StringFixed(2), target)
	RespondEphemeral(s, i, fmt.Sprintf("Credited %s to <@%s>.", amount.StringFixed(2), target))
}
