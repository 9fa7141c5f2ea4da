package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
}

func (f *fakeResponder) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeResponder) last(t *testing.T) *discordgo.InteractionResponseData {
	t.Helper()
	require.NotEmpty(t, f.responses)
	return f.responses[len(f.responses)-1].Data
}

type fakeLedger struct {
	balances map[string]decimal.Decimal
	err      error
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.balances[userID], nil
}

func (f *fakeLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.balances[userID] = f.balances[userID].Add(amount)
	return nil
}

func commandInteraction(name, userID string, guild bool, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	i := &discordgo.Interaction{
		ID:   "i1",
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
	if guild {
		i.GuildID = "g1"
		i.Member = &discordgo.Member{User: &discordgo.User{ID: userID}}
	} else {
		i.User = &discordgo.User{ID: userID}
	}
	return &discordgo.InteractionCreate{Interaction: i}
}

func isAdmin(id string) bool { return id == "op" }

func TestGetCommands(t *testing.T) {
	var names []string
	for _, c := range GetCommands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{Premium, Orders, Balance, Credit}, names)
}

func TestInteractionUser(t *testing.T) {
	assert.Equal(t, "u1", InteractionUser(commandInteraction(Balance, "u1", true)).ID)
	assert.Equal(t, "u2", InteractionUser(commandInteraction(Balance, "u2", false)).ID)
}

func TestHandleBalance(t *testing.T) {
	r := &fakeResponder{}
	ledger := &fakeLedger{balances: map[string]decimal.Decimal{"u1": decimal.RequireFromString("7.5")}}

	HandleBalance(context.Background(), r, commandInteraction(Balance, "u1", false), ledger)

	data := r.last(t)
	assert.Equal(t, "Your balance: 7.50", data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, data.Flags)
}

func TestHandleBalance_StorageError(t *testing.T) {
	r := &fakeResponder{}
	HandleBalance(context.Background(), r, commandInteraction(Balance, "u1", false), &fakeLedger{err: errors.New("down")})
	assert.Contains(t, r.last(t).Content, "unavailable")
}

func TestHandleCredit(t *testing.T) {
	ledger := &fakeLedger{balances: map[string]decimal.Decimal{}}
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u9"},
		{Name: "amount", Type: discordgo.ApplicationCommandOptionString, Value: "12.345"},
	}

	t.Run("operator", func(t *testing.T) {
		r := &fakeResponder{}
		HandleCredit(context.Background(), r, commandInteraction(Credit, "op", true, opts...), ledger, isAdmin)
		assert.Equal(t, "Credited 12.35 to <@u9>.", r.last(t).Content)
		assert.True(t, ledger.balances["u9"].Equal(decimal.RequireFromString("12.35")))
	})

	t.Run("not an operator", func(t *testing.T) {
		r := &fakeResponder{}
		HandleCredit(context.Background(), r, commandInteraction(Credit, "u1", true, opts...), ledger, isAdmin)
		assert.Contains(t, r.last(t).Content, "operators only")
		assert.True(t, ledger.balances["u9"].Equal(decimal.RequireFromString("12.35")))
	})

	t.Run("bad amount", func(t *testing.T) {
		r := &fakeResponder{}
		bad := []*discordgo.ApplicationCommandInteractionDataOption{
			opts[0],
			{Name: "amount", Type: discordgo.ApplicationCommandOptionString, Value: "-3"},
		}
		HandleCredit(context.Background(), r, commandInteraction(Credit, "op", true, bad...), ledger, isAdmin)
		assert.Contains(t, r.last(t).Content, "positive amount")
	})
}
