package bot

import (
	"context"
	"log"
	"math/rand"
	"net"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/premiumbot/internal/flow"
)

const (
	maxContentLen = 2000
	maxRows       = 5
	maxRowButtons = 5
)

// Minimal session interface for sending channel messages.
type messageSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Messenger implements flow.Messenger on a Discord session.
type Messenger struct {
	session        messageSession
	attemptTimeout time.Duration
	maxAttempts    int
}

func NewMessenger(session messageSession) *Messenger {
	return &Messenger{
		session:        session,
		attemptTimeout: 12 * time.Second,
		maxAttempts:    2,
	}
}

func (m *Messenger) Send(ctx context.Context, chatID string, msg flow.Message) error {
	return m.sendWithRetry(ctx, chatID, render(msg))
}

func (m *Messenger) sendWithRetry(ctx context.Context, channelID string, data *discordgo.MessageSend) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
		_, err := m.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) || attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(300+rand.Intn(500)) * time.Millisecond):
		}
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout() || ne.Temporary()
	}
	return false
}

// render converts a flow message into Discord components. Long button rows
// are wrapped; rows beyond Discord's limit are dropped.
func render(m flow.Message) *discordgo.MessageSend {
	out := &discordgo.MessageSend{Content: truncate(m.Text, maxContentLen)}
	if m.ImageURL != "" {
		out.Embeds = []*discordgo.MessageEmbed{{
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: m.ImageURL},
		}}
	}

	for _, row := range m.Buttons {
		for len(row) > 0 {
			n := len(row)
			if n > maxRowButtons {
				n = maxRowButtons
			}
			if len(out.Components) == maxRows {
				log.Printf("bot: dropping buttons beyond %d rows", maxRows)
				return out
			}
			var components []discordgo.MessageComponent
			for _, b := range row[:n] {
				components = append(components, renderButton(b))
			}
			out.Components = append(out.Components, discordgo.ActionsRow{Components: components})
			row = row[n:]
		}
	}
	return out
}

func renderButton(b flow.Button) discordgo.Button {
	if b.URL != "" {
		return discordgo.Button{Label: b.Label, Style: discordgo.LinkButton, URL: b.URL}
	}
	return discordgo.Button{Label: b.Label, Style: discordgo.PrimaryButton, CustomID: b.Action.String()}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
