package flow

import (
	"regexp"
	"strings"
)

// Separators: half-width comma, full-width comma, ideographic comma and any
// whitespace, including the ideographic space.
var reRecipientSep = regexp.MustCompile(`[,，、\s\p{Z}]+`)

// ParseRecipients splits free text into recipient handles, stripping a
// leading '@' and dropping empty tokens.
func ParseRecipients(s string) []string {
	var out []string
	for _, tok := range reRecipientSep.Split(s, -1) {
		if tok = strings.TrimPrefix(tok, "@"); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
