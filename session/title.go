package session

import "strings"

const (
	maxTitleRunes   = 40
	titleCutRunes   = 37
	titleEllipsis   = "..."
	untitledSession = "New session"
)

// DeriveTitle turns the first user message into a session title. Whitespace
// runs collapse to single spaces; anything longer than 40 runes is cut to 37
// plus an ellipsis so the visible width never exceeds 40.
func DeriveTitle(userText string) string {
	collapsed := strings.Join(strings.Fields(userText), " ")
	if collapsed == "" {
		return untitledSession
	}
	runes := []rune(collapsed)
	if len(runes) <= maxTitleRunes {
		return collapsed
	}
	return string(runes[:titleCutRunes]) + titleEllipsis
}
