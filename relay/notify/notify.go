// Package notify defines the outbound messaging port of the relay and
// the texts it sends.
package notify

import (
	"context"
	"fmt"
	"strings"
)

// Action is a button attached to a notification. URL actions open a link;
// the others come back as callbacks carrying Key and Payload.
type Action struct {
	Label   string
	Key     string
	Payload string
	URL     string
}

// Messenger delivers notifications to actors.
type Messenger interface {
	Notify(ctx context.Context, actorID int64, text string, actions ...Action) error
	AcknowledgeInteraction(ctx context.Context, interactionID, text string) error
}

// Callback keys understood by the bot.
const (
	KeyCategory       = "cat"
	KeyReply          = "reply"
	KeyReclassify     = "recat"
	KeySetCategory    = "setcat"
	KeyCancel         = "cancel"
	KeyStartupConfirm = "startup_ok"
)

// PayloadSep joins multi-part callback payloads.
const PayloadSep = "|"

// JoinPayload builds a multi-part payload.
func JoinPayload(parts ...string) string {
	return strings.Join(parts, PayloadSep)
}

// DialogLink is the native client link to a private chat with userID.
func DialogLink(userID int64) string {
	return fmt.Sprintf("tg://user?id=%d", userID)
}

// WebLink is the https fallback for clients that reject tg:// buttons.
func WebLink(userID int64, username string) string {
	if u := strings.TrimPrefix(strings.TrimSpace(username), "@"); u != "" {
		return "https://t.me/" + u
	}
	return fmt.Sprintf("https://t.me/user?id=%d", userID)
}

// WithURL returns a copy of actions where every action whose URL equals
// from points to to instead.
func WithURL(actions []Action, from, to string) []Action {
	out := make([]Action, len(actions))
	for i, a := range actions {
		if a.URL == from {
			a.URL = to
		}
		out[i] = a
	}
	return out
}
