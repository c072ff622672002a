// Package callbacks decodes inline button callback data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Sep separates the key from the payload, and payload parts from each other.
const Sep = "|"

// Parse splits callback data into key and payload. Telebot encodes
// buttons as "\f<unique>|<payload>"; handlers bound to a unique already
// receive the split values.
func Parse(cb *tele.Callback) (key, payload string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	key, payload, _ = strings.Cut(raw, Sep)
	return strings.TrimSpace(key), payload
}

// Key returns the callback key of the update.
func Key(c tele.Context) string {
	k, _ := Parse(c.Callback())
	return k
}

// Payload returns the callback payload of the update.
func Payload(c tele.Context) string {
	_, p := Parse(c.Callback())
	return p
}
