// Package telegrambot connects the relay service to Telegram: it
// implements the Messenger over telebot and maps updates onto service
// operations.
package telegrambot

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/keyboard"
	"github.com/m3rciful/curatorbot/core/telegram/sender"
	"github.com/m3rciful/curatorbot/relay/notify"

	tele "gopkg.in/telebot.v4"
)

// API is the part of *tele.Bot the messenger uses.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Messenger sends relay notifications as Telegram messages. Telebot calls
// take no context, so each call runs in its own goroutine and is
// abandoned when ctx ends.
type Messenger struct {
	api API
}

var _ notify.Messenger = (*Messenger)(nil)

// NewMessenger wraps api.
func NewMessenger(api API) *Messenger {
	return &Messenger{api: api}
}

// Notify sends text to actorID with actions as inline buttons.
func (m *Messenger) Notify(ctx context.Context, actorID int64, text string, actions ...notify.Action) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if markup := Markup(actions); markup != nil {
		opts.ReplyMarkup = markup
	}
	return m.call(ctx, "notify", actorID, func() error {
		_, err := m.api.Send(tele.ChatID(actorID), text, opts)
		return err
	})
}

// AcknowledgeInteraction answers the callback query interactionID.
func (m *Messenger) AcknowledgeInteraction(ctx context.Context, interactionID, text string) error {
	return m.call(ctx, "ack", 0, func() error {
		return m.api.Respond(&tele.Callback{ID: interactionID}, &tele.CallbackResponse{Text: text})
	})
}

func (m *Messenger) call(ctx context.Context, action string, actorID int64, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		logger.Warn(ctx, logger.CompTG, "messenger."+action,
			slog.String("status", "fail"),
			slog.Int64("user_id", actorID),
			slog.String("reason", sender.Classify(err)),
			slog.String("err", sender.Redact(err)),
			slog.Duration("duration", logger.Took(start)),
		)
		return err
	}
	logger.Debug(ctx, logger.CompTG, "messenger."+action,
		slog.String("status", "ok"),
		slog.Int64("user_id", actorID),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Markup renders actions as one inline button per row, nil for none.
func Markup(actions []notify.Action) *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(actions))
	for _, a := range actions {
		btns = append(btns, keyboard.InlineBtn{Text: a.Label, Unique: a.Key, Data: a.Payload, URL: a.URL})
	}
	return keyboard.InlineButtons(btns)
}
