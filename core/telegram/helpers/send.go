package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by SendText. nil makes
// sends synchronous again.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	ctx := BuildContext(c)
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, logger.CompTG, "send.queue_fallback",
			slog.String("action", action),
			logger.Err(err),
		)
		return run()
	}
	return err
}

// SendText replies to the current chat without waiting for Telegram.
// Use it for replies whose failure the caller does not need to see.
func SendText(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return sendAsync(c, "send.text", "sendMessage", func() error {
		return c.Send(text, opts)
	})
}

const respondedKey = "cb_responded"

// MarkResponded records that the callback query was answered elsewhere.
func MarkResponded(c tele.Context) {
	c.Set(respondedKey, true)
}

// Responded reports whether the callback query was answered.
func Responded(c tele.Context) bool {
	v, _ := c.Get(respondedKey).(bool)
	return v
}

// Respond answers the callback query of the update once, showing text as
// a toast when it is not empty.
func Respond(c tele.Context, text string) error {
	if c.Callback() == nil || Responded(c) {
		return nil
	}
	MarkResponded(c)
	if text == "" {
		return c.Respond()
	}
	return c.Respond(&tele.CallbackResponse{Text: text})
}
