package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/curatorbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// UpdateStartKey holds the time the update entered the middleware chain.
const UpdateStartKey = "update_start"

// Recently seen update ids, so a chain applied on several branches logs
// the receipt once.
var (
	recentMu     sync.Mutex
	recentUpdate = make(map[int]time.Time)
	keepFor      = 10 * time.Second
)

func alreadyLogged(updateID int) bool {
	now := time.Now()
	recentMu.Lock()
	defer recentMu.Unlock()
	for id, ts := range recentUpdate {
		if now.Sub(ts) > keepFor {
			delete(recentUpdate, id)
		}
	}
	if _, ok := recentUpdate[updateID]; ok {
		return true
	}
	recentUpdate[updateID] = now
	return false
}

// LoggerMiddleware assigns the update's rid, stores the logging context
// and logs one sampled debug receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		user := c.Sender()
		chat := c.Chat()

		var chatID, userID int64
		if chat != nil {
			chatID = chat.ID
		}
		if user != nil {
			userID = user.ID
		}
		rid, _ := c.Get(tghelpers.RIDKey).(string)
		if rid == "" {
			rid = logger.BuildRID(upd.ID, chatID, userID)
			c.Set(tghelpers.RIDKey, rid)
			c.Set(UpdateStartKey, time.Now())

			ctx := logger.WithRID(context.Background(), rid)
			ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
			ctx = logger.WithLogger(ctx, logger.Component(logger.CompTG))
			tghelpers.StoreContext(c, ctx)
		}
		ctx := tghelpers.BuildContext(c)

		if logger.ShouldSampleDebug() && !alreadyLogged(upd.ID) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user != nil && user.Username != "" {
				attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
			}
			switch {
			case upd.Callback != nil:
				key, payload := callbacks.Parse(upd.Callback)
				attrs = append(attrs,
					slog.String("cb_key", logger.SanitizeLimit(key, 64)),
					slog.String("payload", logger.SanitizeLimit(payload, 128)),
				)
			case upd.Message != nil:
				// Message text is not logged, only its length.
				attrs = append(attrs, slog.Int("text_len", len(c.Text())))
			}
			logger.LogEvent(ctx, logger.Component(logger.CompTG), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}
