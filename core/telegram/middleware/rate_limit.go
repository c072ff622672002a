package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/logger"
	tghelpers "github.com/m3rciful/curatorbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds (config.UpdateCallback, config.UpdateMessage)
	// that are never limited.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	Clock     clock.Clock
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return config.UpdateCallback
	case upd.Message != nil:
		return config.UpdateMessage
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware drops updates arriving from the same user less than
// Interval after the previous accepted one.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
		lastGC   time.Time
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			now := opts.Clock.Now()
			mu.Lock()
			if now.Sub(lastGC) > time.Minute {
				for id, ts := range lastSeen {
					if now.Sub(ts) >= opts.Interval {
						delete(lastSeen, id)
					}
				}
				lastGC = now
			}
			if last, ok := lastSeen[user.ID]; ok && now.Sub(last) < opts.Interval {
				mu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), logger.CompTG, "update.rate_limited",
					slog.String("outcome", "rate_limited"),
					slog.String("kind", kind),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[user.ID] = now
			mu.Unlock()
			return next(c)
		}
	}
}
