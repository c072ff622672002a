package kvstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/logger"
)

// RunJanitor purges expired records every interval until ctx is done.
func RunJanitor(ctx context.Context, p Purger, c clock.Clock, interval time.Duration) {
	if p == nil || interval <= 0 {
		return
	}
	if c == nil {
		c = clock.Real()
	}
	ticker := c.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n, err := p.Purge(ctx)
			if err != nil {
				logger.Warn(ctx, logger.CompStore, "store.purge",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				continue
			}
			if n > 0 {
				logger.Debug(ctx, logger.CompStore, "store.purge",
					slog.String("status", "ok"),
					slog.Int("count", n),
					slog.Duration("duration", logger.Took(start)),
				)
			}
		}
	}
}
