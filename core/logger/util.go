package logger

import (
	"log/slog"
	"time"
)

// Status maps err to the status value used in log lines.
func Status(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// Err renders err under the "err" key; a nil error yields an empty attr
// that the handler prunes.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}

// Took returns the elapsed time since start rounded to milliseconds.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to milliseconds; negative values become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}
