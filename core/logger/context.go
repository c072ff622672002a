package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	keyRID ctxKey = iota
	keyUpdateID
	keyUserID
	keyChatID
	keyLogger
	keyHandler
	keyRequestID
)

// WithLogger stores lg in ctx for downstream helpers.
func WithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if lg == nil {
		return ctx
	}
	return context.WithValue(ctx, keyLogger, lg)
}

// FromContext returns the logger stored in ctx or the global one.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if lg, ok := ctx.Value(keyLogger).(*slog.Logger); ok {
			return lg
		}
	}
	return L
}

// WithRID attaches a correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyRID, rid)
}

// RIDFrom returns the correlation id in ctx.
func RIDFrom(ctx context.Context) string {
	return stringValue(ctx, keyRID)
}

// WithUpdateMeta attaches the Telegram update, user and chat ids.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, keyUpdateID, updateID)
	ctx = context.WithValue(ctx, keyUserID, userID)
	return context.WithValue(ctx, keyChatID, chatID)
}

// WithHandler records which route handles the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, keyHandler, handler)
}

// HandlerFrom returns the route name in ctx.
func HandlerFrom(ctx context.Context) string {
	return stringValue(ctx, keyHandler)
}

// WithRequestID tags every line logged under ctx with a support request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFrom returns the support request id in ctx.
func RequestIDFrom(ctx context.Context) string {
	return stringValue(ctx, keyRequestID)
}

// UserIDFrom returns the Telegram user id in ctx.
func UserIDFrom(ctx context.Context) int64 {
	return int64Value(ctx, keyUserID)
}

// ChatIDFrom returns the chat id in ctx.
func ChatIDFrom(ctx context.Context) int64 {
	return int64Value(ctx, keyChatID)
}

// UpdateIDFrom returns the update id in ctx.
func UpdateIDFrom(ctx context.Context) int {
	return int(int64Value(ctx, keyUpdateID))
}

func stringValue(ctx context.Context, k ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(k).(string)
	return s
}

func int64Value(ctx context.Context, k ctxKey) int64 {
	if ctx == nil {
		return 0
	}
	switch v := ctx.Value(k).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit sanitizes s and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// BuildRID formats updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID rewrites a BuildRID value into dot-separated base36 parts.
// Anything else is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
