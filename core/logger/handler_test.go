package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func captureLine(t *testing.T, format logFormat, emit func(*slog.Logger)) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{
		level:  slog.LevelDebug,
		writer: aw,
		format: format,
	})
	emit(slog.New(h))
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

func TestKVLineOrder(t *testing.T) {
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithRequestID(ctx, "1714560000000-42")
	line := captureLine(t, formatKV, func(lg *slog.Logger) {
		LogEvent(ctx, lg.With("component", CompDelivery), slog.LevelInfo, "delivery.attempt",
			slog.String("status", "OK"),
			slog.Int("attempt", 2),
		)
	})
	want := []string{"ts=", "level=INFO", "component=relay.delivery", "event=delivery.attempt",
		"status=ok", "rid=rid-123", "request_id=1714560000000-42", "attempt=2"}
	tokens := strings.Split(line, " ")
	if len(tokens) < len(want) {
		t.Fatalf("line %q has %d tokens", line, len(tokens))
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, want prefix %s (line %s)", i, tokens[i], prefix, line)
		}
	}
}

func TestJSONLineOrderAndCompactRID(t *testing.T) {
	raw := "12:34:56"
	ctx := WithRID(context.Background(), raw)
	line := captureLine(t, formatJSON, func(lg *slog.Logger) {
		LogEvent(ctx, lg.With("component", CompTimeout), slog.LevelError, "timeout.check",
			slog.String("status", "fail"),
			slog.Any("err", errors.New("boom")),
		)
	})
	order := []string{`{"ts":`, `"level":"ERROR"`, `"component":"relay.timeout"`,
		`"event":"timeout.check"`, `"status":"fail"`, `"rid":"` + CompactRID(raw) + `"`, `"rid_full":"12:34:56"`}
	pos := -1
	for _, p := range order {
		idx := strings.Index(line, p)
		if idx < 0 || idx < pos {
			t.Fatalf("%s missing or out of order in %s", p, line)
		}
		pos = idx
	}
	if !strings.Contains(line, `"err":"boom"`) {
		t.Fatalf("error not rendered: %s", line)
	}
}

func TestKVOmitsRIDFull(t *testing.T) {
	ctx := WithRID(context.Background(), "1:2:3")
	line := captureLine(t, formatKV, func(lg *slog.Logger) {
		LogEvent(ctx, lg, slog.LevelInfo, "x")
	})
	if !strings.Contains(line, "rid=1.2.3") || strings.Contains(line, "rid_full") {
		t.Fatalf("unexpected rid rendering: %s", line)
	}
	if !strings.Contains(line, "component=app") {
		t.Fatalf("default component missing: %s", line)
	}
}

func TestDurationKeysAndEmptyPruned(t *testing.T) {
	line := captureLine(t, formatKV, func(lg *slog.Logger) {
		LogEvent(context.Background(), lg, slog.LevelInfo, "sweep",
			slog.Duration("duration", 1500*time.Microsecond),
			slog.Duration("delay", 2*time.Second),
			Err(nil),
			slog.String("outcome", "bogus"),
		)
	})
	if !strings.Contains(line, "duration_ms=2") || !strings.Contains(line, "delay_ms=2000") {
		t.Fatalf("duration keys not normalized: %s", line)
	}
	if strings.Contains(line, "err=") || strings.Contains(line, "outcome=") {
		t.Fatalf("empty err or invalid outcome kept: %s", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	h := newStructuredHandler(handlerConfig{level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled at warn level")
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(parseRatioSpec("2/5"))
	allowed := 0
	for i := 0; i < 10; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 4 {
		t.Fatalf("allowed %d of 10 at 2/5, want 4", allowed)
	}
	off := newRatioSampler(parseRatioSpec("off"))
	if !off.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\td", 3); got != "abc" {
		t.Fatalf("SanitizeLimit = %q, want abc", got)
	}
}
