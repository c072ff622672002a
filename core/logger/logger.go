package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/curatorbot/core/buildinfo"
	"github.com/m3rciful/curatorbot/core/config"
)

// Component names used across the bot. Every log line carries one of them.
const (
	CompApp      = "app"
	CompTG       = "tg"
	CompTWire    = "tg.wire"
	CompDB       = "db"
	CompMigrate  = "db.migrate"
	CompStore    = "store"
	CompRegistry = "relay.registry"
	CompSession  = "relay.session"
	CompDelivery = "relay.delivery"
	CompTimeout  = "relay.timeout"
	CompRelay    = "relay"
	CompStatus   = "status"
)

var (
	initOnce   sync.Once
	shutdownMu sync.Mutex
	closed     bool

	sink    *asyncWriter
	closers []io.Closer

	levelVar slog.LevelVar

	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool

	// L is the process-wide logger. It stays nil until Init succeeds;
	// every helper in this package tolerates that.
	L *slog.Logger

	// TG logs Telegram transport events.
	TG *slog.Logger
	// TWire logs handler and route registration.
	TWire *slog.Logger
	// DB logs connection pool events.
	DB *slog.Logger
	// MIG logs schema migrations.
	MIG *slog.Logger
)

// Init configures the global structured logger. Only the first call has effect.
func Init(cfg *config.Config) error {
	var initErr error
	initOnce.Do(func() {
		var lc config.LoggingConfig
		if cfg != nil {
			lc = cfg.Logging
		}
		levelVar.Set(parseLevel(lc.Level))
		debugSampler.Set(parseDebugSample(lc.DebugSample))
		traceOverride = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))

		outputs, files, err := openOutputs(lc)
		if err != nil {
			initErr = err
			return
		}
		closers = files
		sink = newAsyncWriter(outputs, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   sink,
			format:   parseFormat(lc),
			keyOrder: parseKeyOrder(lc.KeysOrder),
		}))
		slog.SetDefault(L)

		TG = L.With("component", CompTG)
		TWire = L.With("component", CompTWire)
		DB = L.With("component", CompDB)
		MIG = L.With("component", CompMigrate)

		startup(cfg)
	})
	return initErr
}

func startup(cfg *config.Config) {
	attrs := []slog.Attr{
		slog.String("component", CompApp),
		slog.String("event", "startup"),
		slog.String("version", buildinfo.Version),
		slog.String("go_version", runtime.Version()),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("mode", cfg.Telegram.RunMode),
			slog.String("store", cfg.Store.Backend),
			slog.String("cfg_profile", profile(cfg.Logging)),
		)
	}
	L.LogAttrs(context.Background(), slog.LevelInfo, "startup", attrs...)
}

// Shutdown flushes buffered output and closes file sinks. Safe to call twice.
func Shutdown() error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if sink != nil {
		errs = append(errs, sink.Flush(), sink.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func parseFormat(lc config.LoggingConfig) logFormat {
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	switch profile(lc) {
	case "debug", "dev":
		return formatKV
	}
	return formatJSON
}

func parseKeyOrder(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return append([]string(nil), defaultKeyOrder...)
	}
	var order []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			order = append(order, p)
		}
	}
	if len(order) == 0 {
		return append([]string(nil), defaultKeyOrder...)
	}
	return order
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func parseDebugSample(spec string) (int, int) {
	if strings.TrimSpace(spec) == "" {
		return 1, 50
	}
	num, den := parseRatioSpec(spec)
	if num == 0 && den == 0 {
		return 0, 0
	}
	if num <= 0 || den <= 0 {
		return 1, 50
	}
	return num, den
}

// openOutputs always includes stdout. A file sink that cannot be opened is
// reported on the std logger and skipped.
func openOutputs(lc config.LoggingConfig) ([]io.Writer, []io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	dir := strings.TrimSpace(lc.Dir)
	file := strings.TrimSpace(lc.BotFile)
	if dir == "" || file == "" {
		return writers, nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: create log dir %s: %v", dir, err)
		return writers, nil, nil
	}
	path := filepath.Join(dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: open log file %s: %v", path, err)
		return writers, nil, nil
	}
	return append(writers, f), []io.Closer{f}, nil
}

func profile(lc config.LoggingConfig) string {
	if p := strings.TrimSpace(lc.Profile); p != "" {
		return strings.ToLower(p)
	}
	return "prod"
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Component returns a logger scoped to name, or nil before Init.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Log writes one event line for component. A logger stored in ctx wins
// over the global one so request-scoped attributes survive.
func Log(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	lg := FromContext(ctx)
	if lg == nil {
		return
	}
	if component = strings.TrimSpace(component); component != "" {
		lg = lg.With("component", component)
	}
	LogEvent(ctx, lg, level, event, attrs...)
}

// LogEvent writes event through lg, falling back to the context logger.
func LogEvent(ctx context.Context, lg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if lg == nil {
		lg = FromContext(ctx)
	}
	if lg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	lg.LogAttrs(ctx, level, "", attrs...)
}

// Debug logs a debug-level event for component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info-level event for component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warn-level event for component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error-level event for component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug line should be written.
func ShouldSampleDebug() bool {
	return traceOverride || debugSampler.Allow()
}
