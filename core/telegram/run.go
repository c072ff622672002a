package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/logger"
	tghelpers "github.com/m3rciful/curatorbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/curatorbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Bot is used when set; otherwise NewBot builds one from Config.
	Bot *tele.Bot

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
	Mode       string
	StartedAt  time.Time
}

// NewBot builds a bot with the configured poller and HTTP client.
// Handler errors that escape the routers are logged, not returned.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram: nil config provided")
	}
	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: BuildPoller(PollerOptions{
			RunMode:                cfg.Telegram.RunMode,
			LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
			Webhook: WebhookOptions{
				Listen: cfg.Webhook.Listen,
				Port:   cfg.Webhook.Port,
				URL:    cfg.Webhook.URL,
			},
		}),
		Client:  BuildHTTPClient(cfg.Telegram.LongPollTimeoutSeconds),
		OnError: onBotError,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logger.Info(context.Background(), logger.CompTG, "bot.init",
		slog.String("status", "ok"),
		slog.String("username", bot.Me.Username),
		slog.Duration("duration", logger.Took(start)),
	)
	return bot, nil
}

func onBotError(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Error(ctx, logger.CompTG, "handler.error", slog.String("status", "fail"), logger.Err(err))
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}

	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	bot := opts.Bot
	if bot == nil {
		var err error
		if bot, err = NewBot(cfg); err != nil {
			return err
		}
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	useHelperDispatcher := !opts.DisableHelperDispatcher
	if useHelperDispatcher {
		tghelpers.SetDispatcher(dispatcher)
	}

	rt := Runtime{
		Bot:        bot,
		Dispatcher: dispatcher,
		Registry:   reg,
		Mode:       cfg.Telegram.RunMode,
		StartedAt:  time.Now(),
	}

	switch p := bot.Poller.(type) {
	case *tele.Webhook:
		logger.Info(ctx, logger.CompTG, "bot.mode",
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
		)
	default:
		logger.Info(ctx, logger.CompTG, "bot.mode",
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Int("timeout_seconds", longPollTimeout(cfg.Telegram.LongPollTimeoutSeconds)),
		)
		if !opts.DisableWebhookCleanup {
			err := bot.RemoveWebhook(false)
			logger.Log(ctx, logger.CompTG, levelFor(err), "bot.delete_webhook",
				slog.String("status", logger.Status(err)),
				logger.Err(err),
			)
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use == nil {
			continue
		}
		bot.Use(mw.Use)
	}

	for _, route := range opts.Routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		bot.Handle(route.Endpoint, route.Handler)
	}

	SetupCommands(bot, reg, cfg.Telegram.AdminID)

	cleanup := func() {
		dispatcher.Close()
		if useHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			cleanup()
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	cleanup()

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
