package telegrambot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	coreconfig "github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/core/logger"
	tg "github.com/m3rciful/curatorbot/core/telegram"
	"github.com/m3rciful/curatorbot/relay"
	"github.com/m3rciful/curatorbot/relay/delivery"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"
	"github.com/m3rciful/curatorbot/relay/statusapi"
	"github.com/m3rciful/curatorbot/relay/timeout"

	tele "gopkg.in/telebot.v4"
)

const (
	startupCheckTimeout = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// App is the assembled relay bot.
type App struct {
	cfg   *coreconfig.Config
	store kvstore.Store
	clock clock.Clock
	bot   *tele.Bot

	Service  *relay.Service
	Handlers *Handlers
	Registry *tg.Registry

	coordinator *delivery.Coordinator
	monitor     *timeout.Monitor
	status      *statusapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp wires the relay over store, sending through m. bot may be nil in
// tests; RunOptions then builds one from cfg.
func NewApp(cfg *coreconfig.Config, store kvstore.Store, bot *tele.Bot, m notify.Messenger, c clock.Clock) (*App, error) {
	if c == nil {
		c = clock.Real()
	}
	adminID := cfg.Telegram.AdminID
	reg := request.NewRegistry(store, c, cfg.Store.Horizon)
	sessions := session.NewTracker(store, c, cfg.Store.Horizon)
	monitor := timeout.New(reg, m, c, adminID, cfg.Relay.ResponseTimeout)
	coord := delivery.New(reg, store, m, monitor, c, delivery.Options{
		AdminID:         adminID,
		ResponseTimeout: cfg.Relay.ResponseTimeout,
		SweepInterval:   cfg.Relay.SweepInterval,
		BatchSize:       cfg.Relay.BatchSize,
		Pause:           cfg.Relay.Pause,
		SendTimeout:     cfg.Relay.SendTimeout,
		MaxAttempts:     cfg.Relay.MaxAttempts,
	})
	svc := relay.New(relay.Options{AdminID: adminID, Mode: cfg.Telegram.RunMode}, reg, sessions, coord, monitor, m, c)

	a := &App{
		cfg:         cfg,
		store:       store,
		clock:       c,
		bot:         bot,
		Service:     svc,
		Handlers:    NewHandlers(svc, sessions, adminID),
		Registry:    tg.NewRegistry(),
		coordinator: coord,
		monitor:     monitor,
	}
	if err := a.Handlers.Register(a.Registry); err != nil {
		return nil, err
	}
	if cfg.Status.Listen != "" {
		a.status = statusapi.New(svc)
	}
	return a, nil
}

// TelegramRunOptions describes how the bot runs.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    a.Registry,
		Bot:         a.bot,
		Middlewares: tg.DefaultMiddlewares(a.cfg, a.Handlers.OnRateLimited),
		Routes:      a.Handlers.Routes(a.Registry),
		OnStart:     a.Start,
		OnStop:      a.Stop,
	}, nil
}

// Start launches the background loops: retry sweeps, store purging and
// the status API. Timeout checks of waiting requests are re-armed and the
// startup probe goes out when enabled.
func (a *App) Start(ctx context.Context, _ tg.Runtime) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	queued, err := a.coordinator.Resume(ctx)
	logger.Log(ctx, logger.CompApp, levelFor(err), "app.requeue",
		slog.String("status", logger.Status(err)),
		slog.Int("queued", queued),
		logger.Err(err),
	)
	a.goLoop(func() { a.coordinator.Run(loopCtx) })
	if p, ok := a.store.(kvstore.Purger); ok {
		a.goLoop(func() { kvstore.RunJanitor(loopCtx, p, a.clock, a.cfg.Store.PurgeInterval) })
	}

	n, err := a.monitor.Resume(ctx)
	logger.Log(ctx, logger.CompApp, levelFor(err), "app.resume",
		slog.String("status", logger.Status(err)),
		slog.Int("armed", n),
		logger.Err(err),
	)

	if a.status != nil {
		a.status.Start(a.cfg.Status.Listen)
	}

	if a.cfg.Relay.StartupCheckEnabled() && a.cfg.Telegram.AdminID != 0 {
		a.goLoop(func() {
			checkCtx, cancel := context.WithTimeout(loopCtx, startupCheckTimeout)
			defer cancel()
			_ = a.Service.RunStartupCheck(checkCtx)
		})
	}
	return nil
}

// Stop ends the background loops and pending timeout checks.
func (a *App) Stop(ctx context.Context, _ tg.Runtime) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.monitor.Stop()
	if a.status != nil {
		sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := a.status.Shutdown(sctx); err != nil {
			logger.Warn(ctx, logger.CompStatus, "status.shutdown", slog.String("status", "fail"), logger.Err(err))
		}
	}
	return nil
}

func (a *App) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
