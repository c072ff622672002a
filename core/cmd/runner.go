// Package cmd runs a Telegram app: flags, configuration, bootstrap and the
// signal-aware bot loop.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/m3rciful/curatorbot/core/buildinfo"
	coreconfig "github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/logger"
	coretelegram "github.com/m3rciful/curatorbot/core/telegram"
)

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	Name              string
	Args              []string
	Stdout            io.Writer
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	// Bootstrap builds the app; the returned closer runs after the bot stops.
	Bootstrap func(ctx context.Context, cfg *coreconfig.Config) (TelegramApp, func() error, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ErrVersionShown ends Run after --version; it is not a failure.
var ErrVersionShown = errors.New("version shown")

// ExitCode maps a Run error to a process exit status: 2 for invalid
// configuration, 1 for other failures.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrVersionShown):
		return 0
	case coreconfig.IsConfigError(err):
		return 2
	default:
		return 1
	}
}

// ConfigPath resolves the config file: the --config flag, then the
// environment variable, then the default.
func ConfigPath(flagValue, envVar, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// Run loads configuration, bootstraps the Telegram app, and starts the bot runtime.
func Run(opts Options) error {
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	name := opts.Name
	if name == "" {
		name = "bot"
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	def := opts.DefaultConfigPath
	if def == "" {
		def = "config.yaml"
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	configFlag := fs.StringP("config", "c", "", "path to the YAML config (default $"+env+" or "+def+")")
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	if err := fs.Parse(opts.Args); err != nil {
		return fmt.Errorf("cmd: %w", err)
	}
	if *showVersion {
		fmt.Fprintln(stdout, buildinfo.String())
		return ErrVersionShown
	}

	cfgPath := ConfigPath(*configFlag, env, def)
	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	application, closeApp, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	if closeApp != nil {
		defer func() {
			if err := closeApp(); err != nil {
				logger.Warn(context.Background(), logger.CompApp, "app.close", slog.String("status", "fail"), logger.Err(err))
			}
		}()
	}

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}

	prevStart := runOpts.OnStart
	runOpts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if prevStart != nil {
			if err := prevStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, logger.CompApp, "app.ready",
			slog.String("version", buildinfo.Version),
			slog.String("mode", rt.Mode),
			slog.Duration("startup_duration", time.Since(startedAt)),
		)
		return nil
	}

	prevStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, logger.CompApp, "app.shutdown")
		if prevStop != nil {
			return prevStop(ctx, rt)
		}
		return nil
	}

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}
