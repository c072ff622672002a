// Command curatorbot relays user questions to a curator over Telegram.
package main

import (
	"context"
	"log"
	"os"

	"github.com/m3rciful/curatorbot/core/bootstrap"
	"github.com/m3rciful/curatorbot/core/cmd"
	coreconfig "github.com/m3rciful/curatorbot/core/config"
	coretelegram "github.com/m3rciful/curatorbot/core/telegram"
	"github.com/m3rciful/curatorbot/relay/telegrambot"
)

func main() {
	err := cmd.Run(cmd.Options{
		Name:       "curatorbot",
		Args:       os.Args[1:],
		LoadConfig: coreconfig.Load,
		Bootstrap:  build,
	})
	if code := cmd.ExitCode(err); code != 0 {
		log.Printf("curatorbot: %v", err)
		os.Exit(code)
	}
}

func build(ctx context.Context, cfg *coreconfig.Config) (cmd.TelegramApp, func() error, error) {
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, nil, err
	}
	bot, err := coretelegram.NewBot(cfg)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	app, err := telegrambot.NewApp(cfg, infra.Store, bot, telegrambot.NewMessenger(bot), nil)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	return app, infra.Close, nil
}
