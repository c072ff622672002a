// Package commands describes slash commands exposed by the bot.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is a slash command with its handler and menu metadata.
// AdminOnly commands are shown only in the admin's command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}
