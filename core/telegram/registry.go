package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds the bot's commands and callback handlers.
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]commands.Command
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
}

// NewRegistry creates an empty registry. Unknown callbacks get a short
// toast until SetCallbackNotFound replaces it.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

func wireWarn(event string, attrs ...slog.Attr) {
	logger.Warn(context.Background(), logger.CompTWire, event, attrs...)
}

// RegisterCommand adds cmd under name, which must start with a slash.
// Invalid and duplicate registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	if name == "" || cmd.Handler == nil || cmd.Description == "" {
		wireWarn("register.command.skip", slog.String("key", name), slog.String("reason", "invalid"))
		return
	}
	if name[0] != '/' {
		wireWarn("register.command.skip", slog.String("key", name), slog.String("reason", "no_slash_prefix"))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		wireWarn("register.command.duplicate", slog.String("key", name))
		return
	}
	r.commands[name] = cmd
}

// ListCommands returns the menu entries sorted by name. visibleOnly drops
// hidden and admin-only commands; otherwise only hidden ones are dropped.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []tele.Command
	for name, meta := range r.commands {
		if meta.Hidden || (visibleOnly && meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand finds a command by name or alias and returns its key.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", commands.Command{}, false
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if alias == name || "/"+alias == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]commands.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// RegisterCallback maps a callback key to handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		wireWarn("register.callback.skip", slog.String("key", key), slog.Bool("handler_nil", handler == nil))
		return fmt.Errorf("invalid callback registration %q", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		wireWarn("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered keys sorted.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetCallbackNotFound replaces the handler for unknown callback keys.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the handler for unknown callback keys.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// CommandSetter is the part of *tele.Bot SetupCommands needs.
type CommandSetter interface {
	SetCommands(opts ...interface{}) error
}

// SetupCommands publishes the command menus: public commands for everyone
// and, when adminID is set, the full list in the admin's private chat.
func SetupCommands(bot CommandSetter, reg *Registry, adminID int64) {
	ctx := context.Background()
	if bot == nil || reg == nil {
		return
	}
	public := reg.ListCommands(true)
	if err := bot.SetCommands(public); err != nil {
		logger.Error(ctx, logger.CompTWire, "register.commands", slog.String("status", "fail"), logger.Err(err))
		return
	}
	if adminID != 0 {
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: adminID}
		if err := bot.SetCommands(reg.ListCommands(false), scope); err != nil {
			logger.Error(ctx, logger.CompTWire, "register.commands", slog.String("status", "fail"), slog.String("scope", "admin"), logger.Err(err))
			return
		}
	}
	logger.Info(ctx, logger.CompTWire, "register.commands",
		slog.String("status", "ok"),
		slog.Int("count", len(public)),
	)
}
