package state

import (
	"log/slog"
	"sync"

	"github.com/m3rciful/curatorbot/core/logger"
	tghelpers "github.com/m3rciful/curatorbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const resolvedKey = "fsm_state"

// Dispatcher calls the handler registered for the sender's state.
type Dispatcher struct {
	source Source

	mu       sync.RWMutex
	handlers map[State]tele.HandlerFunc
}

// NewDispatcher builds a dispatcher reading states from src.
func NewDispatcher(src Source) *Dispatcher {
	return &Dispatcher{source: src, handlers: make(map[State]tele.HandlerFunc)}
}

// Handle registers h for st. Registering for StateIdle has no effect.
func (d *Dispatcher) Handle(st State, h tele.HandlerFunc) {
	if h == nil || st == StateIdle {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[st] = h
}

func (d *Dispatcher) handler(st State) (tele.HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[st]
	return h, ok
}

// Current resolves the sender's state once per update.
func (d *Dispatcher) Current(c tele.Context) State {
	if st, ok := c.Get(resolvedKey).(State); ok {
		return st
	}
	st := StateIdle
	if sender := c.Sender(); sender != nil && d.source != nil {
		st = d.source.StateOf(tghelpers.BuildContext(c), sender.ID)
	}
	c.Set(resolvedKey, st)
	return st
}

// InProgress reports whether the sender is in a state with a handler.
func (d *Dispatcher) InProgress(c tele.Context) bool {
	_, ok := d.handler(d.Current(c))
	return ok
}

// ManagerHandler runs the handler of the sender's current state.
func (d *Dispatcher) ManagerHandler(c tele.Context) error {
	st := d.Current(c)
	h, ok := d.handler(st)
	logger.Debug(tghelpers.BuildContext(c), logger.CompTG, "fsm.dispatch",
		slog.String("mode", string(st)),
		slog.Bool("matched", ok),
	)
	if !ok {
		return nil
	}
	return h(c)
}
