// Package timeout escalates delivered requests the admin has not answered
// within the response window.
package timeout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
)

// DefaultWindow is the response window when none is configured.
const DefaultWindow = 30 * time.Minute

const notifyTimeout = 15 * time.Second

type pending struct {
	gen   uint64
	timer *clock.Timer
}

// Monitor holds one pending check per request id.
type Monitor struct {
	registry  *request.Registry
	messenger notify.Messenger
	clock     clock.Clock
	adminID   int64
	window    time.Duration

	mu     sync.Mutex
	seq    uint64
	timers map[string]*pending
	closed bool
}

// New builds a monitor escalating to adminID after window.
func New(reg *request.Registry, m notify.Messenger, c clock.Clock, adminID int64, window time.Duration) *Monitor {
	if c == nil {
		c = clock.Real()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{
		registry:  reg,
		messenger: m,
		clock:     c,
		adminID:   adminID,
		window:    window,
		timers:    make(map[string]*pending),
	}
}

// Window returns the configured response window.
func (m *Monitor) Window() time.Duration { return m.window }

// Arm schedules Check for id after delay, replacing a pending check for
// the same id. A non-positive delay checks right away.
func (m *Monitor) Arm(id string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if old, ok := m.timers[id]; ok {
		old.timer.Stop()
	}
	m.seq++
	gen := m.seq
	m.timers[id] = &pending{gen: gen}
	m.mu.Unlock()

	t := m.clock.AfterFunc(delay, func() { m.fire(id, gen) })

	m.mu.Lock()
	if p, ok := m.timers[id]; ok && p.gen == gen {
		p.timer = t
	}
	m.mu.Unlock()
	logger.Debug(context.Background(), logger.CompTimeout, "timeout.arm",
		slog.String("request_id", id),
		slog.Duration("delay", delay),
	)
}

// Disarm drops the pending check for id, if any.
func (m *Monitor) Disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.timers[id]; ok {
		p.timer.Stop()
		delete(m.timers, id)
	}
}

// Armed reports whether a check for id is pending.
func (m *Monitor) Armed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[id]
	return ok
}

// Pending returns the number of pending checks.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every pending check; later Arm calls are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, p := range m.timers {
		p.timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Monitor) fire(id string, gen uint64) {
	m.mu.Lock()
	p, ok := m.timers[id]
	if !ok || p.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if _, err := m.Check(ctx, id); err != nil {
		logger.Error(ctx, logger.CompTimeout, "timeout.check", slog.String("status", "fail"), slog.String("request_id", id), logger.Err(err))
	}
}

// Check times out id if it is still Waiting and notifies both sides once.
// It reports whether the request was escalated. Requests that were answered,
// already timed out or expired are left alone.
func (m *Monitor) Check(ctx context.Context, id string) (bool, error) {
	r, err := m.registry.MarkTimedOut(ctx, id)
	if errors.Is(err, request.ErrInvalidTransition) || errors.Is(err, request.ErrRequestNotFound) {
		logger.Debug(ctx, logger.CompTimeout, "timeout.check",
			slog.String("status", "skip"),
			slog.String("request_id", id),
			logger.Err(err),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := m.messenger.Notify(ctx, r.SubmitterID, notify.TextTimeoutSorry); err != nil {
		logger.Warn(ctx, logger.CompTimeout, "timeout.notify_submitter", slog.String("status", "fail"), slog.String("request_id", id), logger.Err(err))
	}
	actions := []notify.Action{
		{Label: "💬 Reply via bot", Key: notify.KeyReply, Payload: r.ID},
		{Label: "📱 Open dialog", URL: notify.WebLink(r.SubmitterID, r.SubmitterUsername)},
	}
	if err := m.messenger.Notify(ctx, m.adminID, notify.Escalation(r, m.window), actions...); err != nil {
		logger.Warn(ctx, logger.CompTimeout, "timeout.escalate", slog.String("status", "fail"), slog.String("request_id", id), logger.Err(err))
	}
	logger.Info(ctx, logger.CompTimeout, "timeout.escalate",
		slog.String("status", "ok"),
		slog.String("request_id", id),
		slog.Int64("submitter_id", r.SubmitterID),
	)
	return true, nil
}

// Resume re-arms every Waiting request with what is left of its window,
// measured from its last activity. It returns the number of armed checks.
func (m *Monitor) Resume(ctx context.Context) (int, error) {
	reqs, err := m.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	n := 0
	for _, r := range reqs {
		if r.Status != request.StatusWaiting {
			continue
		}
		m.Arm(r.ID, r.LastActivityAt.Add(m.window).Sub(now))
		n++
	}
	logger.Info(ctx, logger.CompTimeout, "timeout.resume", slog.Int("count", n))
	return n, nil
}
