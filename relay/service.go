// Package relay maps inbound user and admin events onto the request
// registry, the session tracker, delivery and the timeout monitor.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay/delivery"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"
	"github.com/m3rciful/curatorbot/relay/timeout"
)

var (
	// ErrNoActiveFlow is returned when an event does not fit the actor's
	// current session.
	ErrNoActiveFlow = errors.New("no active flow")
	// ErrNotAdmin rejects admin operations from other actors.
	ErrNotAdmin = errors.New("admin only")
	// ErrEmptyText rejects blank questions and replies.
	ErrEmptyText = errors.New("empty text")
)

// Actor is whoever sent an event.
type Actor struct {
	ID       int64
	Label    string
	Username string
}

// Options identify the admin and describe the running process.
type Options struct {
	AdminID   int64
	Mode      string
	StartedAt time.Time
}

// Service is the event surface of the relay.
type Service struct {
	opts      Options
	registry  *request.Registry
	sessions  *session.Tracker
	delivery  *delivery.Coordinator
	monitor   *timeout.Monitor
	messenger notify.Messenger
	clock     clock.Clock
}

// New wires a service. StartedAt defaults to the clock's now.
func New(opts Options, reg *request.Registry, sessions *session.Tracker, coord *delivery.Coordinator,
	monitor *timeout.Monitor, m notify.Messenger, c clock.Clock,
) *Service {
	if c == nil {
		c = clock.Real()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = c.Now()
	}
	return &Service{
		opts:      opts,
		registry:  reg,
		sessions:  sessions,
		delivery:  coord,
		monitor:   monitor,
		messenger: m,
		clock:     c,
	}
}

// IsAdmin reports whether id is the configured admin.
func (s *Service) IsAdmin(id int64) bool {
	return s.opts.AdminID != 0 && id == s.opts.AdminID
}

func (s *Service) requireAdmin(a Actor) error {
	if !s.IsAdmin(a.ID) {
		return ErrNotAdmin
	}
	return nil
}

func (s *Service) tell(ctx context.Context, actorID int64, text string, actions ...notify.Action) error {
	if err := s.messenger.Notify(ctx, actorID, text, actions...); err != nil {
		logger.Warn(ctx, logger.CompRelay, "relay.notify",
			slog.String("status", "fail"),
			slog.Int64("user_id", actorID),
			logger.Err(err),
		)
		return err
	}
	return nil
}

// ResetSession returns the actor to Idle and confirms it.
func (s *Service) ResetSession(ctx context.Context, a Actor) error {
	if err := s.sessions.Clear(ctx, a.ID); err != nil {
		return err
	}
	text := notify.TextCancelled
	if s.IsAdmin(a.ID) {
		text = notify.TextAdminReset
	}
	_ = s.tell(ctx, a.ID, text)
	return nil
}

// HandleError turns an operation error into the actor-facing outcome: the
// session is reset where the flow cannot continue and a matching notice
// is sent.
func (s *Service) HandleError(ctx context.Context, a Actor, err error) {
	if err == nil {
		return
	}
	text, reset := notify.TextFailed, true
	switch {
	case errors.Is(err, ErrNotAdmin):
		text, reset = notify.TextAdminOnly, false
	case errors.Is(err, ErrEmptyText):
		text, reset = notify.TextEmptyQuestion, false
		if s.IsAdmin(a.ID) {
			text = notify.TextEmptyReply
		}
	case errors.Is(err, request.ErrRequestNotFound):
		text = notify.TextExpired
	case errors.Is(err, request.ErrAlreadyAnswered):
		text = notify.TextAlreadyAnswered
	case errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, request.ErrInvalidCategory),
		errors.Is(err, ErrNoActiveFlow):
		text = notify.TextNoActiveFlow
	}
	if reset {
		if cerr := s.sessions.Clear(ctx, a.ID); cerr != nil {
			logger.Warn(ctx, logger.CompRelay, "relay.reset", slog.String("status", "fail"), logger.Err(cerr))
		}
	}
	logger.Info(ctx, logger.CompRelay, "relay.error",
		slog.Int64("user_id", a.ID),
		slog.Bool("reset", reset),
		logger.Err(err),
	)
	_ = s.tell(ctx, a.ID, text)
}
