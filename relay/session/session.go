// Package session tracks the single conversational mode of each actor.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/codec"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/state"
	"github.com/m3rciful/curatorbot/relay/request"
)

// Mode is what the bot expects next from an actor.
type Mode string

const (
	ModeIdle                 Mode = "idle"
	ModeAwaitingCategory     Mode = "awaiting_category"
	ModeAwaitingQuestionText Mode = "awaiting_question_text"
	ModeAwaitingAdminReply   Mode = "awaiting_admin_reply"
)

// Aux holds the mode-specific data. Only the field belonging to the mode
// being set is kept.
type Aux struct {
	PendingCategory request.Category
	ActiveRequestID string
}

// Session is the stored record of one actor.
type Session struct {
	ActorID         int64            `cbor:"actor_id"`
	Mode            Mode             `cbor:"mode"`
	PendingCategory request.Category `cbor:"pending_category,omitempty"`
	ActiveRequestID string           `cbor:"active_request_id,omitempty"`
	UpdatedAt       time.Time        `cbor:"updated_at"`
}

const keyPrefix = "session:"

func key(actorID int64) string { return keyPrefix + strconv.FormatInt(actorID, 10) }

// Tracker reads and overwrites sessions. A new Set replaces the previous
// session entirely; there is no stack of modes.
type Tracker struct {
	store kvstore.Store
	clock clock.Clock
	ttl   time.Duration
}

// NewTracker builds a tracker over store. ttl zero means the store horizon.
func NewTracker(store kvstore.Store, c clock.Clock, ttl time.Duration) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{store: store, clock: c, ttl: ttl}
}

// Set overwrites the actor's session.
func (t *Tracker) Set(ctx context.Context, actorID int64, mode Mode, aux Aux) error {
	s := Session{ActorID: actorID, Mode: mode, UpdatedAt: t.clock.Now()}
	switch mode {
	case ModeAwaitingQuestionText:
		s.PendingCategory = aux.PendingCategory
	case ModeAwaitingAdminReply:
		s.ActiveRequestID = aux.ActiveRequestID
	case ModeIdle, ModeAwaitingCategory:
	default:
		return fmt.Errorf("set session %d: unknown mode %q", actorID, mode)
	}
	data, err := codec.Marshal(s)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, key(actorID), data, t.ttl); err != nil {
		return fmt.Errorf("set session %d: %w", actorID, err)
	}
	logger.Debug(ctx, logger.CompSession, "session.set",
		slog.Int64("user_id", actorID),
		slog.String("mode", string(mode)),
		slog.String("request_id", s.ActiveRequestID),
		slog.String("category", string(s.PendingCategory)),
	)
	return nil
}

// Get returns the actor's session, Idle when none is stored.
func (t *Tracker) Get(ctx context.Context, actorID int64) (Session, error) {
	idle := Session{ActorID: actorID, Mode: ModeIdle}
	data, ok, err := t.store.Get(ctx, key(actorID))
	if err != nil {
		return idle, fmt.Errorf("get session %d: %w", actorID, err)
	}
	if !ok {
		return idle, nil
	}
	var s Session
	if err := codec.Unmarshal(data, &s); err != nil {
		return idle, err
	}
	return s, nil
}

// Clear resets the actor to Idle.
func (t *Tracker) Clear(ctx context.Context, actorID int64) error {
	if err := t.store.Delete(ctx, key(actorID)); err != nil {
		return fmt.Errorf("clear session %d: %w", actorID, err)
	}
	logger.Debug(ctx, logger.CompSession, "session.clear", slog.Int64("user_id", actorID))
	return nil
}

// StateOf maps the stored mode onto an FSM state for text routing. Store
// errors fall back to idle so free text reaches the default handler.
func (t *Tracker) StateOf(ctx context.Context, actorID int64) state.State {
	s, err := t.Get(ctx, actorID)
	if err != nil {
		logger.Warn(ctx, logger.CompSession, "session.get", slog.String("status", "fail"), logger.Err(err))
		return state.StateIdle
	}
	return state.State(s.Mode)
}
