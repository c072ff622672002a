package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay/delivery"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"
)

// StartQuestion asks the actor for a category.
func (s *Service) StartQuestion(ctx context.Context, a Actor) error {
	if err := s.sessions.Set(ctx, a.ID, session.ModeAwaitingCategory, session.Aux{}); err != nil {
		return err
	}
	actions := append(notify.CategoryActions(notify.KeyCategory, ""), notify.CancelAction())
	return s.tell(ctx, a.ID, notify.TextChooseCategory, actions...)
}

// SubmitCategory stores the picked category and asks for the question.
// Picking again while the text is pending replaces the category.
func (s *Service) SubmitCategory(ctx context.Context, a Actor, raw string) error {
	sess, err := s.sessions.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	if sess.Mode != session.ModeAwaitingCategory && sess.Mode != session.ModeAwaitingQuestionText {
		return ErrNoActiveFlow
	}
	c, err := request.ParseCategory(raw)
	if err != nil {
		return err
	}
	if err := s.sessions.Set(ctx, a.ID, session.ModeAwaitingQuestionText, session.Aux{PendingCategory: c}); err != nil {
		return err
	}
	return s.tell(ctx, a.ID, notify.AskQuestionText(c))
}

// SubmitQuestion creates the request, returns the actor to Idle and hands
// the request to delivery. A delivery failure is not an error for the
// submitter: the request is queued and they are told so.
func (s *Service) SubmitQuestion(ctx context.Context, a Actor, text string) (request.Request, error) {
	text = strings.TrimSpace(text)
	sess, err := s.sessions.Get(ctx, a.ID)
	if err != nil {
		return request.Request{}, err
	}
	if sess.Mode != session.ModeAwaitingQuestionText {
		return request.Request{}, ErrNoActiveFlow
	}
	if text == "" {
		return request.Request{}, ErrEmptyText
	}

	r, err := s.registry.Create(ctx, request.NewRequest{
		SubmitterID: a.ID,
		Label:       a.Label,
		Username:    a.Username,
		Category:    sess.PendingCategory,
		Text:        text,
	})
	if err != nil {
		return request.Request{}, err
	}
	if err := s.sessions.Clear(ctx, a.ID); err != nil {
		logger.Warn(ctx, logger.CompRelay, "relay.question", slog.String("status", "fail"), slog.String("request_id", r.ID), logger.Err(err))
	}

	err = s.delivery.Deliver(ctx, r)
	switch {
	case errors.Is(err, delivery.ErrDeliveryFailure):
		_ = s.tell(ctx, a.ID, notify.TextQueued)
	case err != nil:
		return r, err
	default:
		_ = s.tell(ctx, a.ID, notify.TextAccepted)
	}
	logger.Info(ctx, logger.CompRelay, "relay.question",
		slog.String("status", "ok"),
		slog.String("request_id", r.ID),
		slog.String("category", string(r.Category)),
		slog.Bool("queued", err != nil),
	)
	return r, nil
}
