package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"
)

// BeginReply puts the admin into reply mode for request id.
func (s *Service) BeginReply(ctx context.Context, admin Actor, id string) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	r, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case r.Status == request.StatusAnswered:
		return request.ErrAlreadyAnswered
	case !r.Open():
		return fmt.Errorf("%w: reply to %s request", request.ErrInvalidTransition, r.Status)
	}
	if err := s.sessions.Set(ctx, admin.ID, session.ModeAwaitingAdminReply, session.Aux{ActiveRequestID: id}); err != nil {
		return err
	}
	return s.tell(ctx, admin.ID, notify.ReplyPrompt(r))
}

// AdminReply answers the request the admin is replying to. The admin is
// back to Idle afterwards whatever the outcome.
func (s *Service) AdminReply(ctx context.Context, admin Actor, text string) (request.Request, error) {
	if err := s.requireAdmin(admin); err != nil {
		return request.Request{}, err
	}
	sess, err := s.sessions.Get(ctx, admin.ID)
	if err != nil {
		return request.Request{}, err
	}
	if sess.Mode != session.ModeAwaitingAdminReply {
		return request.Request{}, ErrNoActiveFlow
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return request.Request{}, ErrEmptyText
	}

	r, err := s.registry.RecordAnswer(ctx, sess.ActiveRequestID, text, admin.Label)
	if cerr := s.sessions.Clear(ctx, admin.ID); cerr != nil {
		logger.Warn(ctx, logger.CompRelay, "relay.answer", slog.String("status", "fail"), logger.Err(cerr))
	}
	if err != nil {
		return request.Request{}, err
	}
	if s.monitor != nil {
		s.monitor.Disarm(r.ID)
	}

	if err := s.tell(ctx, r.SubmitterID, notify.Answer(text)); err != nil {
		_ = s.tell(ctx, admin.ID, notify.TextReplyUndelivered)
	} else {
		_ = s.tell(ctx, admin.ID, notify.TextReplySent)
	}
	logger.Info(ctx, logger.CompRelay, "relay.answer",
		slog.String("status", "ok"),
		slog.String("request_id", r.ID),
		slog.Int64("submitter_id", r.SubmitterID),
	)
	return r, nil
}

// OfferReclassify shows the admin the category picker for request id.
func (s *Service) OfferReclassify(ctx context.Context, admin Actor, id string) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	r, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status == request.StatusAnswered {
		return request.ErrAlreadyAnswered
	}
	return s.tell(ctx, admin.ID, notify.TextChooseNewCategory, notify.CategoryActions(notify.KeySetCategory, id)...)
}

// Reclassify moves request id to another category.
func (s *Service) Reclassify(ctx context.Context, admin Actor, id, raw string) (request.Request, error) {
	if err := s.requireAdmin(admin); err != nil {
		return request.Request{}, err
	}
	c, err := request.ParseCategory(raw)
	if err != nil {
		return request.Request{}, err
	}
	r, err := s.registry.Reclassify(ctx, id, c)
	if err != nil {
		return request.Request{}, err
	}
	_ = s.tell(ctx, admin.ID, notify.Reclassified(r))
	return r, nil
}

// DirectMessage sends text from the admin to any user through the bot.
func (s *Service) DirectMessage(ctx context.Context, admin Actor, userID int64, text string) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if err := s.messenger.Notify(ctx, userID, notify.Direct(text)); err != nil {
		return fmt.Errorf("direct message to %d: %w", userID, err)
	}
	logger.Info(ctx, logger.CompRelay, "relay.direct", slog.String("status", "ok"), slog.Int64("submitter_id", userID))
	return s.tell(ctx, admin.ID, notify.DirectSent(userID))
}

// DirectLinks sends the admin both dialog links for userID. The username
// of the latest request, when known, gives the nicer web link.
func (s *Service) DirectLinks(ctx context.Context, admin Actor, userID int64) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	reqs, err := s.registry.ListBySubmitter(ctx, userID)
	if err != nil {
		return err
	}
	var label, username string
	if n := len(reqs); n > 0 {
		label, username = reqs[n-1].SubmitterLabel, reqs[n-1].SubmitterUsername
	}
	return s.tell(ctx, admin.ID, notify.DirectLinks(userID, label),
		notify.Action{Label: "📱 Open in app", URL: notify.DialogLink(userID)},
		notify.Action{Label: "🌐 Open in browser", URL: notify.WebLink(userID, username)},
	)
}

// RunStartupCheck sends the admin a probe message with a confirm button.
func (s *Service) RunStartupCheck(ctx context.Context) error {
	err := s.messenger.Notify(ctx, s.opts.AdminID, notify.StartupProbe(s.opts.StartedAt),
		notify.Action{Label: notify.TextStartupConfirm, Key: notify.KeyStartupConfirm})
	logger.Info(ctx, logger.CompRelay, "relay.startup_check", slog.String("status", logger.Status(err)), logger.Err(err))
	return err
}

// ConfirmStartup acknowledges the probe button.
func (s *Service) ConfirmStartup(ctx context.Context, admin Actor, interactionID string) error {
	if err := s.requireAdmin(admin); err != nil {
		return err
	}
	if err := s.messenger.AcknowledgeInteraction(ctx, interactionID, "✅"); err != nil {
		logger.Debug(ctx, logger.CompRelay, "relay.ack", slog.String("status", "fail"), logger.Err(err))
	}
	return s.tell(ctx, admin.ID, notify.TextStartupThanks)
}
