package telegrambot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	tg "github.com/m3rciful/curatorbot/core/telegram"
	"github.com/m3rciful/curatorbot/core/telegram/callbacks"
	"github.com/m3rciful/curatorbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/curatorbot/core/telegram/helpers"
	"github.com/m3rciful/curatorbot/core/telegram/keyboard"
	"github.com/m3rciful/curatorbot/core/telegram/router"
	"github.com/m3rciful/curatorbot/core/telegram/state"
	"github.com/m3rciful/curatorbot/core/telegram/ui"
	"github.com/m3rciful/curatorbot/relay"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"

	tele "gopkg.in/telebot.v4"
)

// Handlers turns Telegram updates into relay service calls.
type Handlers struct {
	svc      *relay.Service
	sessions *session.Tracker
	fsm      *state.Dispatcher
	adminID  int64
}

// NewHandlers builds the handlers. Free text is routed by the sender's
// session mode.
func NewHandlers(svc *relay.Service, sessions *session.Tracker, adminID int64) *Handlers {
	h := &Handlers{
		svc:      svc,
		sessions: sessions,
		fsm:      state.NewDispatcher(sessions),
		adminID:  adminID,
	}
	h.fsm.Handle(state.State(session.ModeAwaitingCategory), h.onCategoryText)
	h.fsm.Handle(state.State(session.ModeAwaitingQuestionText), h.onQuestionText)
	h.fsm.Handle(state.State(session.ModeAwaitingAdminReply), h.onReplyText)
	return h
}

// Register adds the bot's commands and callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	cmds := map[string]commands.Command{
		"/start":  {Handler: h.onStart, Description: "Start the bot"},
		"/ask":    {Handler: h.onAsk, Description: "Ask the curator a question", Aliases: []string{notify.AskButton}},
		"/help":   {Handler: h.onHelp, Description: "How this bot works"},
		"/cancel": {Handler: h.onCancel, Description: "Cancel the current question"},
		"/reset":  {Handler: h.onCancel, Description: "Reset your state", AdminOnly: true},
		"/dm":     {Handler: h.onDM, Description: "Message a user: /dm ID TEXT", AdminOnly: true},
		"/direct": {Handler: h.onDirect, Description: "Chat links for a user: /direct ID", AdminOnly: true},
		"/users":  {Handler: h.onUsers, Description: "Recent users", AdminOnly: true},
		"/status": {Handler: h.onStatus, Description: "Bot status", AdminOnly: true},
	}
	for name, cmd := range cmds {
		reg.RegisterCommand(name, cmd)
	}

	cbs := map[string]tele.HandlerFunc{
		notify.KeyCategory:       h.onCategory,
		notify.KeyReply:          h.onReply,
		notify.KeyReclassify:     h.onReclassify,
		notify.KeySetCategory:    h.onSetCategory,
		notify.KeyCancel:         h.onCancel,
		notify.KeyStartupConfirm: h.onStartupConfirm,
	}
	for key, fn := range cbs {
		if err := reg.RegisterCallback(key, fn); err != nil {
			return err
		}
	}

	return nil
}

var _ ui.FallbackProvider = (*Handlers)(nil)

// UnknownText answers free text outside any flow.
func (h *Handlers) UnknownText() tele.HandlerFunc { return h.onIdleText }

// UnknownDocument asks for text instead of files and photos.
func (h *Handlers) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error { return tghelpers.SendText(c, textTextOnly) }
}

// UnknownCallback answers buttons whose handler no longer exists.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: textUnsupported})
	}
}

// Routes wires commands, callbacks and text through the shared routers.
func (h *Handlers) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: h.adminID,
		OnAdminReject: func(c tele.Context) error {
			return tghelpers.SendText(c, notify.TextAdminOnly)
		},
	})
	textOpts, cbOpts := router.FromFallbacks(h)
	routes = append(routes, router.CallbackRoute(reg, cbOpts))
	return append(routes, router.TextRoutes(h.fsm, reg, textOpts)...)
}

// OnRateLimited tells the sender to slow down.
func (h *Handlers) OnRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		return tghelpers.Respond(c, textRateLimited)
	}
	return tghelpers.SendText(c, textRateLimited)
}

func actorOf(c tele.Context) relay.Actor {
	u := c.Sender()
	if u == nil {
		return relay.Actor{}
	}
	return relay.Actor{ID: u.ID, Label: tghelpers.DisplayName(u), Username: u.Username}
}

// run calls fn and hands its error to the service, which tells the actor
// and resets the session where needed.
func (h *Handlers) run(c tele.Context, fn func(ctx context.Context, a relay.Actor) error) error {
	ctx := tghelpers.BuildContext(c)
	a := actorOf(c)
	if err := fn(ctx, a); err != nil {
		h.svc.HandleError(ctx, a, err)
	}
	return nil
}

func askKeyboard() *tele.ReplyMarkup {
	return keyboard.ReplyButtons([]string{notify.AskButton})
}

func (h *Handlers) onStart(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		if err := h.sessions.Clear(ctx, a.ID); err != nil {
			return err
		}
		if h.svc.IsAdmin(a.ID) {
			return tghelpers.SendText(c, textAdminWelcome+"\n\n"+textAdminHelp)
		}
		return tghelpers.SendText(c, notify.TextWelcome, askKeyboard())
	})
}

func (h *Handlers) onHelp(c tele.Context) error {
	if h.svc.IsAdmin(c.Sender().ID) {
		return tghelpers.SendText(c, textAdminHelp)
	}
	return tghelpers.SendText(c, textUserHelp, askKeyboard())
}

func (h *Handlers) onAsk(c tele.Context) error {
	return h.run(c, h.svc.StartQuestion)
}

func (h *Handlers) onCancel(c tele.Context) error {
	return h.run(c, h.svc.ResetSession)
}

func (h *Handlers) onIdleText(c tele.Context) error {
	if h.svc.IsAdmin(c.Sender().ID) {
		return tghelpers.SendText(c, textAdminHelp)
	}
	return tghelpers.SendText(c, notify.TextNoActiveFlow, askKeyboard())
}

func (h *Handlers) onCategoryText(c tele.Context) error {
	return h.run(c, h.svc.StartQuestion)
}

func (h *Handlers) onQuestionText(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		_, err := h.svc.SubmitQuestion(ctx, a, c.Text())
		return err
	})
}

func (h *Handlers) onReplyText(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		_, err := h.svc.AdminReply(ctx, a, c.Text())
		return err
	})
}

func (h *Handlers) onDM(c tele.Context) error {
	userID, text, ok := parseDM(commandPayload(c))
	if !ok {
		return tghelpers.SendText(c, textUsageDM)
	}
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.DirectMessage(ctx, a, userID, text)
	})
}

func (h *Handlers) onDirect(c tele.Context) error {
	userID, err := strconv.ParseInt(strings.TrimSpace(commandPayload(c)), 10, 64)
	if err != nil {
		return tghelpers.SendText(c, textUsageDirect)
	}
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.DirectLinks(ctx, a, userID)
	})
}

func (h *Handlers) onUsers(c tele.Context) error {
	return h.run(c, h.svc.ShowUsers)
}

func (h *Handlers) onStatus(c tele.Context) error {
	return h.run(c, h.svc.ShowStatus)
}

func (h *Handlers) onCategory(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.SubmitCategory(ctx, a, callbacks.Payload(c))
	})
}

func (h *Handlers) onReply(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.BeginReply(ctx, a, callbacks.Payload(c))
	})
}

func (h *Handlers) onReclassify(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.OfferReclassify(ctx, a, callbacks.Payload(c))
	})
}

func (h *Handlers) onSetCategory(c tele.Context) error {
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		parts, err := callbacks.PayloadParts(c, 2)
		if err != nil {
			return fmt.Errorf("%w: %v", request.ErrInvalidCategory, err)
		}
		_, err = h.svc.Reclassify(ctx, a, parts[0], parts[1])
		return err
	})
}

func (h *Handlers) onStartupConfirm(c tele.Context) error {
	tghelpers.MarkResponded(c)
	return h.run(c, func(ctx context.Context, a relay.Actor) error {
		return h.svc.ConfirmStartup(ctx, a, c.Callback().ID)
	})
}

func commandPayload(c tele.Context) string {
	if m := c.Message(); m != nil {
		return m.Payload
	}
	return ""
}

// parseDM splits "ID TEXT"; the text keeps its inner line breaks.
func parseDM(payload string) (int64, string, bool) {
	payload = strings.TrimSpace(payload)
	i := strings.IndexFunc(payload, unicode.IsSpace)
	if i < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(payload[:i], 10, 64)
	if err != nil {
		return 0, "", false
	}
	text := strings.TrimSpace(payload[i:])
	if text == "" {
		return 0, "", false
	}
	return id, text, true
}
