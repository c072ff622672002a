package router

import (
	"strings"
	"time"

	tg "github.com/m3rciful/curatorbot/core/telegram"
	"github.com/m3rciful/curatorbot/core/telegram/middleware"
	"github.com/m3rciful/curatorbot/core/telegram/ui"

	tele "gopkg.in/telebot.v4"
)

// FSM is the conversation state machine text is offered to first.
type FSM interface {
	InProgress(c tele.Context) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds handlers for text and document routing. Reply keyboard
// labels registered as command aliases win over the FSM, so a button press
// is never taken as conversation input. Slash commands never reach here.
func TextRoutes(fsmMgr FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := strings.TrimSpace(c.Text())

		if reg != nil && !strings.HasPrefix(text, "/") {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil && key != "/"+text {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if fsmMgr != nil && fsmMgr.InProgress(c) {
			return handleWithSummary(c, "fsm", start, "", "", func() error {
				return fsmMgr.ManagerHandler(c)
			})
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	docHandler := func(c tele.Context) error {
		start := time.Now()
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", start, "", "", func() error {
				return opts.UnknownDocument(c)
			})
		}
		logHandlerSummary(c, "unexpected_document", start, "skip", "ok", nil)
		return nil
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
		{
			Endpoint: tele.OnDocument,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(docHandler)),
		},
		{
			Endpoint: tele.OnPhoto,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(docHandler)),
		},
	}
}

// FromFallbacks builds the text and callback options from fb.
func FromFallbacks(fb ui.FallbackProvider) (TextOptions, CallbackOptions) {
	if fb == nil {
		return TextOptions{}, CallbackOptions{}
	}
	return TextOptions{
			UnknownText:     fb.UnknownText(),
			UnknownDocument: fb.UnknownDocument(),
		}, CallbackOptions{
			NotFound: fb.UnknownCallback(),
		}
}
