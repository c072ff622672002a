package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/curatorbot/relay/request"
)

// Menu button shown on the reply keyboard.
const AskButton = "❓ Ask a question"

const (
	TextWelcome        = "Hi! I pass your questions to the curator. Press \"" + AskButton + "\" to start."
	TextChooseCategory = "What is your question about?"
	TextEmptyQuestion  = "The question is empty. Please type it in one message."
	TextAccepted       = "Your question has been sent to the curator. You will get the answer here."
	TextQueued         = "The curator is not reachable right now. Your question is saved and will be delivered automatically."
	TextNowVisible     = "Good news: the curator has now received your question."
	TextResubmit       = "We could not deliver your question to the curator. Please send it again a bit later."
	TextTimeoutSorry   = "The curator has not answered yet. Sorry for the wait, you will get a reply as soon as possible."
	TextExpired        = "This conversation has expired. Please start again."
	TextNoActiveFlow   = "Nothing is in progress. Press \"" + AskButton + "\" to ask a question."
	TextCancelled      = "Cancelled."
	TextFailed         = "Something went wrong. Please try again."
	TextAdminOnly      = "This command is available to the curator only."

	TextAlreadyAnswered   = "This question has already been answered."
	TextChooseNewCategory = "Choose the new category:"
	TextEmptyReply        = "The answer is empty. Type the text to send or /reset to abort."
	TextReplySent         = "Your answer has been delivered."
	TextReplyUndelivered  = "The answer was saved but could not be delivered to the user."
	TextAdminReset        = "State reset. You can answer new questions now."
	TextStartupConfirm    = "✅ Confirm"
	TextStartupThanks     = "Thanks! The connection to the curator works."
	TextNoSubmitters      = "No users have written in the last 24 hours."
)

// AskQuestionText prompts for the question body after a category was picked.
func AskQuestionText(c request.Category) string {
	return fmt.Sprintf("Category: %s.\nNow type your question in one message.", c.Label())
}

// CategoryActions is the category picker. key and idPrefix select whether
// it is the submitter's picker or the admin's reclassify picker.
func CategoryActions(key, idPrefix string) []Action {
	out := make([]Action, 0, len(request.Categories()))
	for _, c := range request.Categories() {
		payload := string(c)
		if idPrefix != "" {
			payload = JoinPayload(idPrefix, string(c))
		}
		out = append(out, Action{Label: c.Label(), Key: key, Payload: payload})
	}
	return out
}

// CancelAction abandons the current flow.
func CancelAction() Action {
	return Action{Label: "✖️ Cancel", Key: KeyCancel}
}

func submitterLine(r request.Request) string {
	name := r.SubmitterLabel
	if name == "" {
		name = "user"
	}
	if r.SubmitterUsername != "" {
		return fmt.Sprintf("%s (@%s, ID: %d)", name, r.SubmitterUsername, r.SubmitterID)
	}
	return fmt.Sprintf("%s (ID: %d)", name, r.SubmitterID)
}

// AdminSummary is the message the curator receives for a new question.
func AdminSummary(r request.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📩 New question %s\n", r.ID)
	fmt.Fprintf(&b, "From: %s\n", submitterLine(r))
	fmt.Fprintf(&b, "Category: %s\n\n", r.Category.Label())
	b.WriteString(r.Text)
	fmt.Fprintf(&b, "\n\nDirect chat: /direct %d\nReply via bot: /dm %d <text>", r.SubmitterID, r.SubmitterID)
	return b.String()
}

// AdminActions are the buttons under AdminSummary.
func AdminActions(r request.Request) []Action {
	return []Action{
		{Label: "📱 Open dialog", URL: DialogLink(r.SubmitterID)},
		{Label: "💬 Reply via bot", Key: KeyReply, Payload: r.ID},
		{Label: "🏷 Change category", Key: KeyReclassify, Payload: r.ID},
	}
}

// Escalation tells the curator a question passed its response window.
func Escalation(r request.Request, window time.Duration) string {
	return fmt.Sprintf("⏰ No answer for %s to question %s from %s:\n\n%s",
		HumanDuration(window), r.ID, submitterLine(r), r.Text)
}

// ReplyPrompt asks the curator for the answer text.
func ReplyPrompt(r request.Request) string {
	return fmt.Sprintf("Type your answer to %s (%s). Send /reset to abort.", submitterLine(r), r.ID)
}

// Answer is what the submitter receives when the curator replies.
func Answer(text string) string {
	return "Answer from the curator:\n\n" + text
}

// Direct is a message the curator sent with /dm.
func Direct(text string) string {
	return "Message from the curator:\n\n" + text
}

// Reclassified confirms a category change to the curator.
func Reclassified(r request.Request) string {
	return fmt.Sprintf("Question %s is now in category %s.", r.ID, r.Category.Label())
}

// DirectSent confirms a /dm to the curator.
func DirectSent(userID int64) string {
	return fmt.Sprintf("Message delivered to user %d.", userID)
}

// DirectLinks introduces the dialog buttons sent for /direct.
func DirectLinks(userID int64, label string) string {
	if label == "" {
		return fmt.Sprintf("Dialog with user %d:", userID)
	}
	return fmt.Sprintf("Dialog with %s (ID: %d):", label, userID)
}

// StartupProbe is the connectivity check sent to the curator on start.
func StartupProbe(at time.Time) string {
	return fmt.Sprintf("Test message: the bot started at %s.\nIf you see this, delivery works. Please confirm below.",
		at.Format("2006-01-02 15:04:05 MST"))
}

// HumanDuration renders d as "1d 2h 3m 4s", dropping leading zero units.
func HumanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "0s"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if days > 0 || h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if days > 0 || h > 0 || m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	parts = append(parts, fmt.Sprintf("%ds", s))
	return strings.Join(parts, " ")
}
