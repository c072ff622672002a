package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/relay/delivery"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/notify/notifytest"
	"github.com/m3rciful/curatorbot/relay/request"
	"github.com/m3rciful/curatorbot/relay/session"
	"github.com/m3rciful/curatorbot/relay/timeout"
)

var (
	admin = Actor{ID: 1000, Label: "Curator"}
	alice = Actor{ID: 42, Label: "Alice", Username: "alice"}
	bob   = Actor{ID: 43, Label: "Bob"}
)

type env struct {
	svc      *Service
	clock    *clock.FakeClock
	reg      *request.Registry
	sessions *session.Tracker
	monitor  *timeout.Monitor
	coord    *delivery.Coordinator
	msg      *notifytest.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := kvstore.NewMemory(fc, 0)
	reg := request.NewRegistry(store, fc, 0)
	sessions := session.NewTracker(store, fc, 0)
	rec := notifytest.New()
	mon := timeout.New(reg, rec, fc, admin.ID, 30*time.Minute)
	coord := delivery.New(reg, store, rec, mon, fc, delivery.Options{AdminID: admin.ID, ResponseTimeout: 30 * time.Minute})
	svc := New(Options{AdminID: admin.ID, Mode: "polling"}, reg, sessions, coord, mon, rec, fc)
	return &env{svc: svc, clock: fc, reg: reg, sessions: sessions, monitor: mon, coord: coord, msg: rec}
}

func (e *env) mode(t *testing.T, id int64) session.Mode {
	t.Helper()
	s, err := e.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s.Mode
}

func (e *env) ask(t *testing.T, a Actor, category, text string) request.Request {
	t.Helper()
	ctx := context.Background()
	if err := e.svc.StartQuestion(ctx, a); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.svc.SubmitCategory(ctx, a, category); err != nil {
		t.Fatalf("category: %v", err)
	}
	r, err := e.svc.SubmitQuestion(ctx, a, text)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	return r
}

func TestQuestionFlowDeliversToAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.svc.StartQuestion(ctx, alice); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := e.mode(t, alice.ID); got != session.ModeAwaitingCategory {
		t.Fatalf("mode = %s", got)
	}
	picker, _ := e.msg.Last(alice.ID)
	if len(picker.Actions) != len(request.Categories())+1 || picker.Actions[len(picker.Actions)-1].Key != notify.KeyCancel {
		t.Fatalf("category picker actions = %+v", picker.Actions)
	}

	if err := e.svc.SubmitCategory(ctx, alice, "technical"); err != nil {
		t.Fatalf("category: %v", err)
	}
	s, _ := e.sessions.Get(ctx, alice.ID)
	if s.Mode != session.ModeAwaitingQuestionText || s.PendingCategory != request.CategoryTechnical {
		t.Fatalf("session = %+v", s)
	}

	r, err := e.svc.SubmitQuestion(ctx, alice, "App won't open")
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if r.Status != request.StatusNew || r.Category != request.CategoryTechnical {
		t.Fatalf("created = %s/%s, want new/technical", r.Status, r.Category)
	}
	stored, _ := e.reg.Get(ctx, r.ID)
	if stored.Status != request.StatusWaiting {
		t.Fatalf("status after delivery = %s, want waiting", stored.Status)
	}
	if got := e.mode(t, alice.ID); got != session.ModeIdle {
		t.Fatalf("submitter mode = %s, want idle", got)
	}
	if e.msg.Count(admin.ID, "App won't open") != 1 {
		t.Fatal("admin did not receive the question")
	}
	if e.msg.Count(alice.ID, notify.TextAccepted) != 1 {
		t.Fatal("submitter not told the question was sent")
	}
	if !e.monitor.Armed(r.ID) {
		t.Fatal("timeout not armed after delivery")
	}
}

func TestQuestionQueuedWhenAdminUnreachable(t *testing.T) {
	e := newEnv(t)
	e.msg.SetDown(admin.ID, true)
	r := e.ask(t, alice, "app", "where is the button?")

	if e.msg.Count(alice.ID, notify.TextQueued) != 1 {
		t.Fatal("submitter not told about the queued delivery")
	}
	pending, _ := e.coord.Pending(context.Background())
	if len(pending) != 1 || pending[0] != r.ID {
		t.Fatalf("pending = %v", pending)
	}
}

func TestSubmitWithoutFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.SubmitQuestion(ctx, alice, "hello"); !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("question while idle = %v, want ErrNoActiveFlow", err)
	}
	if err := e.svc.SubmitCategory(ctx, alice, "app"); !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("category while idle = %v, want ErrNoActiveFlow", err)
	}
	_ = e.svc.StartQuestion(ctx, alice)
	if err := e.svc.SubmitCategory(ctx, alice, "gossip"); !errors.Is(err, request.ErrInvalidCategory) {
		t.Fatalf("bad category = %v", err)
	}
	_ = e.svc.SubmitCategory(ctx, alice, "app")
	if _, err := e.svc.SubmitQuestion(ctx, alice, "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("blank question = %v", err)
	}
	if got := e.mode(t, alice.ID); got != session.ModeAwaitingQuestionText {
		t.Fatalf("blank question changed mode to %s", got)
	}
}

func TestBlankTextKeepsFlowWithMatchingNotice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "homework", "task 3?")

	_ = e.svc.StartQuestion(ctx, bob)
	_ = e.svc.SubmitCategory(ctx, bob, "app")
	_, err := e.svc.SubmitQuestion(ctx, bob, " ")
	e.svc.HandleError(ctx, bob, err)
	if e.msg.Count(bob.ID, notify.TextEmptyQuestion) != 1 {
		t.Fatalf("submitter notices = %+v", e.msg.Messages(bob.ID))
	}
	if got := e.mode(t, bob.ID); got != session.ModeAwaitingQuestionText {
		t.Fatalf("submitter mode = %s", got)
	}

	if err := e.svc.BeginReply(ctx, admin, r.ID); err != nil {
		t.Fatalf("begin reply: %v", err)
	}
	_, err = e.svc.AdminReply(ctx, admin, "\n\t")
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("blank reply = %v, want ErrEmptyText", err)
	}
	e.svc.HandleError(ctx, admin, err)
	if e.msg.Count(admin.ID, notify.TextEmptyReply) != 1 || e.msg.Count(admin.ID, notify.TextEmptyQuestion) != 0 {
		t.Fatalf("admin notices = %+v", e.msg.Messages(admin.ID))
	}
	if got := e.mode(t, admin.ID); got != session.ModeAwaitingAdminReply {
		t.Fatalf("admin mode = %s", got)
	}
	if _, err := e.svc.AdminReply(ctx, admin, "Use the formula."); err != nil {
		t.Fatalf("reply after blank: %v", err)
	}
}

func TestAdminAnswersRequest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "homework", "task 3?")

	if err := e.svc.BeginReply(ctx, admin, r.ID); err != nil {
		t.Fatalf("begin reply: %v", err)
	}
	s, _ := e.sessions.Get(ctx, admin.ID)
	if s.Mode != session.ModeAwaitingAdminReply || s.ActiveRequestID != r.ID {
		t.Fatalf("admin session = %+v", s)
	}
	ans, err := e.svc.AdminReply(ctx, admin, "Use the formula.")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if ans.Status != request.StatusAnswered || ans.Answer.AnsweredBy != "Curator" {
		t.Fatalf("answered = %+v", ans)
	}
	if e.msg.Count(alice.ID, "Use the formula.") != 1 {
		t.Fatal("submitter did not get the answer")
	}
	if e.msg.Count(admin.ID, notify.TextReplySent) != 1 {
		t.Fatal("admin not told the answer was delivered")
	}
	if e.monitor.Armed(r.ID) {
		t.Fatal("timeout still armed after answer")
	}
	if got := e.mode(t, admin.ID); got != session.ModeIdle {
		t.Fatalf("admin mode = %s", got)
	}
}

// Admin answers a timed-out request; a second answer is refused.
func TestAnswerTimedOutThenAgain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "technical", "App won't open")
	e.clock.Advance(30 * time.Minute)
	if got, _ := e.reg.Get(ctx, r.ID); got.Status != request.StatusTimeout {
		t.Fatalf("status = %s, want timeout", got.Status)
	}

	if err := e.svc.BeginReply(ctx, admin, r.ID); err != nil {
		t.Fatalf("begin reply on timed out: %v", err)
	}
	ans, err := e.svc.AdminReply(ctx, admin, "Sorry for the wait, reinstall it.")
	if err != nil || ans.Status != request.StatusAnswered {
		t.Fatalf("reply = %v, %v", ans.Status, err)
	}
	if got := e.mode(t, admin.ID); got != session.ModeIdle {
		t.Fatalf("admin mode = %s, want idle", got)
	}

	if err := e.svc.BeginReply(ctx, admin, r.ID); !errors.Is(err, request.ErrAlreadyAnswered) {
		t.Fatalf("second begin = %v, want ErrAlreadyAnswered", err)
	}
	// Replying through a stale session hits the registry check.
	_ = e.sessions.Set(ctx, admin.ID, session.ModeAwaitingAdminReply, session.Aux{ActiveRequestID: r.ID})
	if _, err := e.svc.AdminReply(ctx, admin, "again"); !errors.Is(err, request.ErrAlreadyAnswered) {
		t.Fatalf("second answer = %v, want ErrAlreadyAnswered", err)
	}
	if got := e.mode(t, admin.ID); got != session.ModeIdle {
		t.Fatalf("admin mode after refused answer = %s", got)
	}
}

// Admin replies to a request that expired meanwhile.
func TestReplyToExpiredRequest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "other", "hi")
	if err := e.svc.BeginReply(ctx, admin, r.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	e.monitor.Disarm(r.ID)
	e.clock.Advance(23 * time.Hour)
	// Keep the admin session alive past the request's expiry.
	_ = e.sessions.Set(ctx, admin.ID, session.ModeAwaitingAdminReply, session.Aux{ActiveRequestID: r.ID})
	e.clock.Advance(2 * time.Hour)

	_, err := e.svc.AdminReply(ctx, admin, "late")
	if !errors.Is(err, request.ErrRequestNotFound) {
		t.Fatalf("reply = %v, want ErrRequestNotFound", err)
	}
	if got := e.mode(t, admin.ID); got != session.ModeIdle {
		t.Fatalf("admin mode = %s, want idle", got)
	}
	e.svc.HandleError(ctx, admin, err)
	if e.msg.Count(admin.ID, notify.TextExpired) != 1 {
		t.Fatal("admin not prompted to start over")
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "app", "q")
	checks := map[string]error{
		"BeginReply":    e.svc.BeginReply(ctx, bob, r.ID),
		"DirectMessage": e.svc.DirectMessage(ctx, bob, alice.ID, "hi"),
		"DirectLinks":   e.svc.DirectLinks(ctx, bob, alice.ID),
		"ShowUsers":     e.svc.ShowUsers(ctx, bob),
		"ShowStatus":    e.svc.ShowStatus(ctx, bob),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNotAdmin) {
			t.Errorf("%s by non-admin = %v, want ErrNotAdmin", name, err)
		}
	}
	if _, err := e.svc.Reclassify(ctx, bob, r.ID, "other"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Reclassify by non-admin = %v", err)
	}
}

func TestReclassify(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.ask(t, alice, "app", "q")
	if err := e.svc.OfferReclassify(ctx, admin, r.ID); err != nil {
		t.Fatalf("offer: %v", err)
	}
	picker, _ := e.msg.Last(admin.ID)
	if picker.Text != notify.TextChooseNewCategory {
		t.Fatalf("picker text = %q", picker.Text)
	}
	if picker.Actions[0].Key != notify.KeySetCategory || !strings.HasPrefix(picker.Actions[0].Payload, r.ID+notify.PayloadSep) {
		t.Fatalf("picker = %+v", picker.Actions)
	}
	got, err := e.svc.Reclassify(ctx, admin, r.ID, "homework")
	if err != nil || got.Category != request.CategoryHomework {
		t.Fatalf("reclassify = %v, %v", got.Category, err)
	}
}

func TestDirectMessageAndLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ask(t, alice, "app", "q")

	if err := e.svc.DirectMessage(ctx, admin, alice.ID, "ping"); err != nil {
		t.Fatalf("dm: %v", err)
	}
	if e.msg.Count(alice.ID, "Message from the curator:\n\nping") != 1 {
		t.Fatal("direct message not delivered")
	}
	e.msg.SetDown(bob.ID, true)
	if err := e.svc.DirectMessage(ctx, admin, bob.ID, "ping"); err == nil {
		t.Fatal("dm to unreachable user succeeded")
	}

	if err := e.svc.DirectLinks(ctx, admin, alice.ID); err != nil {
		t.Fatalf("links: %v", err)
	}
	last, _ := e.msg.Last(admin.ID)
	if len(last.Actions) != 2 || last.Actions[0].URL != "tg://user?id=42" || last.Actions[1].URL != "https://t.me/alice" {
		t.Fatalf("links = %+v", last.Actions)
	}
	_ = e.svc.DirectLinks(ctx, admin, 777)
	last, _ = e.msg.Last(admin.ID)
	if last.Actions[1].URL != "https://t.me/user?id=777" {
		t.Fatalf("unknown user link = %q", last.Actions[1].URL)
	}
}

func TestRecentSubmittersAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ask(t, alice, "app", "first")
	e.clock.Advance(time.Minute)
	e.ask(t, bob, "app", strings.Repeat("x", 80))
	e.clock.Advance(time.Minute)
	e.ask(t, alice, "other", "second")

	subs, err := e.svc.RecentSubmitters(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != alice.ID || subs[0].Requests != 2 || subs[0].LastQuestion != "second" {
		t.Fatalf("submitters = %+v", subs)
	}
	if got := []rune(subs[1].LastQuestion); len(got) != 51 {
		t.Fatalf("truncated question has %d runes, want 51", len(got))
	}
	if top, _ := e.svc.RecentSubmitters(ctx, 1); len(top) != 1 {
		t.Fatalf("limit ignored: %d", len(top))
	}

	e.clock.Advance(time.Hour)
	st, err := e.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 || st.Submitters != 2 || st.Mode != "polling" || st.Uptime != time.Hour+2*time.Minute {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByStatus[request.StatusTimeout] != 3 {
		t.Fatalf("timed out = %d, want 3", st.ByStatus[request.StatusTimeout])
	}
	if err := e.svc.ShowStatus(ctx, admin); err != nil {
		t.Fatalf("show status: %v", err)
	}
	if e.msg.Count(admin.ID, "Unique users: 2") != 1 {
		t.Fatal("status text missing user count")
	}
}

func TestResetSessionAndHandleError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_ = e.svc.StartQuestion(ctx, alice)
	if err := e.svc.ResetSession(ctx, alice); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := e.mode(t, alice.ID); got != session.ModeIdle {
		t.Fatalf("mode = %s", got)
	}
	if e.msg.Count(alice.ID, notify.TextCancelled) != 1 {
		t.Fatal("cancel not confirmed")
	}

	_ = e.svc.StartQuestion(ctx, alice)
	e.svc.HandleError(ctx, alice, ErrNotAdmin)
	if got := e.mode(t, alice.ID); got != session.ModeAwaitingCategory {
		t.Fatalf("admin-only notice reset the flow: %s", got)
	}
	e.svc.HandleError(ctx, alice, ErrNoActiveFlow)
	if got := e.mode(t, alice.ID); got != session.ModeIdle {
		t.Fatalf("mode after flow error = %s", got)
	}
}

func TestStartupCheck(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.svc.RunStartupCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	probe, _ := e.msg.Last(admin.ID)
	if len(probe.Actions) != 1 || probe.Actions[0].Key != notify.KeyStartupConfirm {
		t.Fatalf("probe = %+v", probe)
	}
	if err := e.svc.ConfirmStartup(ctx, admin, "cb1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if acks := e.msg.Acks(); len(acks) != 1 || acks[0].InteractionID != "cb1" {
		t.Fatalf("acks = %+v", acks)
	}
	if e.msg.Count(admin.ID, notify.TextStartupThanks) != 1 {
		t.Fatal("confirmation not answered")
	}
}
