package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/notify/notifytest"
	"github.com/m3rciful/curatorbot/relay/request"
)

const adminID = 1000

type armCall struct {
	id    string
	delay time.Duration
}

type fakeArmer struct {
	mu    sync.Mutex
	calls []armCall
}

func (f *fakeArmer) Arm(id string, delay time.Duration) {
	f.mu.Lock()
	f.calls = append(f.calls, armCall{id, delay})
	f.mu.Unlock()
}

func (f *fakeArmer) armed() []armCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]armCall(nil), f.calls...)
}

type fixture struct {
	clock *clock.FakeClock
	reg   *request.Registry
	msg   *notifytest.Recorder
	armer *fakeArmer
	coord *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := kvstore.NewMemory(fc, 0)
	reg := request.NewRegistry(store, fc, time.Hour)
	rec := notifytest.New()
	armer := &fakeArmer{}
	opts.AdminID = adminID
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = 30 * time.Minute
	}
	return &fixture{
		clock: fc,
		reg:   reg,
		msg:   rec,
		armer: armer,
		coord: New(reg, store, rec, armer, fc, opts),
	}
}

func (f *fixture) create(t *testing.T, submitter int64) request.Request {
	t.Helper()
	r, err := f.reg.Create(context.Background(), request.NewRequest{
		SubmitterID: submitter,
		Label:       "User",
		Username:    "user",
		Category:    request.CategoryOther,
		Text:        "help",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func (f *fixture) status(t *testing.T, id string) request.Status {
	t.Helper()
	r, err := f.reg.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return r.Status
}

func TestDeliverSuccessArmsMonitor(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.create(t, 42)

	if err := f.coord.Deliver(context.Background(), r); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := f.status(t, r.ID); got != request.StatusWaiting {
		t.Fatalf("status = %s, want waiting", got)
	}
	last, ok := f.msg.Last(adminID)
	if !ok || !strings.Contains(last.Text, "help") || len(last.Actions) != 3 {
		t.Fatalf("admin message = %+v", last)
	}
	if calls := f.armer.armed(); len(calls) != 1 || calls[0].id != r.ID || calls[0].delay != 30*time.Minute {
		t.Fatalf("arm calls = %+v", calls)
	}
}

func TestDeliverFailureQueues(t *testing.T) {
	f := newFixture(t, Options{})
	f.msg.SetDown(adminID, true)
	r := f.create(t, 42)

	err := f.coord.Deliver(context.Background(), r)
	if !errors.Is(err, ErrDeliveryFailure) {
		t.Fatalf("deliver err = %v, want ErrDeliveryFailure", err)
	}
	got, _ := f.reg.Get(context.Background(), r.ID)
	if got.Status != request.StatusNew || got.DeliveryAttempts != 1 {
		t.Fatalf("request after failure = %s/%d, want new/1", got.Status, got.DeliveryAttempts)
	}
	pending, _ := f.coord.Pending(context.Background())
	if len(pending) != 1 || pending[0] != r.ID {
		t.Fatalf("pending = %v", pending)
	}
	if len(f.armer.armed()) != 0 {
		t.Fatal("monitor armed for undelivered request")
	}
}

func TestDeliverFallsBackToWebLink(t *testing.T) {
	f := newFixture(t, Options{})
	f.msg.FailIf = func(_ int64, actions []notify.Action) bool {
		for _, a := range actions {
			if strings.HasPrefix(a.URL, "tg://") {
				return true
			}
		}
		return false
	}
	r := f.create(t, 42)
	if err := f.coord.Deliver(context.Background(), r); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	last, _ := f.msg.Last(adminID)
	if last.Actions[0].URL != "https://t.me/user" {
		t.Fatalf("dialog URL = %q, want web fallback", last.Actions[0].URL)
	}
	if got, _ := f.reg.Get(context.Background(), r.ID); got.DeliveryAttempts != 1 {
		t.Fatalf("attempts = %d, fallback must count as one attempt", got.DeliveryAttempts)
	}
}

// Admin unreachable at submission, reachable at the next sweep.
func TestSweepDeliversQueuedAndConfirmsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.msg.SetDown(adminID, true)
	r := f.create(t, 42)
	_ = f.coord.Deliver(ctx, r)

	f.msg.SetDown(adminID, false)
	res, err := f.coord.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Delivered != 1 || res.Requeued != 0 {
		t.Fatalf("sweep result = %+v", res)
	}
	if got := f.status(t, r.ID); got != request.StatusWaiting {
		t.Fatalf("status = %s, want waiting", got)
	}
	if _, err := f.coord.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n := f.msg.Count(42, notify.TextNowVisible); n != 1 {
		t.Fatalf("submitter got %d confirmations, want 1", n)
	}
	if pending, _ := f.coord.Pending(ctx); len(pending) != 0 {
		t.Fatalf("pending = %v, want empty", pending)
	}
}

func TestSweepBoundedBatchKeepsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{BatchSize: 5})
	f.msg.SetDown(adminID, true)
	var ids []string
	for i := int64(1); i <= 7; i++ {
		r := f.create(t, i)
		_ = f.coord.Deliver(ctx, r)
		ids = append(ids, r.ID)
	}

	res, _ := f.coord.Sweep(ctx)
	if res.Processed != 5 || res.Requeued != 5 {
		t.Fatalf("sweep while down = %+v, want 5 processed and requeued", res)
	}
	pending, _ := f.coord.Pending(ctx)
	want := append(append([]string{}, ids[5:]...), ids[:5]...)
	if strings.Join(pending, ",") != strings.Join(want, ",") {
		t.Fatalf("queue order = %v, want %v", pending, want)
	}

	f.msg.SetDown(adminID, false)
	res, _ = f.coord.Sweep(ctx)
	if res.Delivered != 5 {
		t.Fatalf("first sweep while up delivered %d, want 5", res.Delivered)
	}
	res, _ = f.coord.Sweep(ctx)
	if res.Delivered != 2 {
		t.Fatalf("second sweep delivered %d, want 2", res.Delivered)
	}
	for _, id := range ids {
		if got := f.status(t, id); got != request.StatusWaiting {
			t.Fatalf("%s status = %s, want waiting", id, got)
		}
	}
}

func TestSweepDropsExpiredAndDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.msg.SetDown(adminID, true)
	stale := f.create(t, 1)
	_ = f.coord.Deliver(ctx, stale)

	f.clock.Advance(2 * time.Hour)
	handled := f.create(t, 2)
	_ = f.coord.Deliver(ctx, handled)
	if _, err := f.reg.RecordDeliveryAttempt(ctx, handled.ID, true); err != nil {
		t.Fatalf("record: %v", err)
	}

	f.msg.SetDown(adminID, false)
	res, err := f.coord.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dropped != 2 || res.Delivered != 0 {
		t.Fatalf("sweep result = %+v, want 2 dropped", res)
	}
	if msgs := f.msg.Messages(adminID); len(msgs) != 0 {
		t.Fatalf("admin got %d messages for dropped entries", len(msgs))
	}
}

func TestSweepGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxAttempts: 2})
	f.msg.SetDown(adminID, true)
	r := f.create(t, 42)
	_ = f.coord.Deliver(ctx, r)

	res, _ := f.coord.Sweep(ctx)
	if res.Dropped != 1 {
		t.Fatalf("sweep result = %+v, want dropped", res)
	}
	if n := f.msg.Count(42, notify.TextResubmit); n != 1 {
		t.Fatalf("resubmit notices = %d, want 1", n)
	}
	if pending, _ := f.coord.Pending(ctx); len(pending) != 0 {
		t.Fatalf("pending = %v", pending)
	}
}

func TestSweepDoesNotOverlap(t *testing.T) {
	f := newFixture(t, Options{})
	f.coord.sweepMu.Lock()
	res, err := f.coord.Sweep(context.Background())
	f.coord.sweepMu.Unlock()
	if err != nil || !res.Skipped {
		t.Fatalf("concurrent sweep = %+v, %v; want skipped", res, err)
	}
}

func TestSweepPausesBetweenEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Pause: time.Second})
	f.msg.SetDown(adminID, true)
	a, b := f.create(t, 1), f.create(t, 2)
	_ = f.coord.Deliver(ctx, a)
	_ = f.coord.Deliver(ctx, b)
	f.msg.SetDown(adminID, false)

	done := make(chan SweepResult, 1)
	go func() {
		res, _ := f.coord.Sweep(ctx)
		done <- res
	}()
	f.clock.WaitForTimers(1)
	if n := len(f.msg.Messages(adminID)); n != 1 {
		t.Fatalf("admin messages before pause elapsed = %d, want 1", n)
	}
	f.clock.Advance(time.Second)
	if res := <-done; res.Delivered != 2 {
		t.Fatalf("sweep result = %+v", res)
	}
}

func TestSweepCancelledKeepsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, Options{Pause: time.Second})
	f.msg.SetDown(adminID, true)
	a, b := f.create(t, 1), f.create(t, 2)
	_ = f.coord.Deliver(ctx, a)
	_ = f.coord.Deliver(ctx, b)
	f.msg.SetDown(adminID, false)

	done := make(chan SweepResult, 1)
	go func() {
		res, _ := f.coord.Sweep(ctx)
		done <- res
	}()
	f.clock.WaitForTimers(1)
	cancel()
	res := <-done
	if res.Delivered != 1 || res.Requeued != 1 {
		t.Fatalf("cancelled sweep = %+v", res)
	}
	pending, _ := f.coord.Pending(context.Background())
	if len(pending) != 1 || pending[0] != b.ID {
		t.Fatalf("pending = %v, want [%s]", pending, b.ID)
	}
}

func TestSweepRetriesUntilAdminReachable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.msg.SetDown(adminID, true)
	r := f.create(t, 42)
	_ = f.coord.Deliver(ctx, r)

	for i := 0; i < 3; i++ {
		res, err := f.coord.Sweep(ctx)
		if err != nil || res.Requeued != 1 {
			t.Fatalf("failing sweep %d = %+v, %v", i+1, res, err)
		}
	}
	f.msg.SetDown(adminID, false)
	if res, _ := f.coord.Sweep(ctx); res.Delivered != 1 {
		t.Fatalf("fourth sweep = %+v, want delivered", res)
	}
	got, _ := f.reg.Get(ctx, r.ID)
	if got.Status != request.StatusWaiting || got.DeliveryAttempts != 5 {
		t.Fatalf("request = %s/%d, want waiting/5", got.Status, got.DeliveryAttempts)
	}
	if n := f.msg.Count(42, notify.TextNowVisible); n != 1 {
		t.Fatalf("confirmations = %d, want 1", n)
	}
}

// flakyQueueStore fails the next failures writes to the retry queue.
type flakyQueueStore struct {
	kvstore.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyQueueStore) Update(ctx context.Context, key string, ttl time.Duration, fn kvstore.UpdateFunc) error {
	if key == QueueKey {
		s.mu.Lock()
		fail := s.failures > 0
		if fail {
			s.failures--
		}
		s.mu.Unlock()
		if fail {
			return errors.New("store unavailable")
		}
	}
	return s.Store.Update(ctx, key, ttl, fn)
}

func TestDeliverEnqueueFailureIsRecoveredByResume(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := &flakyQueueStore{Store: kvstore.NewMemory(fc, 0), failures: 1}
	reg := request.NewRegistry(store, fc, time.Hour)
	rec := notifytest.New()
	coord := New(reg, store, rec, &fakeArmer{}, fc, Options{AdminID: adminID})
	f := &fixture{clock: fc, reg: reg, msg: rec, coord: coord}

	rec.SetDown(adminID, true)
	r := f.create(t, 42)
	err := coord.Deliver(ctx, r)
	if !errors.Is(err, ErrDeliveryFailure) {
		t.Fatalf("deliver err = %v, want ErrDeliveryFailure", err)
	}
	if pending, _ := coord.Pending(ctx); len(pending) != 0 {
		t.Fatalf("pending = %v, want empty after failed enqueue", pending)
	}

	n, err := coord.Resume(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Resume = %d, %v; want 1", n, err)
	}
	if n, _ := coord.Resume(ctx); n != 0 {
		t.Fatalf("second Resume queued %d, want 0", n)
	}

	rec.SetDown(adminID, false)
	res, err := coord.Sweep(ctx)
	if err != nil || res.Delivered != 1 {
		t.Fatalf("sweep = %+v, %v", res, err)
	}
	if got := f.status(t, r.ID); got != request.StatusWaiting {
		t.Fatalf("status = %s, want waiting", got)
	}
}

func TestResumeSkipsDeliveredAndQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	delivered := f.create(t, 1)
	if err := f.coord.Deliver(ctx, delivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	f.msg.SetDown(adminID, true)
	queued := f.create(t, 2)
	_ = f.coord.Deliver(ctx, queued)

	n, err := f.coord.Resume(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Resume = %d, %v; want 0", n, err)
	}
	pending, _ := f.coord.Pending(ctx)
	if len(pending) != 1 || pending[0] != queued.ID {
		t.Fatalf("pending = %v, want [%s]", pending, queued.ID)
	}
}

func TestResumeRestoresBatchLostMidSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.msg.SetDown(adminID, true)
	a, b := f.create(t, 1), f.create(t, 2)
	_ = f.coord.Deliver(ctx, a)
	_ = f.coord.Deliver(ctx, b)

	// A sweep that popped its batch and never pushed anything back.
	if ids, err := f.coord.queue.pop(ctx, 2); err != nil || len(ids) != 2 {
		t.Fatalf("pop = %v, %v", ids, err)
	}
	n, err := f.coord.Resume(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Resume = %d, %v; want 2", n, err)
	}
	pending, _ := f.coord.Pending(ctx)
	if len(pending) != 2 || pending[0] != a.ID || pending[1] != b.ID {
		t.Fatalf("pending = %v", pending)
	}
}
