package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(90 * time.Second)
	if got, want := c.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	c := Fake(epoch)
	var calls atomic.Int32
	c.AfterFunc(time.Minute, func() { calls.Add(1) })

	c.Advance(59 * time.Second)
	if calls.Load() != 0 {
		t.Fatal("callback fired before deadline")
	}
	c.Advance(time.Second)
	c.Advance(time.Hour)
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback fired %d times, want 1", got)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("PendingCount() = %d, want 0", n)
	}
}

func TestFakeAfterFuncNonPositiveRunsInline(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) did not run inline")
	}
}

func TestFakeTickerFiresEachInterval(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(2 * time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i+1)
		}
	}
}

func TestFakeSleepWakesOnAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
