// Package clock abstracts time so schedulers and expiry logic can be
// driven deterministically in tests.
//
// Components take a Clock instead of calling time.Now, time.AfterFunc or
// time.NewTicker directly. Production wiring passes Real(); tests pass a
// *FakeClock and move time with Advance.
package clock

import "time"

// Clock is the time source injected into stores and schedulers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After delivers the current time on the returned channel once d has elapsed.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once after d. It is the one-shot scheduling primitive.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker delivers ticks every d. It is the periodic scheduling primitive.
	NewTicker(d time.Duration) *Ticker
	// Sleep blocks for d.
	Sleep(d time.Duration)
}

// Timer is a handle to a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. It reports false when the call already
// fired or was stopped before.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Ticker delivers periodic ticks on C until stopped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() {
	if t == nil || t.stop == nil {
		return
	}
	t.stop()
}

// Real returns the Clock backed by package time.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
