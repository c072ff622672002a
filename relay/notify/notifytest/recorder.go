// Package notifytest provides an in-memory Messenger for tests.
package notifytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/m3rciful/curatorbot/relay/notify"
)

// ErrUnreachable is returned for sends the Recorder was told to fail.
var ErrUnreachable = errors.New("notifytest: actor unreachable")

// Message is one recorded Notify call.
type Message struct {
	ActorID int64
	Text    string
	Actions []notify.Action
}

// Ack is one recorded AcknowledgeInteraction call.
type Ack struct {
	InteractionID string
	Text          string
}

// Recorder records successful sends and fails on demand.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	acks     []Ack
	failing  map[int64]int
	down     map[int64]bool
	// FailIf, when set, fails any send it returns true for.
	FailIf func(actorID int64, actions []notify.Action) bool
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{failing: map[int64]int{}, down: map[int64]bool{}}
}

// FailNext makes the next n sends to actorID fail.
func (r *Recorder) FailNext(actorID int64, n int) {
	r.mu.Lock()
	r.failing[actorID] += n
	r.mu.Unlock()
}

// SetDown makes every send to actorID fail until called again with false.
func (r *Recorder) SetDown(actorID int64, down bool) {
	r.mu.Lock()
	r.down[actorID] = down
	r.mu.Unlock()
}

func (r *Recorder) Notify(_ context.Context, actorID int64, text string, actions ...notify.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down[actorID] {
		return ErrUnreachable
	}
	if r.failing[actorID] > 0 {
		r.failing[actorID]--
		return ErrUnreachable
	}
	if r.FailIf != nil && r.FailIf(actorID, actions) {
		return ErrUnreachable
	}
	r.messages = append(r.messages, Message{ActorID: actorID, Text: text, Actions: append([]notify.Action(nil), actions...)})
	return nil
}

func (r *Recorder) AcknowledgeInteraction(_ context.Context, interactionID, text string) error {
	r.mu.Lock()
	r.acks = append(r.acks, Ack{InteractionID: interactionID, Text: text})
	r.mu.Unlock()
	return nil
}

// Messages returns every delivered message to actorID.
func (r *Recorder) Messages(actorID int64) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.ActorID == actorID {
			out = append(out, m)
		}
	}
	return out
}

// Count returns how many messages to actorID contain substr.
func (r *Recorder) Count(actorID int64, substr string) int {
	n := 0
	for _, m := range r.Messages(actorID) {
		if strings.Contains(m.Text, substr) {
			n++
		}
	}
	return n
}

// Last returns the latest message to actorID.
func (r *Recorder) Last(actorID int64) (Message, bool) {
	msgs := r.Messages(actorID)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Acks returns the recorded acknowledgements.
func (r *Recorder) Acks() []Ack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Ack(nil), r.acks...)
}

// Reset forgets recorded messages and acknowledgements.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.acks = nil
	r.mu.Unlock()
}
