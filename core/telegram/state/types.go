package state

import "context"

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// Source reports the current state of a user.
type Source interface {
	StateOf(ctx context.Context, userID int64) State
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, userID int64) State

// StateOf calls f.
func (f SourceFunc) StateOf(ctx context.Context, userID int64) State { return f(ctx, userID) }
