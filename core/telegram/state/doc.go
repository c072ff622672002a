// Package state routes free text by the sender's conversational state.
// The state itself lives elsewhere; a Source reports it per update.
package state
