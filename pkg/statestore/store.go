package statestore

import (
	"context"
	"errors"
)

// ErrConflict reports that a commit lost an optimistic concurrency race.
// The caller should reload and re-apply its mutation.
var ErrConflict = errors.New("statestore: commit conflict")

// ErrUnavailable reports that the backing store is unreachable. This is
// fatal to the current turn; the orchestrator surfaces it to the caller.
var ErrUnavailable = errors.New("statestore: store unavailable")

// Mutation transforms a session in place inside a commit. It runs against
// the store's current copy; it must not retain the pointer.
type Mutation func(*Session) error

// Store persists sessions.
//
// Get returns an isolated copy, creating a fresh default when the id is
// unknown. Commit is the only mutation entry point: it applies a
// read-modify-write atomically, with sequential consistency per session.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Commit(ctx context.Context, sessionID string, mutate Mutation) error
	Close() error
}
