package statestore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation. Commits to the same
// session are serialized by a per-session lock, so a later commit always
// observes the effects of an earlier committed one.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry

	retention time.Duration

	sweepOnce sync.Once
	done      chan struct{}
}

type memoryEntry struct {
	mu        sync.Mutex
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with the given retention
// window. A non-positive retention disables expiry.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*memoryEntry),
		retention: retention,
		done:      make(chan struct{}),
	}
}

// StartSweep launches a background goroutine that evicts expired sessions
// at the given interval. Expiry is also applied lazily on Get, so the
// sweep is an optimization, not a correctness requirement.
func (m *MemoryStore) StartSweep(interval time.Duration) {
	if m.retention <= 0 || interval <= 0 {
		return
	}
	m.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-m.done:
					return
				case <-ticker.C:
					m.sweep()
				}
			}
		}()
	})
}

func (m *MemoryStore) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, entry := range m.sessions {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Swept expired sessions", "removed", removed, "remaining", len(m.sessions))
	}
}

// Get returns an isolated copy of the session, or a fresh default when the
// id is unknown or the stored session has expired. A copy handed out here
// stays valid even if the session expires mid-turn.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.sessions, sessionID)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return NewSession(sessionID), nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

// Commit applies the mutation atomically against the store's current copy
// of the session, creating it if absent. The mutation runs on a clone; the
// clone replaces the canonical copy only if the mutation succeeds, so a
// failed mutation leaves no partial write.
func (m *MemoryStore) Commit(ctx context.Context, sessionID string, mutate Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &memoryEntry{session: NewSession(sessionID)}
		m.sessions[sessionID] = entry
	}
	m.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.session.Clone()
	if err := mutate(working); err != nil {
		return err
	}
	working.UpdatedAt = time.Now()

	entry.session = working
	if m.retention > 0 {
		entry.expiresAt = time.Now().Add(m.retention)
	}
	return nil
}

// Close stops the background sweep.
func (m *MemoryStore) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return nil
}
