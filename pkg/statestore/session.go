// Package statestore provides transactional persistence of conversation
// sessions and their per-session tool-result cache.
//
// A session is owned by the store. Callers receive an isolated copy from
// Get, mutate it freely for the duration of one turn, and write it back
// through Commit, which applies an atomic read-modify-write. Sessions
// expire after a retention window; expiry never affects a copy already
// loaded mid-turn.
package statestore

import (
	"time"

	"github.com/kadirpekel/sage/pkg/protocol"
)

// CachedToolResult is a cached outcome of a tool invocation. Either a
// success payload or a typed error, never both.
type CachedToolResult struct {
	OK           bool                `json:"ok"`
	Result       map[string]any      `json:"result,omitempty"`
	Citations    []protocol.Citation `json:"citations,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CachedAt     time.Time           `json:"cached_at"`
}

// Session is one conversation's persisted state.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is the ordered conversation history. Append-only within
	// a turn.
	Messages []protocol.Message `json:"messages,omitempty"`

	// Summary is the rolling context summary maintained at turn end.
	Summary string `json:"summary,omitempty"`

	// MemoryRefs are opaque pointers into the retrieval index.
	MemoryRefs []string `json:"memory_refs,omitempty"`

	// ToolCache maps protocol.CacheKey(tool, params) to cached results,
	// deduplicating identical calls within the session.
	ToolCache map[string]CachedToolResult `json:"tool_cache,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSession creates a fresh default session. A new session is a valid
// empty default, not an error condition.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		ToolCache: make(map[string]CachedToolResult),
		Metadata:  make(map[string]any),
	}
}

// AppendMessage appends one message to the conversation history.
func (s *Session) AppendMessage(role protocol.Role, content string) {
	now := time.Now()
	s.Messages = append(s.Messages, protocol.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	s.UpdatedAt = now
}

// CachedResult looks up a cached tool result by cache key.
func (s *Session) CachedResult(key string) (CachedToolResult, bool) {
	if s.ToolCache == nil {
		return CachedToolResult{}, false
	}
	r, ok := s.ToolCache[key]
	return r, ok
}

// SetCachedResult stores a tool result under its cache key.
func (s *Session) SetCachedResult(key string, result CachedToolResult) {
	if s.ToolCache == nil {
		s.ToolCache = make(map[string]CachedToolResult)
	}
	s.ToolCache[key] = result
	s.UpdatedAt = time.Now()
}

// Clone returns a deep copy. Stores hand out clones so callers never
// share mutable state with the store's canonical copy.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:        s.ID,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Summary:   s.Summary,
	}

	if len(s.Messages) > 0 {
		out.Messages = make([]protocol.Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if len(s.MemoryRefs) > 0 {
		out.MemoryRefs = make([]string, len(s.MemoryRefs))
		copy(out.MemoryRefs, s.MemoryRefs)
	}

	out.ToolCache = make(map[string]CachedToolResult, len(s.ToolCache))
	for k, v := range s.ToolCache {
		cached := v
		if len(v.Result) > 0 {
			cached.Result = make(map[string]any, len(v.Result))
			for rk, rv := range v.Result {
				cached.Result[rk] = rv
			}
		}
		if len(v.Citations) > 0 {
			cached.Citations = make([]protocol.Citation, len(v.Citations))
			copy(cached.Citations, v.Citations)
		}
		out.ToolCache[k] = cached
	}

	out.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}

	return out
}
