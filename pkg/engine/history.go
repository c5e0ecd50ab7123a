package engine

import (
	"slices"
	"sync"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultHistoryTurns is the number of turns kept per session when no limit is given.
const DefaultHistoryTurns = 20

// Turn is one exchange step stored in a session history.
type Turn struct {
	Role Role
	Text string
}

// History keeps a bounded, in-memory list of turns per session key. It is
// safe for concurrent use.
type History struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]Turn
}

// NewHistory returns a History keeping at most limit turns per session.
// A non-positive limit uses DefaultHistoryTurns.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryTurns
	}
	return &History{
		limit:    limit,
		sessions: make(map[string][]Turn),
	}
}

// Append records turns for key, evicting the oldest ones beyond the limit.
// A stored history never starts with an assistant turn.
func (h *History) Append(key string, turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := append(h.sessions[key], turns...)
	if over := len(all) - h.limit; over > 0 {
		all = all[over:]
	}
	for len(all) > 0 && all[0].Role != RoleUser {
		all = all[1:]
	}
	h.sessions[key] = slices.Clip(all)
}

// Turns returns a copy of the turns recorded for key.
func (h *History) Turns(key string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sessions[key])
}

// Reset forgets the session for key.
func (h *History) Reset(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, key)
}

// Sessions returns the number of sessions with recorded turns.
func (h *History) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
