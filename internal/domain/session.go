package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive        SessionStatus = "active"
	SessionConsolidating SessionStatus = "consolidating"
	SessionCrystallized  SessionStatus = "crystallized"
)

// Session scopes captured evidence and draft concepts. Lifecycle:
// active -> consolidating -> crystallized (terminal). Once crystallized,
// the session's drafts and edges are immutable.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	Title     string        `json:"title"`
	Goal      string        `json:"goal,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (s *Session) Terminal() bool {
	return s != nil && s.Status == SessionCrystallized
}

// ValidTransition enforces the session state machine.
func ValidTransition(from, to SessionStatus) bool {
	switch from {
	case SessionActive:
		return to == SessionConsolidating || to == SessionCrystallized
	case SessionConsolidating:
		return to == SessionCrystallized || to == SessionActive
	default:
		return false
	}
}
