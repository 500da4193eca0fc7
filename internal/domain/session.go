package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of an assessment session.
type SessionStatus string

const (
	SessionInProgress      SessionStatus = "in_progress"
	SessionProfileComplete SessionStatus = "profile_complete"
	SessionExpired         SessionStatus = "expired"
)

// Message roles in an assessment transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of an assessment conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// AssessmentSession holds the state of one conversational assessment.
type AssessmentSession struct {
	ID           string          `json:"session_id"`
	OwnerID      string          `json:"owner_id"`
	Subject      string          `json:"subject,omitempty"`
	InitialGoals string          `json:"initial_goals,omitempty"`
	Messages     []Message       `json:"messages"`
	Profile      *LearnerProfile `json:"profile,omitempty"`
	Status       SessionStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether the session TTL has elapsed at now.
func (s *AssessmentSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// UserMessages returns the content of every user turn, oldest first.
func (s *AssessmentSession) UserMessages() []string {
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to mutators.
func (s *AssessmentSession) Clone() *AssessmentSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	if s.Profile != nil {
		p := *s.Profile
		cp.Profile = &p
	}
	return &cp
}
