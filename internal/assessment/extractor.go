// Package assessment runs the conversational learner assessment that produces
// a LearnerProfile.
package assessment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// Extractor advances an assessment by one user turn.
type Extractor struct {
	Responder Responder
	// Subjects are recognised by name in free text.
	Subjects []string
	Now      func() time.Time
}

// NewExtractor creates an extractor. A nil responder asks plain questions.
func NewExtractor(r Responder, subjects []string) *Extractor {
	if r == nil {
		r = QuestionResponder{}
	}
	return &Extractor{Responder: r, Subjects: subjects, Now: time.Now}
}

// Advance appends message and the assistant reply to s. When the accumulated
// turns contain a subject, an experience level and goals, the session is marked
// profile_complete and the profile is returned; this happens exactly once.
// On error s is left unmodified.
func (e *Extractor) Advance(ctx context.Context, s *domain.AssessmentSession, message string) (string, *domain.LearnerProfile, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}
	now := e.now()
	switch {
	case s.Status == domain.SessionProfileComplete:
		return "", nil, domain.ErrSessionAlreadyComplete
	case s.Status == domain.SessionExpired || s.Expired(now):
		return "", nil, domain.ErrSessionExpired
	case s.Status != domain.SessionInProgress:
		return "", nil, fmt.Errorf("%w: session is %s", domain.ErrInvalidInput, s.Status)
	}

	draft := s.Clone()
	draft.Messages = append(draft.Messages, domain.Message{Role: domain.RoleUser, Content: message, At: now})
	facts := ExtractFacts(draft, e.Subjects)
	profile, complete := facts.Profile()

	reply, err := e.Responder.Reply(ctx, Turn{Session: draft, Facts: facts, Profile: profile})
	if err != nil {
		return "", nil, fmt.Errorf("assessment reply: %w", err)
	}

	draft.Messages = append(draft.Messages, domain.Message{Role: domain.RoleAssistant, Content: reply, At: e.now()})
	if complete {
		draft.Profile = profile
		draft.Status = domain.SessionProfileComplete
	}
	*s = *draft
	if !complete {
		return reply, nil, nil
	}
	p := *profile
	return reply, &p, nil
}

func (e *Extractor) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}
