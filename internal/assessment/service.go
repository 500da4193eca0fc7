package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// SessionStore is the part of the store the assessment service needs.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID, subject, goals string) (*domain.AssessmentSession, error)
	GetSession(ctx context.Context, id string) (*domain.AssessmentSession, error)
	UpdateSession(ctx context.Context, id string, fn func(*domain.AssessmentSession) error) (*domain.AssessmentSession, error)
}

// Reply is the result of one assessment turn.
type Reply struct {
	SessionID       string
	Text            string
	ProfileComplete bool
	Profile         *domain.LearnerProfile
}

// Service runs assessments against a session store.
type Service struct {
	repo      SessionStore
	extractor *Extractor
	log       TranscriptLogger
}

// NewService wires an extractor to repo. log may be nil.
func NewService(repo SessionStore, extractor *Extractor, log TranscriptLogger) *Service {
	if extractor == nil {
		extractor = NewExtractor(nil, nil)
	}
	if log == nil {
		log = noopTranscriptLogger{}
	}
	return &Service{repo: repo, extractor: extractor, log: log}
}

// Start opens a session for ownerID and records the greeting.
func (s *Service) Start(ctx context.Context, ownerID, subject, goals string) (*domain.AssessmentSession, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}
	sess, err := s.repo.CreateSession(ctx, ownerID, subject, goals)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	greeting := Greeting(subject, goals)
	sess, err = s.repo.UpdateSession(ctx, sess.ID, func(cur *domain.AssessmentSession) error {
		cur.Messages = append(cur.Messages, domain.Message{Role: domain.RoleAssistant, Content: greeting, At: time.Now().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record greeting: %w", err)
	}

	slog.Info("assessment started", "session_id", sess.ID, "owner_id", ownerID, "subject", subject)
	s.log.Log(TranscriptEvent{OwnerID: ownerID, SessionID: sess.ID, EventType: "assessment_started", Role: domain.RoleAssistant, Content: greeting,
		Meta: map[string]any{"subject": subject, "initial_goals": goals}})
	return sess, nil
}

// Send applies one user message. The reply is computed outside the store's
// write path; if the session changed meanwhile the turn is rejected with
// domain.ErrConflict.
func (s *Service) Send(ctx context.Context, sessionID, ownerID, message string) (*Reply, error) {
	sess, err := s.owned(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	seen := len(sess.Messages)

	text, profile, err := s.extractor.Advance(ctx, sess, message)
	if err != nil {
		return nil, err
	}

	_, err = s.repo.UpdateSession(ctx, sessionID, func(cur *domain.AssessmentSession) error {
		if cur.Status == domain.SessionProfileComplete {
			return domain.ErrSessionAlreadyComplete
		}
		if len(cur.Messages) != seen {
			return fmt.Errorf("%w: session %s changed concurrently", domain.ErrConflict, sessionID)
		}
		cur.Messages = sess.Messages
		cur.Profile = sess.Profile
		cur.Status = sess.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Log(TranscriptEvent{OwnerID: ownerID, SessionID: sessionID, EventType: "assessment_user_message", Role: domain.RoleUser, Content: message})
	s.log.Log(TranscriptEvent{OwnerID: ownerID, SessionID: sessionID, EventType: "assessment_reply", Role: domain.RoleAssistant, Content: text,
		Meta: map[string]any{"profile_complete": profile != nil}})
	if profile != nil {
		slog.Info("assessment complete", "session_id", sessionID, "subject", profile.Subject, "level", profile.ExperienceLevel)
	}

	return &Reply{SessionID: sessionID, Text: text, ProfileComplete: profile != nil, Profile: profile}, nil
}

// Profile returns the session so callers can read its profile and status.
func (s *Service) Profile(ctx context.Context, sessionID, ownerID string) (*domain.AssessmentSession, error) {
	return s.owned(ctx, sessionID, ownerID)
}

func (s *Service) owned(ctx context.Context, sessionID, ownerID string) (*domain.AssessmentSession, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: session %s belongs to another user", domain.ErrForbidden, sessionID)
	}
	return sess, nil
}
