// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// DefaultSessionTTL is how long an assessment session stays readable.
const DefaultSessionTTL = 24 * time.Hour

// JobFilter narrows ListJobs. Zero values match everything; Limit 0 means no limit.
type JobFilter struct {
	Status  domain.JobStatus
	Subject string
	Limit   int
	Offset  int
}

// Repository defines the interface for persisting sessions, plans and jobs.
//
// Update methods are atomic per record: the mutator receives a copy, and if it
// returns an error the stored record is left untouched.
type Repository interface {
	// CreateSession starts a new in-progress assessment session.
	CreateSession(ctx context.Context, ownerID, subject, goals string) (*domain.AssessmentSession, error)

	// GetSession returns a session. Expired sessions return domain.ErrSessionExpired,
	// which also matches domain.ErrNotFound.
	GetSession(ctx context.Context, id string) (*domain.AssessmentSession, error)

	// UpdateSession applies fn to a non-expired session and persists the result.
	UpdateSession(ctx context.Context, id string, fn func(*domain.AssessmentSession) error) (*domain.AssessmentSession, error)

	// DeleteExpiredSessions removes sessions whose TTL elapsed before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	SavePlan(ctx context.Context, plan *domain.CurriculumPlan) error
	GetPlan(ctx context.Context, id string) (*domain.CurriculumPlan, error)

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// UpdateJob applies fn to the job and persists the result atomically.
	UpdateJob(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error)

	// ListJobs returns an owner's jobs newest first together with the unpaged total.
	ListJobs(ctx context.Context, ownerID string, filter JobFilter) ([]*domain.Job, int, error)

	// DeleteJob removes a job and its artifact index. Active jobs are refused.
	DeleteJob(ctx context.Context, id string) error

	// RecordArtifact upserts storage metadata for (job, topic slug).
	RecordArtifact(ctx context.Context, jobID string, artifact domain.Artifact) error

	// FindArtifact returns recorded metadata or domain.ErrNotFound.
	FindArtifact(ctx context.Context, jobID, topicSlug string) (*domain.Artifact, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	sessionTTL time.Duration
	now        func() time.Time
}

func newOptions(opts []Option) options {
	o := options{sessionTTL: DefaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.sessionTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newSession(o options, id, ownerID, subject, goals string) *domain.AssessmentSession {
	now := o.now().UTC()
	return &domain.AssessmentSession{
		ID:           id,
		OwnerID:      ownerID,
		Subject:      subject,
		InitialGoals: goals,
		Messages:     []domain.Message{},
		Status:       domain.SessionInProgress,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.sessionTTL),
	}
}

func matchesFilter(j *domain.Job, ownerID string, f JobFilter) bool {
	if ownerID != "" && j.OwnerID != ownerID {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Subject != "" && j.Subject != f.Subject {
		return false
	}
	return true
}

func page[T any](items []T, f JobFilter) []T {
	if f.Offset >= len(items) {
		return []T{}
	}
	items = items[f.Offset:]
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items
}
