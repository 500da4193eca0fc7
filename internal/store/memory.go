package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/studyforge/internal/domain"
)

// MemoryStore implements Repository in process memory.
type MemoryStore struct {
	opts options

	mu        sync.Mutex
	sessions  map[string]*domain.AssessmentSession
	plans     map[string]*domain.CurriculumPlan
	jobs      map[string]*domain.Job
	jobOrder  []string
	artifacts map[string]map[string]domain.Artifact
}

// NewMemory creates an empty in-memory repository.
func NewMemory(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      newOptions(opts),
		sessions:  make(map[string]*domain.AssessmentSession),
		plans:     make(map[string]*domain.CurriculumPlan),
		jobs:      make(map[string]*domain.Job),
		artifacts: make(map[string]map[string]domain.Artifact),
	}
}

// CreateSession starts a new in-progress assessment session.
func (m *MemoryStore) CreateSession(_ context.Context, ownerID, subject, goals string) (*domain.AssessmentSession, error) {
	s := newSession(m.opts, uuid.NewString(), ownerID, subject, goals)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s.Clone(), nil
}

func (m *MemoryStore) liveSession(id string) (*domain.AssessmentSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if s.Expired(m.opts.now()) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionExpired)
	}
	return s, nil
}

// GetSession returns a copy of a live session.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.AssessmentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveSession(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// UpdateSession applies fn to a copy and stores it if fn succeeds.
func (m *MemoryStore) UpdateSession(_ context.Context, id string, fn func(*domain.AssessmentSession) error) (*domain.AssessmentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveSession(id)
	if err != nil {
		return nil, err
	}
	cp := s.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	m.sessions[id] = cp
	return cp.Clone(), nil
}

// DeleteExpiredSessions removes sessions whose TTL elapsed before now.
func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// SavePlan stores a copy of plan.
func (m *MemoryStore) SavePlan(_ context.Context, plan *domain.CurriculumPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("save plan: %w: id is required", domain.ErrInvalidInput)
	}
	cp := *plan
	cp.Topics = append([]domain.Topic(nil), plan.Topics...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = &cp
	return nil
}

// GetPlan returns a stored plan.
func (m *MemoryStore) GetPlan(_ context.Context, id string) (*domain.CurriculumPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	cp.Topics = append([]domain.Topic(nil), p.Topics...)
	return &cp, nil
}

// CreateJob stores a new job.
func (m *MemoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("create job: %w: id is required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, domain.ErrConflict)
	}
	cp := job.Clone()
	now := m.opts.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.jobs[job.ID] = cp
	m.jobOrder = append(m.jobOrder, job.ID)
	return nil
}

// GetJob returns a copy of a job.
func (m *MemoryStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j.Clone(), nil
}

// UpdateJob applies fn to a copy and stores it if fn succeeds.
func (m *MemoryStore) UpdateJob(_ context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	cp := j.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = m.opts.now().UTC()
	m.jobs[id] = cp
	return cp.Clone(), nil
}

// ListJobs returns matching jobs newest first.
func (m *MemoryStore) ListJobs(_ context.Context, ownerID string, filter JobFilter) ([]*domain.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j := m.jobs[m.jobOrder[i]]
		if j != nil && matchesFilter(j, ownerID, filter) {
			out = append(out, j.Clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return page(out, filter), len(out), nil
}

// DeleteJob removes an inactive job and its artifact index.
func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if j.Status.Active() {
		return fmt.Errorf("delete job %s: %w", id, domain.ErrJobActive)
	}
	delete(m.jobs, id)
	delete(m.artifacts, id)
	for i, jid := range m.jobOrder {
		if jid == id {
			m.jobOrder = append(m.jobOrder[:i], m.jobOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RecordArtifact upserts artifact metadata.
func (m *MemoryStore) RecordArtifact(_ context.Context, jobID string, a domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.artifacts[jobID]
	if !ok {
		idx = make(map[string]domain.Artifact)
		m.artifacts[jobID] = idx
	}
	idx[a.TopicSlug] = a
	return nil
}

// FindArtifact returns recorded artifact metadata.
func (m *MemoryStore) FindArtifact(_ context.Context, jobID, topicSlug string) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[jobID][topicSlug]
	if !ok {
		return nil, fmt.Errorf("artifact %s/%s: %w", jobID, topicSlug, domain.ErrNotFound)
	}
	return &a, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
