// Package content produces the study notes for a single curriculum topic.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
)

// Request describes one topic to generate.
type Request struct {
	Subject string
	Topic   domain.Topic
	Profile domain.LearnerProfile
	// Index is zero-based; Total is the number of topics in the plan.
	Index int
	Total int
	// Previous and Next name neighbouring topics for cross references.
	Previous string
	Next     string
}

// Validate rejects requests that can never succeed.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Topic.Name) == "" {
		return &Error{Topic: r.Topic.Slug, Err: fmt.Errorf("%w: topic name is required", domain.ErrInvalidInput)}
	}
	if !domain.ValidSlug(r.Topic.Slug) {
		return &Error{Topic: r.Topic.Slug, Err: fmt.Errorf("%w: invalid topic slug %q", domain.ErrInvalidInput, r.Topic.Slug)}
	}
	return nil
}

// Generator produces markdown content for a topic.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Error is a generation failure tagged with whether retrying may help.
type Error struct {
	Topic     string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("generate %s (%s): %v", e.Topic, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable classifies generation errors. A tagged *Error decides for itself;
// otherwise deadlines, rate limits, 5xx responses and network errors are
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return llm.IsTransient(err)
}

// difficultyLabel maps numeric difficulty to the wording used in prompts and notes.
func difficultyLabel(d int) string {
	switch {
	case d <= 2:
		return "beginner"
	case d <= 3:
		return "intermediate"
	default:
		return "advanced"
	}
}
