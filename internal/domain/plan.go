package domain

import (
	"fmt"
	"strings"
	"time"
)

// Topic is one unit of a curriculum.
type Topic struct {
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Difficulty    int      `json:"difficulty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Description   string   `json:"description,omitempty"`
	KeyConcepts   []string `json:"key_concepts,omitempty"`
}

// CurriculumPlan is an ordered list of topics derived from a learner profile.
// Topics are in topological order: every prerequisite slug appears earlier.
type CurriculumPlan struct {
	ID        string         `json:"plan_id"`
	OwnerID   string         `json:"owner_id"`
	Subject   string         `json:"subject"`
	Profile   LearnerProfile `json:"profile"`
	Topics    []Topic        `json:"topics"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks slug uniqueness, path safety and topological order.
func (p *CurriculumPlan) Validate() error {
	if p == nil || len(p.Topics) == 0 {
		return fmt.Errorf("%w: plan has no topics", ErrInvalidPlan)
	}
	seen := make(map[string]struct{}, len(p.Topics))
	for i, t := range p.Topics {
		if !ValidSlug(t.Slug) {
			return fmt.Errorf("%w: topic %d has invalid slug %q", ErrInvalidPlan, i, t.Slug)
		}
		if _, dup := seen[t.Slug]; dup {
			return fmt.Errorf("%w: duplicate slug %q", ErrInvalidPlan, t.Slug)
		}
		for _, pre := range t.Prerequisites {
			if _, ok := seen[pre]; !ok {
				return fmt.Errorf("%w: topic %q requires %q which is not earlier in the plan", ErrInvalidPlan, t.Slug, pre)
			}
		}
		seen[t.Slug] = struct{}{}
	}
	return nil
}

// TopicIndex returns the position of slug in the plan, or -1.
func (p *CurriculumPlan) TopicIndex(slug string) int {
	for i, t := range p.Topics {
		if t.Slug == slug {
			return i
		}
	}
	return -1
}

// ValidSlug reports whether s is a non-empty kebab-case path segment.
func ValidSlug(s string) bool {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
