// Package curriculum turns a learner profile into an ordered topic plan.
package curriculum

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
	"github.com/ashureev/studyforge/internal/retry"
)

// Candidate is an unordered topic proposed by a Decomposer.
// Prerequisites refer to other candidates by name or slug.
type Candidate struct {
	Name          string   `json:"name"`
	Difficulty    int      `json:"difficulty"`
	Prerequisites []string `json:"prerequisites"`
	Description   string   `json:"description"`
	KeyConcepts   []string `json:"key_concepts"`
}

// Decomposer proposes the topics that make up a subject.
type Decomposer interface {
	Decompose(ctx context.Context, subject string, profile domain.LearnerProfile) ([]Candidate, error)
}

// minTopicsUnderTimeLimit is the floor for plans trimmed by a time constraint.
const minTopicsUnderTimeLimit = 3

// Planner builds curriculum plans.
type Planner struct {
	Decomposer Decomposer
	// Retry governs decomposer calls. Only transient model errors are retried;
	// the zero value makes a single attempt.
	Retry retry.Policy
	Now   func() time.Time
}

// NewPlanner creates a planner backed by d.
func NewPlanner(d Decomposer) *Planner {
	return &Planner{Decomposer: d, Now: time.Now}
}

// Plan produces a topologically ordered plan for profile. A non-empty subject
// overrides the profile's subject.
func (p *Planner) Plan(ctx context.Context, profile *domain.LearnerProfile, subject string) (*domain.CurriculumPlan, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: profile is required", domain.ErrInvalidProfile)
	}
	prof := *profile
	if s := strings.TrimSpace(subject); s != "" {
		prof.Subject = s
	}
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	level, _ := domain.ParseExperienceLevel(string(prof.ExperienceLevel))
	prof.ExperienceLevel = level

	var candidates []Candidate
	err := p.Retry.Do(ctx, "decompose "+prof.Subject, llm.IsTransient, func(ctx context.Context) error {
		var derr error
		candidates, derr = p.Decomposer.Decompose(ctx, prof.Subject, prof)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPlanningFailed, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no topics for subject %q", domain.ErrPlanningFailed, prof.Subject)
	}

	topics, err := resolve(candidates)
	if err != nil {
		return nil, err
	}
	ordered, err := TopoSort(topics)
	if err != nil {
		return nil, err
	}
	ordered = trim(ordered, level.MaxDifficulty(), topicCap(prof.HoursBudget()))

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	plan := &domain.CurriculumPlan{
		ID:        uuid.NewString(),
		Subject:   prof.Subject,
		Profile:   prof,
		Topics:    ordered,
		CreatedAt: now().UTC(),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanningFailed, err)
	}
	slog.Debug("curriculum planned", "subject", plan.Subject, "level", level, "topics", len(plan.Topics))
	return plan, nil
}

// resolve assigns unique slugs and rewrites prerequisites to slugs.
func resolve(candidates []Candidate) ([]domain.Topic, error) {
	taken := make(map[string]bool, len(candidates))
	byName := make(map[string]string, len(candidates))
	topics := make([]domain.Topic, 0, len(candidates))
	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: topic without a name", domain.ErrPlanningFailed)
		}
		slug := uniqueSlug(Slugify(name), taken)
		if _, dup := byName[strings.ToLower(name)]; !dup {
			byName[strings.ToLower(name)] = slug
		}
		difficulty := c.Difficulty
		if difficulty < 1 {
			difficulty = 1
		}
		topics = append(topics, domain.Topic{
			Name:          name,
			Slug:          slug,
			Difficulty:    difficulty,
			Prerequisites: append([]string(nil), c.Prerequisites...),
			Description:   c.Description,
			KeyConcepts:   c.KeyConcepts,
		})
	}

	for i := range topics {
		var prereqs []string
		for _, ref := range topics[i].Prerequisites {
			slug, ok := byName[strings.ToLower(strings.TrimSpace(ref))]
			if !ok && taken[Slugify(ref)] {
				slug, ok = Slugify(ref), true
			}
			if !ok {
				return nil, fmt.Errorf("%w: topic %q requires unknown topic %q", domain.ErrPlanningFailed, topics[i].Name, ref)
			}
			if slug == topics[i].Slug {
				return nil, fmt.Errorf("%w: topic %q requires itself", domain.ErrPlanningFailed, topics[i].Name)
			}
			prereqs = append(prereqs, slug)
		}
		topics[i].Prerequisites = prereqs
	}
	return topics, nil
}

// TopoSort orders topics so every prerequisite precedes its dependents (Kahn's
// algorithm). Among ready topics the lowest difficulty goes first, then the
// earliest in input order. A cycle or unknown prerequisite fails planning.
func TopoSort(topics []domain.Topic) ([]domain.Topic, error) {
	index := make(map[string]int, len(topics))
	for i, t := range topics {
		index[t.Slug] = i
	}
	indegree := make([]int, len(topics))
	dependents := make([][]int, len(topics))
	for i, t := range topics {
		for _, pre := range t.Prerequisites {
			j, ok := index[pre]
			if !ok {
				return nil, fmt.Errorf("%w: topic %q requires unknown topic %q", domain.ErrPlanningFailed, t.Slug, pre)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]domain.Topic, 0, len(topics))
	for len(ready) > 0 {
		best := 0
		for k := 1; k < len(ready); k++ {
			a, b := topics[ready[k]], topics[ready[best]]
			if a.Difficulty < b.Difficulty || (a.Difficulty == b.Difficulty && ready[k] < ready[best]) {
				best = k
			}
		}
		i := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		out = append(out, topics[i])
		for _, dep := range dependents[i] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(topics) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, topics[i].Slug)
			}
		}
		return nil, fmt.Errorf("%w: prerequisite cycle among %s", domain.ErrPlanningFailed, strings.Join(stuck, ", "))
	}
	return out, nil
}

// topicCap limits plan length for a weekly hours budget. Zero means no cap.
func topicCap(hours int) int {
	if hours <= 0 {
		return 0
	}
	return max(minTopicsUnderTimeLimit, hours/2)
}

// trim keeps topics at or below maxDifficulty plus every prerequisite they
// need, then cuts the result to limit topics. ordered must be topologically
// sorted; both steps preserve that order and prerequisite closure.
func trim(ordered []domain.Topic, maxDifficulty, limit int) []domain.Topic {
	keep := make(map[string]bool, len(ordered))
	bySlug := make(map[string]domain.Topic, len(ordered))
	for _, t := range ordered {
		bySlug[t.Slug] = t
	}
	var mark func(slug string)
	mark = func(slug string) {
		if keep[slug] {
			return
		}
		keep[slug] = true
		for _, pre := range bySlug[slug].Prerequisites {
			mark(pre)
		}
	}
	for _, t := range ordered {
		if t.Difficulty <= maxDifficulty {
			mark(t.Slug)
		}
	}

	out := make([]domain.Topic, 0, len(keep))
	for _, t := range ordered {
		if keep[t.Slug] {
			out = append(out, t)
		}
	}
	if len(out) == 0 && len(ordered) > 0 {
		// Nothing easy enough: the first topic has no prerequisites.
		out = append(out, ordered[0])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
