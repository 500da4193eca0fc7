package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ExperienceLevel is the learner's self-reported familiarity with a subject.
type ExperienceLevel string

const (
	LevelBeginner     ExperienceLevel = "beginner"
	LevelIntermediate ExperienceLevel = "intermediate"
	LevelAdvanced     ExperienceLevel = "advanced"
)

// ParseExperienceLevel normalizes a level string. Unknown values return false.
func ParseExperienceLevel(s string) (ExperienceLevel, bool) {
	switch ExperienceLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelBeginner:
		return LevelBeginner, true
	case LevelIntermediate:
		return LevelIntermediate, true
	case LevelAdvanced:
		return LevelAdvanced, true
	}
	return "", false
}

// MaxDifficulty is the highest topic difficulty kept for a learner at this level.
func (l ExperienceLevel) MaxDifficulty() int {
	switch l {
	case LevelBeginner:
		return 2
	case LevelIntermediate:
		return 4
	default:
		return 5
	}
}

// LearnerProfile is the structured result of an assessment. It is immutable once
// captured; consumers receive copies.
type LearnerProfile struct {
	Subject         string          `json:"subject"`
	ExperienceLevel ExperienceLevel `json:"experience_level"`
	LearningStyle   string          `json:"learning_style,omitempty"`
	Goals           string          `json:"goals"`
	TimeConstraint  string          `json:"time_constraint,omitempty"`
}

// Validate checks that the fields required for planning are present.
func (p *LearnerProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: profile is required", ErrInvalidProfile)
	}
	var missing []string
	if strings.TrimSpace(p.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(string(p.ExperienceLevel)) == "" {
		missing = append(missing, "experience_level")
	} else if _, ok := ParseExperienceLevel(string(p.ExperienceLevel)); !ok {
		return fmt.Errorf("%w: unknown experience_level %q", ErrInvalidProfile, p.ExperienceLevel)
	}
	if strings.TrimSpace(p.Goals) == "" {
		missing = append(missing, "goals")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	return nil
}

// HoursBudget extracts the first number in TimeConstraint ("10 hours per week" -> 10).
// Returns 0 when no constraint was given.
func (p *LearnerProfile) HoursBudget() int {
	if p == nil {
		return 0
	}
	fields := strings.FieldsFunc(p.TimeConstraint, func(r rune) bool { return !unicode.IsDigit(r) })
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
