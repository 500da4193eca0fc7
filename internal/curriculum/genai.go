package curriculum

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
)

const decomposeSystem = `You design self-study curricula. Reply with JSON only: an array of topics,
each {"name": string, "difficulty": 1-5, "prerequisites": [topic names], "description": string,
"key_concepts": [string]}. Prerequisites must name other topics in the same array.`

// GenAIDecomposer asks a language model for a topic breakdown.
type GenAIDecomposer struct {
	LLM       llm.TextGenerator
	MaxTopics int
}

// Decompose asks the model for candidate topics for subject.
func (d *GenAIDecomposer) Decompose(ctx context.Context, subject string, profile domain.LearnerProfile) ([]Candidate, error) {
	maxTopics := d.MaxTopics
	if maxTopics <= 0 {
		maxTopics = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	fmt.Fprintf(&b, "Learner experience level: %s\n", profile.ExperienceLevel)
	fmt.Fprintf(&b, "Learner goals: %s\n", profile.Goals)
	if profile.LearningStyle != "" {
		fmt.Fprintf(&b, "Preferred learning style: %s\n", profile.LearningStyle)
	}
	if profile.TimeConstraint != "" {
		fmt.Fprintf(&b, "Time available: %s\n", profile.TimeConstraint)
	}
	fmt.Fprintf(&b, "Propose at most %d topics covering the subject from fundamentals to advanced.", maxTopics)

	text, err := d.LLM.Generate(ctx, llm.Request{
		System:      decomposeSystem,
		Prompt:      b.String(),
		JSON:        true,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("decompose %q: %w", subject, err)
	}
	return parseCandidates(text)
}

func parseCandidates(text string) ([]Candidate, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var out []Candidate
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		var wrapped struct {
			Topics []Candidate `json:"topics"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
		out = wrapped.Topics
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no topics")
	}
	return out, nil
}
