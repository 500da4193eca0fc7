package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/studyforge/internal/llm"
)

const notesSystem = `You write clear, practical study notes in markdown. Use a level-two heading (##)
for every requested section, in the requested order, and nothing before the first heading
except the topic title.`

// GenAIGenerator writes topic notes with a language model.
type GenAIGenerator struct {
	LLM llm.TextGenerator
}

// NewGenAIGenerator creates a model-backed generator.
func NewGenAIGenerator(g llm.TextGenerator) *GenAIGenerator {
	return &GenAIGenerator{LLM: g}
}

// Generate asks the model for notes on req.Topic.
func (g *GenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	text, err := g.LLM.Generate(ctx, llm.Request{
		System:      notesSystem,
		Prompt:      buildPrompt(req),
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	if err != nil {
		return "", &Error{Topic: req.Topic.Slug, Retryable: llm.IsTransient(err), Err: err}
	}

	if missing := MissingSections(text); len(missing) > 0 {
		slog.Warn("generated notes are missing sections",
			"topic", req.Topic.Slug,
			"missing", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(strings.TrimSpace(text), "# ") {
		text = "# " + req.Topic.Name + "\n\n" + text
	}
	return strings.TrimSpace(text) + "\n", nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate study notes for topic %d of %d.\n\n", req.Index+1, req.Total)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic.Name)
	if req.Topic.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Topic.Description)
	}
	fmt.Fprintf(&b, "Difficulty Level: %s\n", difficultyLabel(req.Topic.Difficulty))
	concepts := "general concepts"
	if len(req.Topic.KeyConcepts) > 0 {
		concepts = strings.Join(req.Topic.KeyConcepts, ", ")
	}
	fmt.Fprintf(&b, "Key Concepts to Cover: %s\n", concepts)
	fmt.Fprintf(&b, "Learner level: %s\n", req.Profile.ExperienceLevel)
	if req.Profile.LearningStyle != "" {
		fmt.Fprintf(&b, "Learner prefers: %s\n", req.Profile.LearningStyle)
	}
	if req.Profile.Goals != "" {
		fmt.Fprintf(&b, "Learner goals: %s\n", req.Profile.Goals)
	}
	if req.Previous != "" {
		fmt.Fprintf(&b, "Previous topic: %s\n", req.Previous)
	}
	if req.Next != "" {
		fmt.Fprintf(&b, "Next topic: %s\n", req.Next)
	}
	b.WriteString("\nSections, in this order:\n")
	for _, s := range SectionNames {
		fmt.Fprintf(&b, "## %s\n", s)
	}
	return b.String()
}
