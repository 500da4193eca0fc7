package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
)

type fakeLLM struct {
	text string
	err  error
	req  llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.req = req
	return f.text, f.err
}

func topicRequest() Request {
	return Request{
		Subject: "Go",
		Topic:   domain.Topic{Name: "Slices and Maps", Slug: "slices-and-maps", Difficulty: 2, KeyConcepts: []string{"append"}},
		Profile: domain.LearnerProfile{ExperienceLevel: domain.LevelBeginner, Goals: "CLI tools"},
		Index:   1,
		Total:   3,
		Next:    "Structs",
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"tagged transient", &Error{Retryable: true, Err: errors.New("x")}, true},
		{"tagged permanent", &Error{Retryable: false, Err: context.DeadlineExceeded}, false},
		{"wrapped tagged", fmt.Errorf("topic: %w", &Error{Retryable: true}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"api 503", genai.APIError{Code: 503}, true},
		{"api 400", genai.APIError{Code: 400}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("%s: IsRetryable = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestGenAIGenerator_ClassifiesErrors(t *testing.T) {
	f := &fakeLLM{err: genai.APIError{Code: 429}}
	_, err := NewGenAIGenerator(f).Generate(context.Background(), topicRequest())
	if !IsRetryable(err) {
		t.Errorf("Expected rate limit to be retryable, got %v", err)
	}

	f.err = genai.APIError{Code: 400}
	_, err = NewGenAIGenerator(f).Generate(context.Background(), topicRequest())
	if err == nil || IsRetryable(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestGenAIGenerator_PromptAndTitle(t *testing.T) {
	f := &fakeLLM{text: "## Learning Objectives\n- learn"}
	out, err := NewGenAIGenerator(f).Generate(context.Background(), topicRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(out, "# Slices and Maps\n") {
		t.Errorf("Expected title to be added, got %q", out)
	}
	for _, want := range []string{"topic 2 of 3", "Key Concepts to Cover: append", "## Practice Exercises"} {
		if !strings.Contains(f.req.Prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	req := topicRequest()
	req.Topic.Slug = "Bad Slug"
	_, err := TemplateGenerator{}.Generate(context.Background(), req)
	if err == nil || IsRetryable(err) || !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected permanent invalid input error, got %v", err)
	}
}

func TestTemplateGenerator_HasAllSections(t *testing.T) {
	out, err := TemplateGenerator{}.Generate(context.Background(), topicRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if missing := MissingSections(out); len(missing) != 0 {
		t.Errorf("Missing sections: %v", missing)
	}
	next, ok := FindSection(out, "next steps")
	if !ok || !strings.Contains(next, "Structs") {
		t.Errorf("Expected next steps to mention Structs, got %q", next)
	}
}

func TestExtractSections(t *testing.T) {
	md := "# Title\nintro\n## One\nfirst\n### Sub\nnested\n## Two\n\nsecond\n"
	got := ExtractSections(md)
	if len(got) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(got))
	}
	if got[0].Title != "One" || got[0].Body != "first\n### Sub\nnested" {
		t.Errorf("Unexpected first section: %+v", got[0])
	}
	if got[1].Title != "Two" || got[1].Body != "second" {
		t.Errorf("Unexpected second section: %+v", got[1])
	}
}
