package assessment

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
)

// Turn is what a Responder sees when replying to a user message. Session
// already contains the new user message.
type Turn struct {
	Session *domain.AssessmentSession
	Facts   Facts
	// Profile is set on the turn that completes the assessment.
	Profile *domain.LearnerProfile
}

// Responder writes the assistant side of an assessment conversation.
type Responder interface {
	Reply(ctx context.Context, turn Turn) (string, error)
}

// Greeting is the opening assistant message of a session.
func Greeting(subject, goals string) string {
	var b strings.Builder
	b.WriteString("Hello! I'm here to help you create a personalized learning experience. ")
	if subject != "" {
		fmt.Fprintf(&b, "I see you're interested in %s. ", subject)
	}
	if goals != "" {
		fmt.Fprintf(&b, "Your initial goals are: %s. ", goals)
	}
	b.WriteString("Let's start by understanding your learning preferences and experience level. ")
	b.WriteString("What's your current experience level with this subject?")
	return b.String()
}

// QuestionResponder asks for the next missing profile field.
type QuestionResponder struct{}

// Reply implements Responder.
func (QuestionResponder) Reply(_ context.Context, turn Turn) (string, error) {
	if turn.Profile != nil {
		return summarize(turn.Profile), nil
	}
	missing := turn.Facts.Missing()
	if len(missing) == 0 {
		return "Thanks! Tell me anything else you'd like your notebook to cover.", nil
	}
	switch missing[0] {
	case "subject":
		return "Which subject would you like to learn?", nil
	case "experience_level":
		return fmt.Sprintf("How would you describe your experience with %s: beginner, intermediate or advanced?", turn.Facts.Subject), nil
	default:
		return fmt.Sprintf("What would you like to be able to do with %s once you're done?", turn.Facts.Subject), nil
	}
}

func summarize(p *domain.LearnerProfile) string {
	var b strings.Builder
	b.WriteString("Thanks, your learning profile is complete.\n")
	fmt.Fprintf(&b, "- Subject: %s\n", p.Subject)
	fmt.Fprintf(&b, "- Experience level: %s\n", p.ExperienceLevel)
	fmt.Fprintf(&b, "- Goals: %s\n", p.Goals)
	if p.LearningStyle != "" {
		fmt.Fprintf(&b, "- Learning style: %s\n", p.LearningStyle)
	}
	if p.TimeConstraint != "" {
		fmt.Fprintf(&b, "- Time available: %s\n", p.TimeConstraint)
	}
	return strings.TrimRight(b.String(), "\n")
}

const assessorSystem = `You are a friendly learning coach assessing a learner before a study notebook is written.
Ask one short, conversational question at a time. Never ask for something the learner already told you.`

// GenAIResponder writes replies with a language model.
type GenAIResponder struct {
	LLM llm.TextGenerator
}

// NewGenAIResponder creates a model-backed responder.
func NewGenAIResponder(g llm.TextGenerator) *GenAIResponder {
	return &GenAIResponder{LLM: g}
}

// Reply implements Responder.
func (r *GenAIResponder) Reply(ctx context.Context, turn Turn) (string, error) {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range turn.Session.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\n")
	if turn.Profile != nil {
		b.WriteString("The assessment is complete. Thank the learner and summarize this profile in a few lines:\n")
		b.WriteString(summarize(turn.Profile))
	} else {
		fmt.Fprintf(&b, "Still unknown: %s. Ask about the first of these.", strings.Join(turn.Facts.Missing(), ", "))
	}

	text, err := r.LLM.Generate(ctx, llm.Request{
		System:      assessorSystem,
		Prompt:      b.String(),
		Temperature: 0.6,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
