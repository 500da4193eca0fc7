package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
	"github.com/ashureev/studyforge/internal/store"
)

var knownSubjects = []string{"Python", "python3", "Go", "golang", "Machine Learning", "ml"}

func session(msgs ...string) *domain.AssessmentSession {
	s := &domain.AssessmentSession{ID: "s1", OwnerID: "u1", Status: domain.SessionInProgress}
	for _, m := range msgs {
		s.Messages = append(s.Messages, domain.Message{Role: domain.RoleUser, Content: m})
	}
	return s
}

func TestExtractFacts(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []string
		subject string
		level   domain.ExperienceLevel
		style   string
		time    string
		goals   bool
	}{
		{
			name:    "everything in one message",
			msgs:    []string{"I'm a complete beginner and I want to learn Go so I can build web services"},
			subject: "Go",
			level:   domain.LevelBeginner,
			goals:   true,
		},
		{
			name:    "lowercase go is not a subject",
			msgs:    []string{"I'd like to go deeper into things"},
			subject: "",
			goals:   true,
		},
		{
			name:    "longest known subject wins",
			msgs:    []string{"machine learning please"},
			subject: "Machine Learning",
		},
		{
			name:    "free text subject",
			msgs:    []string{"I am interested in Rust, because it is fast"},
			subject: "Rust",
		},
		{
			name:    "noise words are skipped",
			msgs:    []string{"teach me so I can learn more about Haskell."},
			subject: "Haskell",
			goals:   true,
		},
		{
			name:  "later level overrides earlier",
			msgs:  []string{"I'm new to this", "actually I'm fairly proficient"},
			level: domain.LevelAdvanced,
		},
		{
			name:  "hands on style and hours",
			msgs:  []string{"I like practice and coding exercises, about 5 hours per week"},
			style: "hands_on",
			time:  "5 hours per week",
		},
		{
			name:  "visual style",
			msgs:  []string{"diagrams and videos help me most"},
			style: "visual",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ExtractFacts(session(tt.msgs...), knownSubjects)
			if f.Subject != tt.subject {
				t.Errorf("Expected subject %q, got %q", tt.subject, f.Subject)
			}
			if f.Level != tt.level {
				t.Errorf("Expected level %q, got %q", tt.level, f.Level)
			}
			if f.LearningStyle != tt.style {
				t.Errorf("Expected style %q, got %q", tt.style, f.LearningStyle)
			}
			if f.TimeConstraint != tt.time {
				t.Errorf("Expected time %q, got %q", tt.time, f.TimeConstraint)
			}
			if (f.Goals != "") != tt.goals {
				t.Errorf("Expected goals present=%v, got %q", tt.goals, f.Goals)
			}
		})
	}
}

func TestExtractFacts_SessionFieldsSeed(t *testing.T) {
	s := session("I'm an intermediate developer")
	s.Subject = "SQL"
	s.InitialGoals = "write reports"
	f := ExtractFacts(s, knownSubjects)
	p, ok := f.Profile()
	if !ok {
		t.Fatalf("Expected complete profile, missing %v", f.Missing())
	}
	if p.Subject != "SQL" || p.Goals != "write reports" || p.ExperienceLevel != domain.LevelIntermediate {
		t.Errorf("Unexpected profile: %+v", p)
	}
}

func TestAdvance_CompletesExactlyOnce(t *testing.T) {
	e := NewExtractor(nil, knownSubjects)
	s := session()

	reply, profile, err := e.Advance(context.Background(), s, "I want to learn Python")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if profile != nil {
		t.Fatal("Expected no profile before the level is known")
	}
	if !strings.Contains(reply, "experience") {
		t.Errorf("Expected a question about experience, got %q", reply)
	}
	if len(s.Messages) != 2 || s.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("Expected user and assistant turns, got %+v", s.Messages)
	}

	_, profile, err = e.Advance(context.Background(), s, "I'm a total beginner")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if profile == nil || profile.Subject != "Python" || profile.ExperienceLevel != domain.LevelBeginner {
		t.Fatalf("Expected beginner Python profile, got %+v", profile)
	}
	if s.Status != domain.SessionProfileComplete || s.Profile == nil {
		t.Errorf("Expected session to be complete, got %s", s.Status)
	}

	_, _, err = e.Advance(context.Background(), s, "one more thing")
	if !errors.Is(err, domain.ErrSessionAlreadyComplete) {
		t.Errorf("Expected ErrSessionAlreadyComplete, got %v", err)
	}
}

func TestAdvance_RejectsBadInput(t *testing.T) {
	e := NewExtractor(nil, knownSubjects)

	if _, _, err := e.Advance(context.Background(), session(), "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	expired := session()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if _, _, err := e.Advance(context.Background(), expired, "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected expired session to be not found, got %v", err)
	}
}

type failingResponder struct{ err error }

func (f failingResponder) Reply(context.Context, Turn) (string, error) { return "", f.err }

func TestAdvance_ResponderFailureLeavesSessionUntouched(t *testing.T) {
	e := NewExtractor(failingResponder{err: errors.New("model down")}, knownSubjects)
	s := session()

	_, _, err := e.Advance(context.Background(), s, "I'm a beginner who wants to learn Go")
	if err == nil {
		t.Fatal("Expected responder error")
	}
	if len(s.Messages) != 0 || s.Status != domain.SessionInProgress {
		t.Errorf("Expected session unchanged, got %d messages and status %s", len(s.Messages), s.Status)
	}
}

type fakeLLM struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func TestGenAIResponder(t *testing.T) {
	model := &fakeLLM{reply: "  What would you like to build?  "}
	r := NewGenAIResponder(model)
	s := session("I'm new to Go")
	facts := ExtractFacts(s, knownSubjects)

	reply, err := r.Reply(context.Background(), Turn{Session: s, Facts: facts})
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "What would you like to build?" {
		t.Errorf("Expected trimmed reply, got %q", reply)
	}
	if !strings.Contains(model.last.Prompt, "Still unknown: goals") {
		t.Errorf("Expected prompt to name missing goals, got %q", model.last.Prompt)
	}

	model.reply = "   "
	if _, err := r.Reply(context.Background(), Turn{Session: s, Facts: facts}); !errors.Is(err, llm.ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestService_Flow(t *testing.T) {
	repo := store.NewMemory()
	svc := NewService(repo, NewExtractor(nil, knownSubjects), nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "Go", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(sess.Messages) != 1 || !strings.Contains(sess.Messages[0].Content, "interested in Go") {
		t.Fatalf("Expected greeting, got %+v", sess.Messages)
	}

	if _, err := svc.Send(ctx, sess.ID, "intruder", "hello"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}

	reply, err := svc.Send(ctx, sess.ID, "u1", "I'm a beginner and my goal is to write CLI tools")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !reply.ProfileComplete || reply.Profile == nil {
		t.Fatalf("Expected complete profile, got %+v", reply)
	}

	got, err := svc.Profile(ctx, sess.ID, "u1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if got.Status != domain.SessionProfileComplete || got.Profile.Subject != "Go" {
		t.Errorf("Unexpected stored session: %s %+v", got.Status, got.Profile)
	}
	if len(got.Messages) != 3 {
		t.Errorf("Expected 3 transcript messages, got %d", len(got.Messages))
	}

	if _, err := svc.Send(ctx, sess.ID, "u1", "more"); !errors.Is(err, domain.ErrSessionAlreadyComplete) {
		t.Errorf("Expected ErrSessionAlreadyComplete, got %v", err)
	}
}

func TestService_ExpiredSession(t *testing.T) {
	now := time.Now()
	repo := store.NewMemory(store.WithSessionTTL(time.Hour), store.WithClock(func() time.Time { return now }))
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	now = now.Add(2 * time.Hour)

	_, err = svc.Send(ctx, sess.ID, "u1", "hello")
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}
}

func TestTranscriptLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	logger.Log(TranscriptEvent{OwnerID: "user-1", SessionID: "sess-1", EventType: "assessment_user_message", Role: "user", Content: "hi"})
	logger.Log(TranscriptEvent{OwnerID: "user-1", SessionID: "sess-1", EventType: "assessment_reply", Role: "assistant", Content: "hello"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(TranscriptEvent{OwnerID: "user-1", SessionID: "sess-1", Content: "after close"})

	data, err := os.ReadFile(filepath.Join(dir, "user-1", "sess-1.ndjson"))
	if err != nil {
		t.Fatalf("Expected transcript file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var got TranscriptEvent
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "hello" || got.Timestamp == "" {
		t.Errorf("Unexpected event: %+v", got)
	}
}

func TestTranscriptLoggerDisabled(t *testing.T) {
	logger, err := NewTranscriptLogger(TranscriptConfig{}, nil)
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	logger.Log(TranscriptEvent{Content: "ignored"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("../etc"); strings.Contains(got, "/") {
		t.Errorf("Expected separators removed, got %q", got)
	}
	if got := safeName(".."); got != "_" {
		t.Errorf("Expected '_', got %q", got)
	}
	if got := safeName(""); got != "unknown" {
		t.Errorf("Expected 'unknown', got %q", got)
	}
}
