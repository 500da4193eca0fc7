package curriculum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/llm"
	"github.com/ashureev/studyforge/internal/retry"
)

type staticDecomposer struct {
	topics []Candidate
	err    error
}

func (s staticDecomposer) Decompose(context.Context, string, domain.LearnerProfile) ([]Candidate, error) {
	return s.topics, s.err
}

func profile(level domain.ExperienceLevel, subject string) *domain.LearnerProfile {
	return &domain.LearnerProfile{Subject: subject, ExperienceLevel: level, Goals: "get productive"}
}

func slugs(topics []domain.Topic) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.Slug)
	}
	return out
}

func TestTopoSort_TieBreaksByDifficultyThenInsertion(t *testing.T) {
	topics := []domain.Topic{
		{Slug: "c", Difficulty: 3},
		{Slug: "a", Difficulty: 1},
		{Slug: "b", Difficulty: 2, Prerequisites: []string{"a"}},
		{Slug: "d", Difficulty: 2, Prerequisites: []string{"a"}},
	}
	got, err := TopoSort(topics)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "d", "c"}, slugs(got))
}

func TestTopoSort_Cycle(t *testing.T) {
	_, err := TopoSort([]domain.Topic{
		{Slug: "a", Prerequisites: []string{"b"}},
		{Slug: "b", Prerequisites: []string{"a"}},
	})
	require.ErrorIs(t, err, domain.ErrPlanningFailed)
}

func TestPlanner_BeginnerGoKeepsFoundations(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	p := NewPlanner(&CatalogDecomposer{Catalog: cat})
	plan, err := p.Plan(context.Background(), profile(domain.LevelBeginner, "Go"), "")
	require.NoError(t, err)
	require.NotEmpty(t, plan.ID)
	require.Equal(t, []string{"go-basics", "control-flow", "functions-and-errors", "slices-and-maps"}, slugs(plan.Topics))
	require.NoError(t, plan.Validate())
}

func TestPlanner_TimeConstraintCapsTopics(t *testing.T) {
	prof := profile(domain.LevelAdvanced, "golang")
	prof.TimeConstraint = "4 hours per week"
	plan, err := NewPlanner(&CatalogDecomposer{}).Plan(context.Background(), prof, "")
	require.NoError(t, err)
	require.Len(t, plan.Topics, 3)
	require.Equal(t, "go-basics", plan.Topics[0].Slug)
}

func TestPlanner_SubjectArgumentOverridesProfile(t *testing.T) {
	plan, err := NewPlanner(&CatalogDecomposer{}).Plan(context.Background(), profile(domain.LevelBeginner, "Go"), "SQL")
	require.NoError(t, err)
	require.Equal(t, "SQL", plan.Subject)
	require.Equal(t, "relational-model", plan.Topics[0].Slug)
}

func TestPlanner_KeepsPrerequisiteClosure(t *testing.T) {
	d := staticDecomposer{topics: []Candidate{
		{Name: "Hard Thing", Difficulty: 5},
		{Name: "Easy Thing", Difficulty: 1, Prerequisites: []string{"Hard Thing"}},
		{Name: "Other Hard", Difficulty: 5},
	}}
	plan, err := NewPlanner(d).Plan(context.Background(), profile(domain.LevelBeginner, "x"), "")
	require.NoError(t, err)
	require.Equal(t, []string{"hard-thing", "easy-thing"}, slugs(plan.Topics))
}

func TestPlanner_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewPlanner(&CatalogDecomposer{}).Plan(ctx, &domain.LearnerProfile{Subject: "Go"}, "")
	require.ErrorIs(t, err, domain.ErrInvalidProfile)

	_, err = NewPlanner(&CatalogDecomposer{}).Plan(ctx, profile(domain.LevelBeginner, "Underwater Basketry"), "")
	require.ErrorIs(t, err, domain.ErrPlanningFailed)

	_, err = NewPlanner(staticDecomposer{err: errors.New("upstream down")}).Plan(ctx, profile(domain.LevelBeginner, "x"), "")
	require.ErrorIs(t, err, domain.ErrPlanningFailed)

	_, err = NewPlanner(staticDecomposer{topics: []Candidate{{Name: "A", Prerequisites: []string{"Missing"}}}}).
		Plan(ctx, profile(domain.LevelBeginner, "x"), "")
	require.ErrorIs(t, err, domain.ErrPlanningFailed)
}

func TestPlanner_GenericFallback(t *testing.T) {
	d := &CatalogDecomposer{AllowGeneric: true}
	plan, err := NewPlanner(d).Plan(context.Background(), profile(domain.LevelAdvanced, "Underwater Basketry"), "")
	require.NoError(t, err)
	require.Len(t, plan.Topics, 5)
	require.Equal(t, "introduction-to-underwater-basketry", plan.Topics[0].Slug)
	require.Equal(t, []string{"introduction-to-underwater-basketry"}, plan.Topics[1].Prerequisites)
}

func TestPlanner_CatalogPlansAreTopologicallyValid(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	p := NewPlanner(&CatalogDecomposer{Catalog: cat})
	levels := []domain.ExperienceLevel{domain.LevelBeginner, domain.LevelIntermediate, domain.LevelAdvanced}
	for _, s := range cat.Subjects {
		for _, level := range levels {
			plan, err := p.Plan(context.Background(), profile(level, s.Name), "")
			require.NoError(t, err, "%s/%s", s.Name, level)
			require.NoError(t, plan.Validate(), "%s/%s", s.Name, level)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Object-Oriented Programming": "object-oriented-programming",
		"C++ Basics":                  "cplusplus-basics",
		"  Joins & Unions!  ":         "joins-unions",
		"???":                         "topic",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), in)
	}
}

type fakeLLM struct {
	text string
	err  error
	last llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.text, f.err
}

func TestGenAIDecomposer(t *testing.T) {
	f := &fakeLLM{text: "```json\n[{\"name\":\"Basics\",\"difficulty\":1},{\"name\":\"Next\",\"difficulty\":2,\"prerequisites\":[\"Basics\"]}]\n```"}
	plan, err := NewPlanner(&GenAIDecomposer{LLM: f}).Plan(context.Background(), profile(domain.LevelIntermediate, "Rust"), "")
	require.NoError(t, err)
	require.Equal(t, []string{"basics", "next"}, slugs(plan.Topics))
	require.True(t, f.last.JSON)
	require.Contains(t, f.last.Prompt, "Rust")

	f.text = "not json"
	_, err = NewPlanner(&GenAIDecomposer{LLM: f}).Plan(context.Background(), profile(domain.LevelIntermediate, "Rust"), "")
	require.ErrorIs(t, err, domain.ErrPlanningFailed)
}

func TestDefaultCatalogParses(t *testing.T) {
	cat, err := ParseCatalog(defaultCatalog)
	require.NoError(t, err)
	require.NotEmpty(t, cat.Subjects)
	require.Len(t, cat.Generic, 5)
	require.Equal(t, []string{"Introduction to {subject}"}, cat.Generic[1].Prerequisites)

	loaded, err := LoadCatalog("")
	require.NoError(t, err)
	if len(loaded.Subjects) != len(cat.Subjects) {
		t.Errorf("Expected %d subjects from LoadCatalog, got %d", len(cat.Subjects), len(loaded.Subjects))
	}
}

func TestParseCatalog_RejectsUnknownPrerequisite(t *testing.T) {
	_, err := ParseCatalog([]byte(`
subjects:
  - name: Rust
    topics:
      - name: Ownership
        prerequisites: [Borrowing]
`))
	require.ErrorContains(t, err, `needs unknown topic "Borrowing"`)
}

// flakyLLM fails with errs in order, then returns text.
type flakyLLM struct {
	errs  []error
	text  string
	calls int
}

func (f *flakyLLM) Generate(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.text, nil
}

func TestPlanner_RetriesTransientDecomposeErrors(t *testing.T) {
	topics := `[{"name":"Basics","difficulty":1},{"name":"Next","difficulty":2,"prerequisites":["Basics"]}]`
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("transient then success", func(t *testing.T) {
		f := &flakyLLM{errs: []error{context.DeadlineExceeded}, text: topics}
		p := NewPlanner(&GenAIDecomposer{LLM: f})
		p.Retry = policy
		plan, err := p.Plan(context.Background(), profile(domain.LevelIntermediate, "Python"), "")
		require.NoError(t, err)
		require.Equal(t, []string{"basics", "next"}, slugs(plan.Topics))
		if f.calls != 2 {
			t.Errorf("Expected 2 calls, got %d", f.calls)
		}
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		f := &flakyLLM{errs: []error{errors.New("invalid argument")}, text: topics}
		p := NewPlanner(&GenAIDecomposer{LLM: f})
		p.Retry = policy
		_, err := p.Plan(context.Background(), profile(domain.LevelIntermediate, "Python"), "")
		require.ErrorIs(t, err, domain.ErrPlanningFailed)
		if f.calls != 1 {
			t.Errorf("Expected 1 call, got %d", f.calls)
		}
	})

	t.Run("exhausted keeps the cause", func(t *testing.T) {
		f := &flakyLLM{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}}
		p := NewPlanner(&GenAIDecomposer{LLM: f})
		p.Retry = policy
		_, err := p.Plan(context.Background(), profile(domain.LevelIntermediate, "Python"), "")
		require.ErrorIs(t, err, domain.ErrPlanningFailed)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		if !llm.IsTransient(err) {
			t.Errorf("Expected wrapped cause to stay transient, got %v", err)
		}
		if f.calls != 3 {
			t.Errorf("Expected 3 calls, got %d", f.calls)
		}
	})
}
