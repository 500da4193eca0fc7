package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ashureev/studyforge/internal/content"
	"github.com/ashureev/studyforge/internal/curriculum"
	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/events"
	"github.com/ashureev/studyforge/internal/retry"
	"github.com/ashureev/studyforge/internal/storage"
	"github.com/ashureev/studyforge/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedGenerator struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	panicOn string
	block   bool
}

func newGenerator() *scriptedGenerator {
	return &scriptedGenerator{calls: make(map[string]int), fail: make(map[string]error)}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req content.Request) (string, error) {
	g.mu.Lock()
	g.calls[req.Topic.Slug]++
	err := g.fail[req.Topic.Slug]
	block := g.block
	g.mu.Unlock()

	if req.Topic.Slug == g.panicOn {
		panic("generator exploded")
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return "# " + req.Topic.Name + "\n", nil
}

func (g *scriptedGenerator) Calls(slug string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[slug]
}

// progressRecorder wraps a store and records every persisted progress value.
type progressRecorder struct {
	*store.MemoryStore
	mu       sync.Mutex
	progress []int
}

func (r *progressRecorder) UpdateJob(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	job, err := r.MemoryStore.UpdateJob(ctx, id, fn)
	if err == nil {
		r.mu.Lock()
		r.progress = append(r.progress, job.Progress)
		r.mu.Unlock()
	}
	return job, err
}

type fixture struct {
	repo *progressRecorder
	sink *storage.Sink
	gen  *scriptedGenerator
	hub  *events.Hub
	orch *Orchestrator
}

func threeTopicPlan() *domain.CurriculumPlan {
	return &domain.CurriculumPlan{
		ID:      "plan-a",
		OwnerID: "u1",
		Subject: "Python",
		Profile: domain.LearnerProfile{Subject: "Python", ExperienceLevel: domain.LevelBeginner, Goals: "basics"},
		Topics: []domain.Topic{
			{Name: "Intro", Slug: "intro", Difficulty: 1},
			{Name: "Variables", Slug: "variables", Difficulty: 1, Prerequisites: []string{"intro"}},
			{Name: "Functions", Slug: "functions", Difficulty: 2, Prerequisites: []string{"variables"}},
		},
	}
}

func newFixture(t *testing.T, runCtx context.Context) *fixture {
	t.Helper()
	repo := &progressRecorder{MemoryStore: store.NewMemory()}
	objects, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	f := &fixture{
		repo: repo,
		sink: storage.NewSink(objects, repo),
		gen:  newGenerator(),
		hub:  events.NewHub(),
	}
	f.orch = New(runCtx, Config{
		Store:      repo,
		Planner:    curriculum.NewPlanner(&curriculum.CatalogDecomposer{}),
		Generator:  f.gen,
		Sink:       f.sink,
		Bus:        f.hub,
		Generation: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, AttemptTimeout: time.Second},
	})

	ctx := context.Background()
	if err := repo.SavePlan(ctx, threeTopicPlan()); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if err := repo.CreateJob(ctx, &domain.Job{
		ID: "job-1", OwnerID: "u1", PlanID: "plan-a", Status: domain.JobPending, Options: domain.DefaultJobOptions(),
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return f
}

func (f *fixture) job(t *testing.T) *domain.Job {
	t.Helper()
	j, err := f.repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestRun_CompletesAllTopics(t *testing.T) {
	f := newFixture(t, context.Background())
	if err := f.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job := f.job(t)
	if job.Status != domain.JobComplete || job.Progress != 100 {
		t.Fatalf("Expected complete at 100, got %s at %d", job.Status, job.Progress)
	}
	want := []string{
		"u1/notebooks/job-1/sections/00_intro",
		"u1/notebooks/job-1/sections/01_variables",
		"u1/notebooks/job-1/sections/02_functions",
	}
	if len(job.Artifacts) != len(want) {
		t.Fatalf("Expected %d artifacts, got %d", len(want), len(job.Artifacts))
	}
	for i, a := range job.Artifacts {
		if a.Path != want[i] || a.Ordinal != i {
			t.Errorf("Artifact %d: got %s (ordinal %d), want %s", i, a.Path, a.Ordinal, want[i])
		}
	}

	readme, err := f.sink.Read(context.Background(), "u1", "job-1", "README.md")
	if err != nil {
		t.Fatalf("README missing: %v", err)
	}
	if !strings.Contains(string(readme), "[Variables](sections/01_variables)") {
		t.Errorf("README missing contents link: %s", readme)
	}
	if _, err := f.sink.Read(context.Background(), "u1", "job-1", "PROGRESS.md"); err != nil {
		t.Errorf("PROGRESS.md missing: %v", err)
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, context.Background())
	if err := f.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	for i := 1; i < len(f.repo.progress); i++ {
		if f.repo.progress[i] < f.repo.progress[i-1] {
			t.Fatalf("Progress decreased: %v", f.repo.progress)
		}
	}
	for _, want := range []int{10, 38, 66, 95, 100} {
		found := false
		for _, p := range f.repo.progress {
			if p == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected progress %d in %v", want, f.repo.progress)
		}
	}
}

func TestRun_TopicFailureFreezesJob(t *testing.T) {
	f := newFixture(t, context.Background())
	f.gen.fail["variables"] = &content.Error{Topic: "variables", Retryable: true, Err: errors.New("model unavailable")}

	err := f.orch.Run(context.Background(), "job-1")
	if err == nil || !strings.Contains(err.Error(), `topic "variables"`) {
		t.Fatalf("Expected topic failure, got %v", err)
	}

	job := f.job(t)
	if job.Status != domain.JobError {
		t.Fatalf("Expected error status, got %s", job.Status)
	}
	if len(job.Artifacts) != 1 || job.Artifacts[0].TopicSlug != "intro" {
		t.Errorf("Expected only the intro artifact, got %+v", job.Artifacts)
	}
	if job.Progress != domain.TopicProgress(1, 3) {
		t.Errorf("Expected progress frozen at %d, got %d", domain.TopicProgress(1, 3), job.Progress)
	}
	if !strings.Contains(job.Error, `topic "variables"`) {
		t.Errorf("Expected cause to name the topic, got %q", job.Error)
	}
	if got := f.gen.Calls("variables"); got != 2 {
		t.Errorf("Expected 2 attempts for variables, got %d", got)
	}
	if got := f.gen.Calls("functions"); got != 0 {
		t.Errorf("Expected no attempts for functions, got %d", got)
	}

	// The stored artifact stays readable.
	if _, err := f.sink.Read(context.Background(), "u1", "job-1", "sections/00_intro"); err != nil {
		t.Errorf("Expected intro artifact to remain: %v", err)
	}
}

func TestRun_PermanentErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, context.Background())
	f.gen.fail["intro"] = &content.Error{Topic: "intro", Retryable: false, Err: errors.New("rejected")}

	if err := f.orch.Run(context.Background(), "job-1"); err == nil {
		t.Fatal("Expected failure")
	}
	if got := f.gen.Calls("intro"); got != 1 {
		t.Errorf("Expected exactly one attempt, got %d", got)
	}
	if job := f.job(t); job.Progress != 10 || job.Status != domain.JobError {
		t.Errorf("Expected error at 10, got %s at %d", job.Status, job.Progress)
	}
}

func TestStart_ConcurrentStartHasOneWinner(t *testing.T) {
	f := newFixture(t, context.Background())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.orch.Start(context.Background(), "job-1")
		}(i)
	}
	wg.Wait()
	f.orch.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("Expected one success and one conflict, got %d/%d", ok, conflicts)
	}
	if job := f.job(t); job.Status != domain.JobComplete {
		t.Errorf("Expected complete, got %s", job.Status)
	}
}

func TestRun_TerminalJobCannotRestart(t *testing.T) {
	f := newFixture(t, context.Background())
	if err := f.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	err := f.orch.Run(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if job := f.job(t); job.Status != domain.JobComplete {
		t.Errorf("Expected job to stay complete, got %s", job.Status)
	}
}

func TestRun_InlineProfileIsPlanned(t *testing.T) {
	f := newFixture(t, context.Background())
	ctx := context.Background()
	if err := f.repo.CreateJob(ctx, &domain.Job{
		ID: "job-2", OwnerID: "u1", Subject: "Go", Status: domain.JobPending,
		Profile: &domain.LearnerProfile{Subject: "Go", ExperienceLevel: domain.LevelBeginner, Goals: "tools"},
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := f.orch.Run(ctx, "job-2"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	job, _ := f.repo.GetJob(ctx, "job-2")
	if job.PlanID == "" || len(job.Artifacts) != 4 {
		t.Errorf("Expected planned job with 4 artifacts, got plan %q and %d artifacts", job.PlanID, len(job.Artifacts))
	}
	if _, err := f.repo.GetPlan(ctx, job.PlanID); err != nil {
		t.Errorf("Expected generated plan to be saved: %v", err)
	}
}

func TestRun_PlanningFailureExposesNoPlan(t *testing.T) {
	f := newFixture(t, context.Background())
	ctx := context.Background()
	if err := f.repo.CreateJob(ctx, &domain.Job{
		ID: "job-3", OwnerID: "u1", Status: domain.JobPending,
		Profile: &domain.LearnerProfile{Subject: "Underwater Basketry", ExperienceLevel: domain.LevelBeginner, Goals: "x"},
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	err := f.orch.Run(ctx, "job-3")
	if !errors.Is(err, domain.ErrPlanningFailed) {
		t.Fatalf("Expected ErrPlanningFailed, got %v", err)
	}
	job, _ := f.repo.GetJob(ctx, "job-3")
	if job.Status != domain.JobError || job.PlanID != "" || job.Progress != 0 {
		t.Errorf("Unexpected job after planning failure: %+v", job)
	}
}

func TestStart_ShutdownFailsInFlightJob(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, runCtx)
	f.gen.block = true

	if err := f.orch.Start(context.Background(), "job-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for f.gen.Calls("intro") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	f.orch.Wait()

	job := f.job(t)
	if job.Status != domain.JobError {
		t.Errorf("Expected error after shutdown, got %s", job.Status)
	}
}

func TestRun_PanicBecomesJobError(t *testing.T) {
	f := newFixture(t, context.Background())
	f.gen.panicOn = "variables"

	err := f.orch.Run(context.Background(), "job-1")
	if err == nil || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("Expected internal error, got %v", err)
	}
	if job := f.job(t); job.Status != domain.JobError || len(job.Artifacts) != 1 {
		t.Errorf("Unexpected job after panic: %s with %d artifacts", job.Status, len(job.Artifacts))
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	f := newFixture(t, context.Background())
	ch, cancel := f.hub.Subscribe("job-1")
	defer cancel()

	if err := f.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var last events.JobEvent
	n := 0
	for len(ch) > 0 {
		last = <-ch
		n++
	}
	if n == 0 || last.Status != domain.JobComplete || last.Progress != 100 || last.Artifacts != 3 {
		t.Errorf("Unexpected final event after %d events: %+v", n, last)
	}
}
