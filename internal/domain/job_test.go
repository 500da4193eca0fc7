package domain

import (
	"errors"
	"testing"
)

func claimedJob(t *testing.T) *Job {
	t.Helper()
	j := &Job{ID: "job-1", OwnerID: "u1", Status: JobPending}
	if err := j.Claim("tok"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return j
}

func TestJob_ClaimOnlyFromPending(t *testing.T) {
	j := claimedJob(t)
	if j.Status != JobPlanning {
		t.Fatalf("Expected planning, got %s", j.Status)
	}

	err := j.Claim("other")
	if !errors.Is(err, ErrJobActive) || !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrJobActive wrapping ErrConflict, got %v", err)
	}
	if j.WriterToken != "tok" {
		t.Errorf("Expected writer token to be unchanged, got %q", j.WriterToken)
	}

	done := &Job{Status: JobComplete}
	if err := done.Claim("x"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for terminal job, got %v", err)
	}
}

func TestJob_SetProgressIsMonotonic(t *testing.T) {
	j := &Job{}
	for _, p := range []int{10, 52, 30, 95, 120} {
		before := j.Progress
		j.SetProgress(p)
		if j.Progress < before {
			t.Fatalf("Progress decreased from %d to %d", before, j.Progress)
		}
	}
	if j.Progress != 100 {
		t.Errorf("Expected progress clamped to 100, got %d", j.Progress)
	}
}

func TestTopicProgress(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{0, 2, 10},
		{1, 2, 52},
		{0, 3, 10},
		{1, 3, 38},
		{2, 3, 66},
		{0, 0, 10},
	}
	for _, c := range cases {
		if got := TopicProgress(c.i, c.n); got != c.want {
			t.Errorf("TopicProgress(%d, %d) = %d, want %d", c.i, c.n, got, c.want)
		}
	}
}

func TestJob_StaleWriterIsFenced(t *testing.T) {
	j := claimedJob(t)
	if err := j.Step("stale", "x", 50); !errors.Is(err, ErrFenced) {
		t.Errorf("Expected ErrFenced, got %v", err)
	}
	if j.Progress != 0 {
		t.Errorf("Expected progress untouched, got %d", j.Progress)
	}
}

func TestJob_TerminalStateIsExclusive(t *testing.T) {
	j := claimedJob(t)
	if err := j.BeginGenerating("tok", "plan-1"); err != nil {
		t.Fatalf("BeginGenerating failed: %v", err)
	}
	if err := j.Complete("tok"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := j.Fail("tok", errors.New("late")); !errors.Is(err, ErrFenced) {
		t.Errorf("Expected ErrFenced failing a complete job, got %v", err)
	}
	if err := j.AppendArtifact("tok", Artifact{TopicSlug: "a"}); !errors.Is(err, ErrFenced) {
		t.Errorf("Expected ErrFenced appending to a complete job, got %v", err)
	}
	if j.Status != JobComplete || j.Progress != 100 || j.Error != "" {
		t.Errorf("Unexpected terminal job state: %+v", j)
	}
}

func TestJob_AppendArtifactOrderAndDedup(t *testing.T) {
	j := claimedJob(t)
	_ = j.BeginGenerating("tok", "")

	if err := j.AppendArtifact("tok", Artifact{TopicSlug: "a", Ordinal: 0, Hash: "h1"}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := j.AppendArtifact("tok", Artifact{TopicSlug: "c", Ordinal: 2}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected out-of-order append to fail, got %v", err)
	}
	if err := j.AppendArtifact("tok", Artifact{TopicSlug: "a", Ordinal: 0, Hash: "h2"}); err != nil {
		t.Fatalf("re-append a: %v", err)
	}
	if len(j.Artifacts) != 1 || j.Artifacts[0].Hash != "h2" {
		t.Errorf("Expected single replaced artifact, got %+v", j.Artifacts)
	}
}

func TestJob_FailKeepsProgress(t *testing.T) {
	j := claimedJob(t)
	_ = j.BeginGenerating("tok", "")
	_ = j.Step("tok", "Generating 2/2: b", 52)
	if err := j.Fail("tok", errors.New(`topic "b": boom`)); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if j.Status != JobError || j.Progress != 52 {
		t.Errorf("Expected error at 52, got %s at %d", j.Status, j.Progress)
	}
}
