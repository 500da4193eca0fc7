package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a notebook generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobPlanning   JobStatus = "planning"
	JobGenerating JobStatus = "generating"
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobPlanning, JobGenerating, JobComplete, JobError:
		return true
	}
	return false
}

// Active reports whether an orchestrator currently owns the job.
func (s JobStatus) Active() bool { return s == JobPlanning || s == JobGenerating }

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool { return s == JobComplete || s == JobError }

// Progress milestones.
const (
	ProgressPlanned    = 10
	ProgressTopicSpan  = 85
	ProgressFinalizing = 95
	ProgressComplete   = 100
)

// TopicProgress is the progress value reported when topic i (zero-based) of n begins.
func TopicProgress(i, n int) int {
	if n <= 0 {
		return ProgressPlanned
	}
	return ProgressPlanned + ProgressTopicSpan*i/n
}

// JobOptions tune the descriptive files written at finalization.
type JobOptions struct {
	IncludeProgressTracking bool `json:"include_progress_tracking"`
	IncludeCrossReferences  bool `json:"include_cross_references"`
}

// DefaultJobOptions matches the request defaults of the generate endpoint.
func DefaultJobOptions() JobOptions {
	return JobOptions{IncludeProgressTracking: true, IncludeCrossReferences: true}
}

// Artifact is a stored piece of generated content for one topic.
type Artifact struct {
	TopicSlug string    `json:"topic_slug"`
	Ordinal   int       `json:"ordinal"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated"`
}

// Job is a notebook generation job. The job id doubles as the notebook id.
type Job struct {
	ID          string          `json:"job_id"`
	OwnerID     string          `json:"owner_id"`
	PlanID      string          `json:"plan_id,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Profile     *LearnerProfile `json:"profile,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	Artifacts   []Artifact      `json:"artifacts"`
	Error       string          `json:"error,omitempty"`
	Options     JobOptions      `json:"options"`
	WriterToken string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy. Store mutators always operate on a clone.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Artifacts = append([]Artifact(nil), j.Artifacts...)
	if j.Profile != nil {
		p := *j.Profile
		cp.Profile = &p
	}
	return &cp
}

// Claim moves a pending job to planning under a new writer token.
func (j *Job) Claim(token string) error {
	switch {
	case j.Status == JobPending:
	case j.Status.Active():
		return ErrJobActive
	default:
		return fmt.Errorf("%w: job is %s", ErrConflict, j.Status)
	}
	j.Status = JobPlanning
	j.WriterToken = token
	j.CurrentStep = "Planning curriculum"
	return nil
}

// CheckWriter rejects writes from anyone but the current, non-terminal writer.
func (j *Job) CheckWriter(token string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrFenced, j.Status)
	}
	if token == "" || token != j.WriterToken {
		return ErrFenced
	}
	return nil
}

// SetProgress raises progress to pct. Lower values are ignored.
func (j *Job) SetProgress(pct int) {
	if pct > ProgressComplete {
		pct = ProgressComplete
	}
	if pct > j.Progress {
		j.Progress = pct
	}
}

// BeginGenerating records a successful planning stage.
func (j *Job) BeginGenerating(token, planID string) error {
	if err := j.CheckWriter(token); err != nil {
		return err
	}
	if j.Status != JobPlanning {
		return fmt.Errorf("%w: cannot start generating from %s", ErrConflict, j.Status)
	}
	j.Status = JobGenerating
	if planID != "" {
		j.PlanID = planID
	}
	j.SetProgress(ProgressPlanned)
	j.CurrentStep = "Planned curriculum"
	return nil
}

// Step updates the step label and progress of the running job.
func (j *Job) Step(token, label string, pct int) error {
	if err := j.CheckWriter(token); err != nil {
		return err
	}
	j.CurrentStep = label
	j.SetProgress(pct)
	return nil
}

// AppendArtifact adds a to the job in plan order. Re-recording the same slug at
// the same ordinal replaces the entry instead of appending a duplicate.
func (j *Job) AppendArtifact(token string, a Artifact) error {
	if err := j.CheckWriter(token); err != nil {
		return err
	}
	for i, existing := range j.Artifacts {
		if existing.TopicSlug == a.TopicSlug {
			if existing.Ordinal != a.Ordinal {
				return fmt.Errorf("%w: topic %q already stored at ordinal %d", ErrConflict, a.TopicSlug, existing.Ordinal)
			}
			j.Artifacts[i] = a
			return nil
		}
	}
	if a.Ordinal != len(j.Artifacts) {
		return fmt.Errorf("%w: artifact ordinal %d out of order, expected %d", ErrConflict, a.Ordinal, len(j.Artifacts))
	}
	j.Artifacts = append(j.Artifacts, a)
	return nil
}

// Complete marks the job complete.
func (j *Job) Complete(token string) error {
	if err := j.CheckWriter(token); err != nil {
		return err
	}
	if j.Status != JobGenerating {
		return fmt.Errorf("%w: cannot complete from %s", ErrConflict, j.Status)
	}
	j.Status = JobComplete
	j.CurrentStep = "Complete"
	j.SetProgress(ProgressComplete)
	return nil
}

// Fail marks the job failed with cause. Progress is left where it was.
func (j *Job) Fail(token string, cause error) error {
	if err := j.CheckWriter(token); err != nil {
		return err
	}
	j.Status = JobError
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}
