// Package orchestrator runs notebook generation jobs: planning, per-topic
// content generation, storage and progress tracking.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/studyforge/internal/content"
	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/events"
	"github.com/ashureev/studyforge/internal/retry"
	"github.com/ashureev/studyforge/internal/storage"
)

// Store is the part of the job store the orchestrator uses.
type Store interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error)
	GetPlan(ctx context.Context, id string) (*domain.CurriculumPlan, error)
	SavePlan(ctx context.Context, plan *domain.CurriculumPlan) error
}

// Planner builds a curriculum for jobs created with an inline profile.
type Planner interface {
	Plan(ctx context.Context, profile *domain.LearnerProfile, subject string) (*domain.CurriculumPlan, error)
}

// Sink persists generated content.
type Sink interface {
	Put(ctx context.Context, req storage.PutRequest) (domain.Artifact, error)
	PutFile(ctx context.Context, req storage.FileRequest) (string, error)
}

// Config wires an Orchestrator.
type Config struct {
	Store     Store
	Planner   Planner
	Generator content.Generator
	Sink      Sink
	// Bus receives a JobEvent after every job mutation. Optional.
	Bus events.Bus
	// Generation governs per-topic content generation attempts.
	Generation retry.Policy
	// Storage governs sink writes. Zero value means a single attempt.
	Storage retry.Policy
}

// Orchestrator drives jobs through pending → planning → generating → complete.
// Each job runs sequentially on one goroutine; the store's atomic claim
// guarantees at most one orchestrator per job.
type Orchestrator struct {
	cfg Config

	// runCtx bounds background runs. Cancelling it fails in-flight jobs.
	runCtx context.Context
	wg     sync.WaitGroup
}

// New creates an orchestrator. Background runs started with Start live until
// runCtx is cancelled.
func New(runCtx context.Context, cfg Config) *Orchestrator {
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation = retry.DefaultPolicy()
	}
	return &Orchestrator{cfg: cfg, runCtx: runCtx}
}

// Claim atomically moves a pending job to planning and returns its writer token.
// A job that is already running returns domain.ErrJobActive; a finished job
// returns domain.ErrConflict.
func (o *Orchestrator) Claim(ctx context.Context, jobID string) (string, error) {
	token := uuid.NewString()
	job, err := o.cfg.Store.UpdateJob(ctx, jobID, func(j *domain.Job) error {
		return j.Claim(token)
	})
	if err != nil {
		return "", err
	}
	o.publish(ctx, job)
	return token, nil
}

// Start claims jobID and runs it on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	token, err := o.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.execute(o.runCtx, jobID, token)
	}()
	return nil
}

// Run claims jobID and runs it to completion on the calling goroutine. It
// returns nil when the job completes and the failure cause otherwise.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	token, err := o.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	return o.execute(ctx, jobID, token)
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, jobID, token string) (err error) {
	start := time.Now()
	log := slog.With("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job run panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
			o.fail(ctx, jobID, token, err)
		}
	}()

	job, err := o.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		o.fail(ctx, jobID, token, fmt.Errorf("load job: %w", err))
		return err
	}

	plan, err := o.plan(ctx, job)
	if err != nil {
		err = fmt.Errorf("planning: %w", err)
		o.fail(ctx, jobID, token, err)
		return err
	}

	if _, err := o.update(ctx, jobID, func(j *domain.Job) error {
		if j.Subject == "" {
			j.Subject = plan.Subject
		}
		return j.BeginGenerating(token, plan.ID)
	}); err != nil {
		return o.lost(ctx, jobID, token, err)
	}
	log.Info("job planned", "plan_id", plan.ID, "topics", len(plan.Topics))

	n := len(plan.Topics)
	for i, topic := range plan.Topics {
		label := fmt.Sprintf("Generating %d/%d: %s", i+1, n, topic.Name)
		if _, err := o.update(ctx, jobID, func(j *domain.Job) error {
			return j.Step(token, label, domain.TopicProgress(i, n))
		}); err != nil {
			return o.lost(ctx, jobID, token, err)
		}

		artifact, err := o.generateTopic(ctx, job, plan, i, token)
		if err != nil {
			if errors.Is(err, domain.ErrFenced) {
				return o.lost(ctx, jobID, token, err)
			}
			err = fmt.Errorf("topic %q: %w", topic.Slug, err)
			o.fail(ctx, jobID, token, err)
			return err
		}

		if _, err := o.update(ctx, jobID, func(j *domain.Job) error {
			return j.AppendArtifact(token, artifact)
		}); err != nil {
			if errors.Is(err, domain.ErrFenced) {
				return o.lost(ctx, jobID, token, err)
			}
			err = fmt.Errorf("topic %q: record artifact: %w", topic.Slug, err)
			o.fail(ctx, jobID, token, err)
			return err
		}
		log.Info("topic stored", "topic", topic.Slug, "index", i+1, "of", n, "path", artifact.Path)
	}

	if _, err := o.update(ctx, jobID, func(j *domain.Job) error {
		return j.Step(token, "Finalizing", domain.ProgressFinalizing)
	}); err != nil {
		return o.lost(ctx, jobID, token, err)
	}
	if err := o.finalize(ctx, job, plan, token); err != nil {
		if errors.Is(err, domain.ErrFenced) {
			return o.lost(ctx, jobID, token, err)
		}
		err = fmt.Errorf("finalize: %w", err)
		o.fail(ctx, jobID, token, err)
		return err
	}

	if _, err := o.update(ctx, jobID, func(j *domain.Job) error {
		return j.Complete(token)
	}); err != nil {
		return o.lost(ctx, jobID, token, err)
	}
	log.Info("job complete", "topics", n, "duration", time.Since(start))
	return nil
}

// plan loads the job's plan, or builds one from its inline profile.
func (o *Orchestrator) plan(ctx context.Context, job *domain.Job) (*domain.CurriculumPlan, error) {
	var (
		plan *domain.CurriculumPlan
		err  error
	)
	switch {
	case job.PlanID != "":
		plan, err = o.cfg.Store.GetPlan(ctx, job.PlanID)
		if err != nil {
			return nil, err
		}
	case job.Profile != nil && o.cfg.Planner != nil:
		plan, err = o.cfg.Planner.Plan(ctx, job.Profile, job.Subject)
		if err != nil {
			return nil, err
		}
		plan.OwnerID = job.OwnerID
		if err := o.cfg.Store.SavePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("save plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: job has neither a plan nor a profile", domain.ErrInvalidInput)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (o *Orchestrator) generateTopic(ctx context.Context, job *domain.Job, plan *domain.CurriculumPlan, i int, token string) (domain.Artifact, error) {
	topic := plan.Topics[i]
	req := content.Request{
		Subject: plan.Subject,
		Topic:   topic,
		Profile: plan.Profile,
		Index:   i,
		Total:   len(plan.Topics),
	}
	if i > 0 {
		req.Previous = plan.Topics[i-1].Name
	}
	if i+1 < len(plan.Topics) {
		req.Next = plan.Topics[i+1].Name
	}

	var text string
	err := o.cfg.Generation.Do(ctx, "generate "+topic.Slug, content.IsRetryable, func(actx context.Context) error {
		out, err := o.cfg.Generator.Generate(actx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return domain.Artifact{}, err
	}

	var artifact domain.Artifact
	err = o.cfg.Storage.Do(ctx, "store "+topic.Slug, storageRetryable, func(actx context.Context) error {
		a, err := o.cfg.Sink.Put(actx, storage.PutRequest{
			JobID:       job.ID,
			OwnerID:     job.OwnerID,
			WriterToken: token,
			Ordinal:     i,
			TopicSlug:   topic.Slug,
			Content:     []byte(text),
		})
		if err != nil {
			return err
		}
		artifact = a
		return nil
	})
	return artifact, err
}

// storageRetryable treats consistency and input errors as permanent.
func storageRetryable(err error) bool {
	return !errors.Is(err, domain.ErrConflict) &&
		!errors.Is(err, domain.ErrInvalidInput) &&
		!errors.Is(err, domain.ErrForbidden) &&
		!errors.Is(err, domain.ErrNotFound)
}

func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, plan *domain.CurriculumPlan, token string) error {
	current, err := o.cfg.Store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	files := map[string][]byte{
		"README.md": RenderReadme(plan, current),
	}
	if current.Options.IncludeProgressTracking {
		files["PROGRESS.md"] = RenderProgress(plan)
	}
	for _, name := range []string{"README.md", "PROGRESS.md"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		if _, err := o.cfg.Sink.PutFile(ctx, storage.FileRequest{
			JobID:       job.ID,
			OwnerID:     job.OwnerID,
			WriterToken: token,
			Name:        name,
			Content:     data,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) update(ctx context.Context, jobID string, fn func(*domain.Job) error) (*domain.Job, error) {
	job, err := o.cfg.Store.UpdateJob(ctx, jobID, fn)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, job)
	return job, nil
}

// fail records cause on the job. It writes with a context detached from
// cancellation so shutdown still leaves the job in error.
func (o *Orchestrator) fail(ctx context.Context, jobID, token string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctx.Err() != nil && !errors.Is(cause, ctx.Err()) {
		cause = fmt.Errorf("%w (interrupted: %v)", cause, ctx.Err())
	}
	if _, err := o.update(wctx, jobID, func(j *domain.Job) error {
		return j.Fail(token, cause)
	}); err != nil {
		slog.Warn("failed to record job failure", "job_id", jobID, "cause", cause, "error", err)
		return
	}
	slog.Error("job failed", "job_id", jobID, "error", cause)
}

// lost handles an update that was rejected. A fenced write means another
// writer or a terminal state owns the job now, so this run stops quietly.
func (o *Orchestrator) lost(ctx context.Context, jobID, token string, err error) error {
	if errors.Is(err, domain.ErrFenced) {
		slog.Warn("job run fenced off, stopping", "job_id", jobID, "error", err)
		return err
	}
	o.fail(ctx, jobID, token, err)
	return err
}

func (o *Orchestrator) publish(ctx context.Context, job *domain.Job) {
	if o.cfg.Bus == nil || job == nil {
		return
	}
	if err := o.cfg.Bus.Publish(context.WithoutCancel(ctx), events.FromJob(job)); err != nil {
		slog.Warn("failed to publish job event", "job_id", job.ID, "error", err)
	}
}
