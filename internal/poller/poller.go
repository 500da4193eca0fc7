// Package poller waits for a generation job to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// Reader fetches the current state of a job.
type Reader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Policy bounds a polling loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	// Multiplier grows the interval after each read. Values below 1 keep it fixed.
	Multiplier  float64
	MaxInterval time.Duration
}

// DefaultPolicy polls every 2s, 30 times.
func DefaultPolicy() Policy {
	return Policy{Interval: 2 * time.Second, MaxAttempts: 30, Multiplier: 1}
}

// Outcome is why a Poll returned.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeComplete
	OutcomeFailed
	OutcomeNotFound
	OutcomeExhausted
	OutcomeCanceled
	// OutcomeError means a read failed with a non-transient error.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Poller reads a job until it is terminal or the policy runs out.
type Poller struct {
	Reader Reader
	Policy Policy
	// OnUpdate, if set, is called with every successfully read job.
	OnUpdate func(*domain.Job)
	// Transient decides which read errors are retried. Defaults to Transient.
	Transient func(error) bool
}

// New creates a poller with DefaultPolicy.
func New(r Reader) *Poller {
	return &Poller{Reader: r, Policy: DefaultPolicy()}
}

// Transient treats every error except missing, forbidden and invalid requests
// as worth another read.
func Transient(err error) bool {
	return !errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, domain.ErrForbidden) &&
		!errors.Is(err, domain.ErrInvalidInput)
}

// Poll reads jobID until it completes, fails, disappears or the attempt budget
// is spent. It returns the last job read, if any. The error is non-nil only
// for OutcomeCanceled and OutcomeError.
func (p *Poller) Poll(ctx context.Context, jobID string) (Outcome, *domain.Job, error) {
	policy := p.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	transient := p.Transient
	if transient == nil {
		transient = Transient
	}

	interval := policy.Interval
	var last *domain.Job
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OutcomeCanceled, last, err
		}

		job, err := p.Reader.GetJob(ctx, jobID)
		switch {
		case err == nil:
			last = job
			if p.OnUpdate != nil {
				p.OnUpdate(job)
			}
			switch job.Status {
			case domain.JobComplete:
				return OutcomeComplete, job, nil
			case domain.JobError:
				return OutcomeFailed, job, nil
			}
		case errors.Is(err, domain.ErrNotFound):
			return OutcomeNotFound, last, nil
		case ctx.Err() != nil:
			return OutcomeCanceled, last, ctx.Err()
		case !transient(err):
			return OutcomeError, last, err
		default:
			slog.Warn("job status read failed, will retry", "job_id", jobID, "attempt", attempt, "error", err)
		}

		if attempt == policy.MaxAttempts {
			break
		}
		if err := wait(ctx, interval); err != nil {
			return OutcomeCanceled, last, err
		}
		interval = next(interval, policy)
	}
	return OutcomeExhausted, last, nil
}

func next(d time.Duration, p Policy) time.Duration {
	if p.Multiplier > 1 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
