// Package events fans job progress out to live subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// JobEvent is a snapshot of a job after a mutation.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	OwnerID     string           `json:"owner_id"`
	Status      domain.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"current_step"`
	Artifacts   int              `json:"artifacts"`
	Error       string           `json:"error,omitempty"`
	At          time.Time        `json:"at"`
}

// FromJob builds an event from a job snapshot.
func FromJob(j *domain.Job) JobEvent {
	return JobEvent{
		JobID:       j.ID,
		OwnerID:     j.OwnerID,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Artifacts:   len(j.Artifacts),
		Error:       j.Error,
		At:          j.UpdatedAt,
	}
}

// Bus publishes job events and lets readers follow a single job.
type Bus interface {
	Publish(ctx context.Context, ev JobEvent) error
	// Subscribe returns a channel of events for jobID and a func that ends the
	// subscription and closes the channel.
	Subscribe(jobID string) (<-chan JobEvent, func())
	Close() error
}

const subscriberBuffer = 16

// Hub is an in-process Bus.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan JobEvent]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan JobEvent]struct{})}
}

// Publish delivers ev to local subscribers of ev.JobID. Slow subscribers lose
// their oldest buffered event rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, ev JobEvent) error {
	h.deliver(ev)
	return nil
}

func (h *Hub) deliver(ev JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe follows jobID.
func (h *Hub) Subscribe(jobID string) (<-chan JobEvent, func()) {
	ch := make(chan JobEvent, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[chan JobEvent]struct{})
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[jobID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
		})
	}
}

// Subscribers returns the number of live subscriptions for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for jobID, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, jobID)
	}
	return nil
}
