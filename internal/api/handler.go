// Package api provides HTTP handlers for the notebook API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/studyforge/internal/assessment"
	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/events"
	"github.com/ashureev/studyforge/internal/storage"
	"github.com/ashureev/studyforge/internal/store"
)

const defaultMaxRequestBodySize = 1 << 20

// Planner builds curriculum plans.
type Planner interface {
	Plan(ctx context.Context, profile *domain.LearnerProfile, subject string) (*domain.CurriculumPlan, error)
}

// Runner starts generation jobs in the background.
type Runner interface {
	Start(ctx context.Context, jobID string) error
}

// Options tunes a Handler. Zero values fall back to defaults.
type Options struct {
	MaxRequestBodySize int64
	SSEKeepalive       time.Duration
	SSERetryDelay      time.Duration
	SignedURLTTL       time.Duration
	AllowedOrigin      string
	IsDev              bool
	RateLimiter        *RateLimiter
}

// Handler serves the notebook API.
type Handler struct {
	repo      store.Repository
	assessor  *assessment.Service
	planner   Planner
	runner    Runner
	notebooks *storage.Sink
	bus       events.Bus
	feeds     *FeedManager
	limiter   *RateLimiter
	opts      Options
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(repo store.Repository, assessor *assessment.Service, planner Planner, runner Runner,
	notebooks *storage.Sink, bus events.Bus, opts Options) *Handler {
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.SSEKeepalive <= 0 {
		opts.SSEKeepalive = 10 * time.Second
	}
	if opts.SSERetryDelay <= 0 {
		opts.SSERetryDelay = 5 * time.Second
	}
	if bus == nil {
		bus = events.NewHub()
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 15 * time.Minute
	}
	return &Handler{
		repo:      repo,
		assessor:  assessor,
		planner:   planner,
		runner:    runner,
		notebooks: notebooks,
		bus:       bus,
		feeds:     NewFeedManager(),
		limiter:   opts.RateLimiter,
		opts:      opts,
	}
}

// RegisterRoutes registers the notebook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/notebooks", func(r chi.Router) {
		r.With(h.rateLimit).Post("/assess/start", h.StartAssessment)
		r.With(h.rateLimit).Post("/assess/{sessionID}/message", h.SendAssessmentMessage)
		r.Get("/assess/{sessionID}/profile", h.GetAssessmentProfile)

		r.With(h.rateLimit).Post("/plan", h.CreatePlan)
		r.Get("/plan/{planID}", h.GetPlan)

		r.With(h.rateLimit).Post("/generate", h.Generate)
		r.Get("/", h.ListJobs)
		r.Get("/{jobID}", h.GetJob)
		r.Get("/{jobID}/config", h.GetJobConfig)
		r.Delete("/{jobID}", h.DeleteJob)
		r.Post("/{jobID}/start", h.StartJob)
		r.Get("/{jobID}/tree", h.Tree)
		r.Get("/{jobID}/files", h.Files)
		r.Get("/{jobID}/file", h.File)
		r.Get("/{jobID}/file/url", h.FileURL)
		r.Get("/{jobID}/events", h.Events)
	})
	r.Get("/ws/notebooks/{jobID}", h.Feed)
}

// Close disconnects live progress feeds.
func (h *Handler) Close() {
	h.feeds.CloseAll()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSessionAlreadyComplete):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidProfile), errors.Is(err, domain.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPlanningFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes it. Internal errors are logged
// and their detail is not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, http.StatusText(status))
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON reads a size-limited body into v, rejecting unknown fields.
// An empty body leaves v unchanged.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// checkOwner rejects a body owner_id that disagrees with the caller.
func checkOwner(caller, claimed string) error {
	if claimed != "" && claimed != caller {
		return fmt.Errorf("%w: owner_id does not match caller", domain.ErrForbidden)
	}
	return nil
}
