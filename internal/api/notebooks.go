package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/identity"
	"github.com/ashureev/studyforge/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type createPlanRequest struct {
	Profile        *domain.LearnerProfile `json:"profile"`
	Subject        string                 `json:"subject"`
	Goals          string                 `json:"goals,omitempty"`
	TimeConstraint string                 `json:"time_constraint,omitempty"`
	// SessionID takes the profile from a completed assessment instead.
	SessionID string `json:"session_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
}

type createPlanResponse struct {
	PlanID string         `json:"plan_id"`
	Topics []domain.Topic `json:"topics"`
}

type generateRequest struct {
	PlanID  string                 `json:"plan_id,omitempty"`
	Profile *domain.LearnerProfile `json:"profile,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	OwnerID string                 `json:"owner_id,omitempty"`
	Options *domain.JobOptions     `json:"options,omitempty"`
}

type jobResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type artifactView struct {
	TopicSlug string    `json:"topic_slug"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Updated   time.Time `json:"updated"`
}

type jobView struct {
	JobID       string            `json:"job_id"`
	PlanID      string            `json:"plan_id,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Status      domain.JobStatus  `json:"status"`
	Progress    int               `json:"progress"`
	CurrentStep string            `json:"current_step"`
	Artifacts   []artifactView    `json:"artifacts"`
	Error       string            `json:"error,omitempty"`
	Options     domain.JobOptions `json:"options"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// jobConfigView is the generation input recorded on a job.
type jobConfigView struct {
	JobID   string                 `json:"job_id"`
	PlanID  string                 `json:"plan_id,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	Options domain.JobOptions      `json:"options"`
	Profile *domain.LearnerProfile `json:"profile,omitempty"`
}

func viewJob(j *domain.Job) jobView {
	v := jobView{
		JobID:       j.ID,
		PlanID:      j.PlanID,
		Subject:     j.Subject,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Artifacts:   make([]artifactView, 0, len(j.Artifacts)),
		Error:       j.Error,
		Options:     j.Options,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	for _, a := range j.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactView{TopicSlug: a.TopicSlug, Path: a.Path, Size: a.Size, Updated: a.UpdatedAt})
	}
	return v
}

// CreatePlan handles POST /api/notebooks/plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	var req createPlanRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(owner, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	profile := req.Profile
	if profile == nil && req.SessionID != "" {
		sess, err := h.assessor.Profile(r.Context(), req.SessionID, owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if sess.Profile == nil {
			writeError(w, r, fmt.Errorf("%w: assessment %s is not complete", domain.ErrInvalidProfile, sess.ID))
			return
		}
		profile = sess.Profile
	}
	if profile == nil {
		writeError(w, r, fmt.Errorf("%w: profile is required", domain.ErrInvalidProfile))
		return
	}
	prof := *profile
	if req.Goals != "" {
		prof.Goals = req.Goals
	}
	if req.TimeConstraint != "" {
		prof.TimeConstraint = req.TimeConstraint
	}

	plan, err := h.planner.Plan(r.Context(), &prof, req.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	plan.OwnerID = owner
	if err := h.repo.SavePlan(r.Context(), plan); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("curriculum plan created", "plan_id", plan.ID, "owner_id", owner, "subject", plan.Subject, "topics", len(plan.Topics))
	JSON(w, http.StatusCreated, createPlanResponse{PlanID: plan.ID, Topics: plan.Topics})
}

// GetPlan handles GET /api/notebooks/plan/{planID}.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.repo.GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plan.OwnerID != identity.UserIDFromContext(r.Context()) {
		writeError(w, r, fmt.Errorf("%w: plan belongs to another user", domain.ErrForbidden))
		return
	}
	JSON(w, http.StatusOK, plan)
}

// Generate handles POST /api/notebooks/generate. It creates a pending job and
// starts it in the background.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	var req generateRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(owner, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	job := &domain.Job{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Status:  domain.JobPending,
		Options: domain.DefaultJobOptions(),
	}
	if req.Options != nil {
		job.Options = *req.Options
	}
	switch {
	case req.PlanID != "":
		plan, err := h.repo.GetPlan(r.Context(), req.PlanID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if plan.OwnerID != owner {
			writeError(w, r, fmt.Errorf("%w: plan belongs to another user", domain.ErrForbidden))
			return
		}
		job.PlanID = plan.ID
		job.Subject = plan.Subject
	case req.Profile != nil:
		p := *req.Profile
		if req.Subject != "" {
			p.Subject = req.Subject
		}
		if err := p.Validate(); err != nil {
			writeError(w, r, err)
			return
		}
		job.Profile = &p
		job.Subject = p.Subject
	default:
		writeError(w, r, fmt.Errorf("%w: plan_id or profile is required", domain.ErrInvalidInput))
		return
	}

	if err := h.repo.CreateJob(r.Context(), job); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.runner.Start(r.Context(), job.ID); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("notebook generation started", "job_id", job.ID, "owner_id", owner, "plan_id", job.PlanID)
	JSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: domain.JobPlanning})
}

// StartJob handles POST /api/notebooks/{jobID}/start for a pending job.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if err := h.runner.Start(r.Context(), job.ID); err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: domain.JobPlanning})
}

// GetJob handles GET /api/notebooks/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, viewJob(job))
}

// GetJobConfig handles GET /api/notebooks/{jobID}/config.
func (h *Handler) GetJobConfig(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, jobConfigView{
		JobID:   job.ID,
		PlanID:  job.PlanID,
		Subject: job.Subject,
		Options: job.Options,
		Profile: job.Profile,
	})
}

// ListJobs handles GET /api/notebooks.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	q := r.URL.Query()

	filter := store.JobFilter{Subject: q.Get("subject"), Limit: defaultListLimit}
	if s := q.Get("status"); s != "" {
		status := domain.JobStatus(s)
		if !status.Valid() {
			writeError(w, r, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, s))
			return
		}
		filter.Status = status
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, r, err)
		return
	}

	jobs, total, err := h.repo.ListJobs(r.Context(), owner, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewJob(j))
	}
	JSON(w, http.StatusOK, map[string]any{
		"notebooks": views,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid number %q", domain.ErrInvalidInput, s)
	}
	if n == 0 && fallback > 0 {
		return fallback, nil
	}
	return n, nil
}

// DeleteJob handles DELETE /api/notebooks/{jobID}. Running jobs are refused.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteJob(r.Context(), job.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.feeds.CloseJob(job.ID)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()
	if err := h.notebooks.DeleteNotebook(cleanupCtx, job.OwnerID, job.ID); err != nil {
		slog.Warn("failed to delete notebook content", "job_id", job.ID, "error", err)
	}

	slog.Info("notebook deleted", "job_id", job.ID, "owner_id", job.OwnerID)
	JSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": "deleted"})
}

// Tree handles GET /api/notebooks/{jobID}/tree.
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	tree, err := h.notebooks.Tree(r.Context(), job.OwnerID, job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"tree": tree})
}

// Files handles GET /api/notebooks/{jobID}/files?prefix=.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	files, err := h.notebooks.Files(r.Context(), job.OwnerID, job.ID, r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"files": files})
}

// File handles GET /api/notebooks/{jobID}/file?path=.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	path, err := requiredPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := h.notebooks.Read(r.Context(), job.OwnerID, job.ID, path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"path": path, "content": string(data)})
}

// FileURL handles GET /api/notebooks/{jobID}/file/url?path=.
func (h *Handler) FileURL(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	path, err := requiredPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := h.notebooks.SignedURL(r.Context(), job.OwnerID, job.ID, path, h.opts.SignedURLTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"url": url, "expires_in": int(h.opts.SignedURLTTL.Seconds())})
}

func requiredPath(r *http.Request) (string, error) {
	p := strings.TrimSpace(r.URL.Query().Get("path"))
	if p == "" {
		return "", fmt.Errorf("%w: path is required", domain.ErrInvalidInput)
	}
	return p, nil
}

// ownedJob loads the job named in the URL and checks the caller owns it.
func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	job, err := h.repo.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if job.OwnerID != identity.UserIDFromContext(r.Context()) {
		writeError(w, r, fmt.Errorf("%w: notebook belongs to another user", domain.ErrForbidden))
		return nil, false
	}
	return job, true
}
