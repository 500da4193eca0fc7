// Package client is a Go client for the notebook HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/storage"
)

// APIError is a non-2xx response. It unwraps to the matching domain error so
// callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrInvalidInput
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusGone:
		return domain.ErrSessionExpired
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusUnprocessableEntity:
		return domain.ErrPlanningFailed
	}
	return nil
}

// Client talks to the notebook API as a single user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API at baseURL acting as userID.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AssessmentStart is the result of opening an assessment.
type AssessmentStart struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	InitialMessage string    `json:"initial_message"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// AssessmentReply is the assistant's answer to one message.
type AssessmentReply struct {
	SessionID       string                 `json:"session_id"`
	ReplyText       string                 `json:"reply_text"`
	ProfileComplete bool                   `json:"profile_complete"`
	Profile         *domain.LearnerProfile `json:"profile,omitempty"`
}

// AssessmentProfile is the current state of an assessment.
type AssessmentProfile struct {
	SessionID string                 `json:"session_id"`
	Profile   *domain.LearnerProfile `json:"profile"`
	Status    domain.SessionStatus   `json:"status"`
}

// PlanRequest asks for a curriculum plan from a profile or a finished assessment.
type PlanRequest struct {
	Profile        *domain.LearnerProfile `json:"profile,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	Subject        string                 `json:"subject,omitempty"`
	Goals          string                 `json:"goals,omitempty"`
	TimeConstraint string                 `json:"time_constraint,omitempty"`
}

// PlanResult is a newly created plan.
type PlanResult struct {
	PlanID string         `json:"plan_id"`
	Topics []domain.Topic `json:"topics"`
}

// JobConfig is the generation input recorded on a job.
type JobConfig struct {
	JobID   string                 `json:"job_id"`
	PlanID  string                 `json:"plan_id,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	Options domain.JobOptions      `json:"options"`
	Profile *domain.LearnerProfile `json:"profile,omitempty"`
}

// GenerateRequest starts a notebook from a saved plan or an inline profile.
type GenerateRequest struct {
	PlanID  string                 `json:"plan_id,omitempty"`
	Profile *domain.LearnerProfile `json:"profile,omitempty"`
	Subject string                 `json:"subject,omitempty"`
	Options *domain.JobOptions     `json:"options,omitempty"`
}

// ListOptions filters ListJobs.
type ListOptions struct {
	Status  domain.JobStatus
	Subject string
	Limit   int
	Offset  int
}

// StartAssessment opens an assessment session.
func (c *Client) StartAssessment(ctx context.Context, subject, goals string) (*AssessmentStart, error) {
	body := map[string]string{"subject": subject, "initial_goals": goals}
	var out AssessmentStart
	if err := c.do(ctx, http.MethodPost, "/api/notebooks/assess/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage sends one user message to an assessment.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*AssessmentReply, error) {
	var out AssessmentReply
	p := "/api/notebooks/assess/" + url.PathEscape(sessionID) + "/message"
	if err := c.do(ctx, http.MethodPost, p, map[string]string{"message": message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the state of an assessment.
func (c *Client) Profile(ctx context.Context, sessionID string) (*AssessmentProfile, error) {
	var out AssessmentProfile
	if err := c.do(ctx, http.MethodGet, "/api/notebooks/assess/"+url.PathEscape(sessionID)+"/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePlan builds and saves a curriculum plan.
func (c *Client) CreatePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	var out PlanResult
	if err := c.do(ctx, http.MethodPost, "/api/notebooks/plan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPlan fetches a saved plan.
func (c *Client) GetPlan(ctx context.Context, planID string) (*domain.CurriculumPlan, error) {
	var out domain.CurriculumPlan
	if err := c.do(ctx, http.MethodGet, "/api/notebooks/plan/"+url.PathEscape(planID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate creates a job and starts it. It returns the job id.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/notebooks/generate", req, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var out domain.Job
	if err := c.do(ctx, http.MethodGet, "/api/notebooks/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Config returns the plan, profile and options a job was created with.
func (c *Client) Config(ctx context.Context, jobID string) (*JobConfig, error) {
	var out JobConfig
	if err := c.do(ctx, http.MethodGet, "/api/notebooks/"+url.PathEscape(jobID)+"/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns one page of the caller's jobs and the total count.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) ([]*domain.Job, int, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Subject != "" {
		q.Set("subject", opts.Subject)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	p := "/api/notebooks/"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var out struct {
		Notebooks []*domain.Job `json:"notebooks"`
		Total     int           `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Notebooks, out.Total, nil
}

// DeleteJob removes a finished or pending job and its notebook.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/notebooks/"+url.PathEscape(jobID), nil, nil)
}

// Tree returns the folder/file listing of a notebook.
func (c *Client) Tree(ctx context.Context, jobID string) (*storage.Node, error) {
	var out struct {
		Tree *storage.Node `json:"tree"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notebooks/"+url.PathEscape(jobID)+"/tree", nil, &out); err != nil {
		return nil, err
	}
	return out.Tree, nil
}

// ReadFile returns the content of a notebook file.
func (c *Client) ReadFile(ctx context.Context, jobID, path string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	p := "/api/notebooks/" + url.PathEscape(jobID) + "/file?" + url.Values{"path": {path}}.Encode()
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// FileURL returns a time-limited download URL for a notebook file.
func (c *Client) FileURL(ctx context.Context, jobID, path string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	p := "/api/notebooks/" + url.PathEscape(jobID) + "/file/url?" + url.Values{"path": {path}}.Encode()
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
