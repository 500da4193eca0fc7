package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/poller"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrInvalidInput},
		{http.StatusForbidden, domain.ErrForbidden},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusGone, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrConflict},
		{http.StatusUnprocessableEntity, domain.ErrPlanningFailed},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tt.status, map[string]string{"error": "nope"})
		}))
		_, err := New(srv.URL, "u1").GetJob(context.Background(), "j1")
		srv.Close()

		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "nope" {
			t.Errorf("status %d: expected APIError with message, got %v", tt.status, err)
		}
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "u1").GetJob(context.Background(), "j1")
	require.Error(t, err)
	if !poller.Transient(err) {
		t.Errorf("Expected 502 to be transient, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Errorf("Expected plain-text message, got %v", err)
	}
}

func TestGetJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-User-ID"); got != "u1" {
			t.Errorf("Expected X-User-ID u1, got %q", got)
		}
		if r.URL.Path != "/api/notebooks/j1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":       "j1",
			"status":       "generating",
			"progress":     38,
			"current_step": "Generating Variables",
			"artifacts":    []map[string]any{{"topic_slug": "intro", "path": "u1/notebooks/j1/sections/00_intro", "size": 12}},
		})
	}))
	defer srv.Close()

	job, err := New(srv.URL+"/", "u1").GetJob(context.Background(), "j1")
	require.NoError(t, err)
	if job.ID != "j1" || job.Status != domain.JobGenerating || job.Progress != 38 {
		t.Errorf("Unexpected job: %+v", job)
	}
	if len(job.Artifacts) != 1 || job.Artifacts[0].TopicSlug != "intro" || job.Artifacts[0].Size != 12 {
		t.Errorf("Unexpected artifacts: %+v", job.Artifacts)
	}
}

func TestConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notebooks/j1/config" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":  "j1",
			"plan_id": "p1",
			"options": map[string]any{"include_progress_tracking": false, "include_cross_references": true},
		})
	}))
	defer srv.Close()

	cfg, err := New(srv.URL, "u1").Config(context.Background(), "j1")
	require.NoError(t, err)
	want := domain.JobOptions{IncludeCrossReferences: true}
	if cfg.PlanID != "p1" || cfg.Options != want || cfg.Profile != nil {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}

func TestListJobsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "complete" || q.Get("limit") != "5" || q.Get("offset") != "10" || q.Get("subject") != "Machine Learning" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"notebooks": []map[string]any{{"job_id": "a", "status": "complete"}},
			"total":     11,
		})
	}))
	defer srv.Close()

	jobs, total, err := New(srv.URL, "u1").ListJobs(context.Background(), ListOptions{
		Status: domain.JobComplete, Subject: "Machine Learning", Limit: 5, Offset: 10,
	})
	require.NoError(t, err)
	if total != 11 || len(jobs) != 1 || jobs[0].ID != "a" {
		t.Errorf("Unexpected listing: total=%d jobs=%v", total, jobs)
	}
}

func TestAssessmentCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/notebooks/assess/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["subject"] != "Go" {
			t.Errorf("Expected subject Go, got %v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session_id": "s1", "status": "started", "initial_message": "hi"})
	})
	mux.HandleFunc("POST /api/notebooks/assess/s1/message", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": "s1", "reply_text": "done", "profile_complete": true,
			"profile": map[string]string{"subject": "Go", "experience_level": "beginner", "goals": "cli"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "u1")
	ctx := context.Background()
	start, err := c.StartAssessment(ctx, "Go", "")
	require.NoError(t, err)
	if start.SessionID != "s1" || start.InitialMessage != "hi" {
		t.Errorf("Unexpected start: %+v", start)
	}
	reply, err := c.SendMessage(ctx, "s1", "I'm a beginner")
	require.NoError(t, err)
	if !reply.ProfileComplete || reply.Profile.ExperienceLevel != domain.LevelBeginner {
		t.Errorf("Unexpected reply: %+v", reply)
	}
}

func TestReadFileEscapesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "sections/00_a b&c" {
			t.Errorf("Unexpected path %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": "x", "content": "# Hello"})
	}))
	defer srv.Close()

	got, err := New(srv.URL, "u1").ReadFile(context.Background(), "j1", "sections/00_a b&c")
	require.NoError(t, err)
	if got != "# Hello" {
		t.Errorf("Expected content, got %q", got)
	}
}

func TestPollThroughClient(t *testing.T) {
	var reads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := reads.Add(1)
		switch {
		case n == 1:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case n < 4:
			writeJSON(w, http.StatusOK, map[string]any{"job_id": "j1", "status": "generating", "progress": 10 * int(n)})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"job_id": "j1", "status": "complete", "progress": 100})
		}
	}))
	defer srv.Close()

	p := poller.New(New(srv.URL, "u1"))
	p.Policy = poller.Policy{Interval: time.Millisecond, MaxAttempts: 10, Multiplier: 1}
	outcome, job, err := p.Poll(context.Background(), "j1")
	require.NoError(t, err)
	if outcome != poller.OutcomeComplete || job.Progress != 100 {
		t.Errorf("Expected complete at 100, got %s %+v", outcome, job)
	}
	if n := reads.Load(); n != 4 {
		t.Errorf("Expected 4 reads, got %d", n)
	}
}

func TestPollNotFoundThroughClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job j1: not found"})
	}))
	defer srv.Close()

	p := poller.New(New(srv.URL, "u1"))
	p.Policy = poller.Policy{Interval: time.Millisecond, MaxAttempts: 5, Multiplier: 1}
	outcome, _, err := p.Poll(context.Background(), "j1")
	if err != nil || outcome != poller.OutcomeNotFound {
		t.Errorf("Expected not found, got %s %v", outcome, err)
	}
}
