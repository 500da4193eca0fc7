package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/identity"
)

type startAssessmentRequest struct {
	OwnerID      string `json:"owner_id,omitempty"`
	Subject      string `json:"subject,omitempty"`
	InitialGoals string `json:"initial_goals,omitempty"`
}

type startAssessmentResponse struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	InitialMessage string    `json:"initial_message"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type assessmentMessageRequest struct {
	Message string `json:"message"`
	OwnerID string `json:"owner_id,omitempty"`
}

type assessmentMessageResponse struct {
	SessionID       string                 `json:"session_id"`
	ReplyText       string                 `json:"reply_text"`
	ProfileComplete bool                   `json:"profile_complete"`
	Profile         *domain.LearnerProfile `json:"profile,omitempty"`
}

type assessmentProfileResponse struct {
	SessionID string                 `json:"session_id"`
	Profile   *domain.LearnerProfile `json:"profile"`
	Status    domain.SessionStatus   `json:"status"`
}

// StartAssessment handles POST /api/notebooks/assess/start.
func (h *Handler) StartAssessment(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	var req startAssessmentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(owner, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	sess, err := h.assessor.Start(r.Context(), owner, req.Subject, req.InitialGoals)
	if err != nil {
		writeError(w, r, err)
		return
	}
	greeting := ""
	if len(sess.Messages) > 0 {
		greeting = sess.Messages[0].Content
	}
	JSON(w, http.StatusCreated, startAssessmentResponse{
		SessionID:      sess.ID,
		Status:         "started",
		InitialMessage: greeting,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
	})
}

// SendAssessmentMessage handles POST /api/notebooks/assess/{sessionID}/message.
func (h *Handler) SendAssessmentMessage(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	var req assessmentMessageRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(owner, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.assessor.Send(r.Context(), sessionID, owner, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, assessmentMessageResponse{
		SessionID:       reply.SessionID,
		ReplyText:       reply.Text,
		ProfileComplete: reply.ProfileComplete,
		Profile:         reply.Profile,
	})
}

// GetAssessmentProfile handles GET /api/notebooks/assess/{sessionID}/profile.
func (h *Handler) GetAssessmentProfile(w http.ResponseWriter, r *http.Request) {
	owner := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.assessor.Profile(r.Context(), sessionID, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, assessmentProfileResponse{
		SessionID: sess.ID,
		Profile:   sess.Profile,
		Status:    sess.Status,
	})
}
