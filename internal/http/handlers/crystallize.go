package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/consolidate"
	"github.com/veldt/crystal-backend/internal/http/response"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
)

type CrystallizeHandler struct {
	engine  *consolidate.Engine
	tracker *consolidate.Tracker
}

func NewCrystallizeHandler(engine *consolidate.Engine, tracker *consolidate.Tracker) *CrystallizeHandler {
	return &CrystallizeHandler{engine: engine, tracker: tracker}
}

// POST /api/sessions/:id/crystallize/preview
func (h *CrystallizeHandler) Preview(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	preview, err := h.engine.Preview(c.Request.Context(), sessionID)
	if err != nil {
		response.RespondError(c, statusFor(err), "preview_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"preview": preview})
}

// POST /api/sessions/:id/crystallize/commit
func (h *CrystallizeHandler) Commit(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var input consolidate.CommitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if h.tracker.Running(sessionID) {
		response.RespondError(c, http.StatusConflict, "commit_in_flight", apperr.ErrConcurrentCommit)
		return
	}
	job := h.tracker.Launch(sessionID, func(ctx context.Context) (*consolidate.CommitResult, error) {
		return h.engine.Commit(ctx, sessionID, input)
	})
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *CrystallizeHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, ok := h.tracker.Get(jobID)
	if !ok {
		response.RespondError(c, http.StatusNotFound, "job_not_found", apperr.ErrNotFound)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

type mergeRequest struct {
	SourceID uuid.UUID `json:"source_id" binding:"required"`
	TargetID uuid.UUID `json:"target_id" binding:"required"`
}

// POST /api/concepts/merge
func (h *CrystallizeHandler) Merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.engine.Merge(c.Request.Context(), req.SourceID, req.TargetID); err != nil {
		response.RespondError(c, statusFor(err), "merge_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"merged": true})
}
