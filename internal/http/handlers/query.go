package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/http/response"
	"github.com/veldt/crystal-backend/internal/retrieval"
)

type QueryHandler struct {
	orchestrator *retrieval.Orchestrator
}

func NewQueryHandler(orchestrator *retrieval.Orchestrator) *QueryHandler {
	return &QueryHandler{orchestrator: orchestrator}
}

type queryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
}

// POST /api/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
			return
		}
		sessionID = &id
	}
	// Retrieval never errors; degraded paths come back as territory=new.
	result := h.orchestrator.Retrieve(c.Request.Context(), req.Query, sessionID)
	response.RespondOK(c, gin.H{"retrieval": result})
}
