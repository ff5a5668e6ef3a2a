package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/http/response"
	"github.com/veldt/crystal-backend/internal/ingest"
	"github.com/veldt/crystal-backend/internal/resolve"
)

type IngestHandler struct {
	ingest *ingest.Service
}

func NewIngestHandler(svc *ingest.Service) *IngestHandler {
	return &IngestHandler{ingest: svc}
}

type highlightRequest struct {
	SourceDoc string `json:"source_doc" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// POST /api/sessions/:id/highlights
func (h *IngestHandler) Highlight(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req highlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	seed, err := h.ingest.IngestHighlight(c.Request.Context(), sessionID, req.SourceDoc, req.Text)
	if err != nil {
		response.RespondError(c, statusFor(err), "ingest_highlight_failed", err)
		return
	}
	conflicts := h.ingest.DetectConflicts(c.Request.Context(), seed)
	if conflicts == nil {
		conflicts = []resolve.Proposal{}
	}
	response.RespondOK(c, gin.H{"seed": seed, "conflicts": conflicts})
}

type thoughtRequest struct {
	Text string `json:"text" binding:"required"`
}

// POST /api/sessions/:id/thoughts
func (h *IngestHandler) Thought(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req thoughtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	seed, err := h.ingest.AddThought(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		response.RespondError(c, statusFor(err), "add_thought_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"seed": seed})
}

// POST /api/sessions/:id/harvest
func (h *IngestHandler) Harvest(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	drafts, err := h.ingest.Harvest(c.Request.Context(), sessionID)
	if err != nil {
		response.RespondError(c, statusFor(err), "harvest_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"drafts": drafts})
}
