package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/http/response"
	"github.com/veldt/crystal-backend/internal/review"
)

type ReviewHandler struct {
	review *review.Service
}

func NewReviewHandler(svc *review.Service) *ReviewHandler {
	return &ReviewHandler{review: svc}
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

// GET /api/review/queue
func (h *ReviewHandler) Queue(c *gin.Context) {
	concepts, err := h.review.Queue(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		response.RespondError(c, statusFor(err), "review_queue_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"concepts": concepts})
}

// GET /api/review/upcoming
func (h *ReviewHandler) Upcoming(c *gin.Context) {
	concepts, err := h.review.Upcoming(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		response.RespondError(c, statusFor(err), "review_upcoming_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"concepts": concepts})
}

type assessRequest struct {
	Rating string `json:"rating" binding:"required"`
}

// POST /api/review/:id/assess
func (h *ReviewHandler) Assess(c *gin.Context) {
	conceptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_concept_id", err)
		return
	}
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	concept, err := h.review.Assess(c.Request.Context(), conceptID, review.Rating(req.Rating))
	if err != nil {
		response.RespondError(c, statusFor(err), "assess_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"concept": concept})
}

// GET /api/review/stats
func (h *ReviewHandler) Stats(c *gin.Context) {
	stats, err := h.review.Stats(c.Request.Context())
	if err != nil {
		response.RespondError(c, statusFor(err), "review_stats_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"stats": stats})
}
