package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/http/response"
	"github.com/veldt/crystal-backend/internal/scaffold"
)

type ScaffoldHandler struct {
	scaffold *scaffold.Service
}

func NewScaffoldHandler(svc *scaffold.Service) *ScaffoldHandler {
	return &ScaffoldHandler{scaffold: svc}
}

// GET /api/concepts/:id/scaffold
func (h *ScaffoldHandler) Get(c *gin.Context) {
	conceptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_concept_id", err)
		return
	}
	payload, err := h.scaffold.Generate(c.Request.Context(), conceptID)
	if err != nil {
		response.RespondError(c, statusFor(err), "scaffold_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"scaffold": payload})
}

// DELETE /api/concepts/:id/scaffold
func (h *ScaffoldHandler) Invalidate(c *gin.Context) {
	conceptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_concept_id", err)
		return
	}
	if err := h.scaffold.Invalidate(c.Request.Context(), conceptID); err != nil {
		response.RespondError(c, statusFor(err), "scaffold_invalidate_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"invalidated": true})
}
