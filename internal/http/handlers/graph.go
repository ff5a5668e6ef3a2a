package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/export"
	"github.com/veldt/crystal-backend/internal/graph"
	"github.com/veldt/crystal-backend/internal/http/response"
	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
)

type GraphHandler struct {
	store  graph.Store
	export *export.Service
}

func NewGraphHandler(store graph.Store, exportSvc *export.Service) *GraphHandler {
	return &GraphHandler{store: store, export: exportSvc}
}

func sessionScope(c *gin.Context) (*uuid.UUID, error) {
	raw := c.Query("session_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// GET /api/graph
func (h *GraphHandler) Snapshot(c *gin.Context) {
	scope, err := sessionScope(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	nodes, edges, err := h.store.Snapshot(c.Request.Context(), scope)
	if err != nil {
		response.RespondError(c, statusFor(err), "snapshot_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"nodes": nodes, "edges": edges})
}

// GET /api/graph/export?format=mermaid|markdown
func (h *GraphHandler) Export(c *gin.Context) {
	scope, err := sessionScope(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	format := c.DefaultQuery("format", "mermaid")
	var out string
	switch format {
	case "mermaid":
		out, err = h.export.Mermaid(c.Request.Context(), scope)
	case "markdown":
		out, err = h.export.Markdown(c.Request.Context(), scope)
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_format", apperr.ErrInvalidArgument)
		return
	}
	if err != nil {
		response.RespondError(c, statusFor(err), "export_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"format": format, "content": out})
}
