package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/http/response"
	"github.com/veldt/crystal-backend/internal/session"
)

type SessionHandler struct {
	sessions *session.Service
}

func NewSessionHandler(sessions *session.Service) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	Title string `json:"title" binding:"required"`
	Goal  string `json:"goal"`
}

// POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), req.Title, req.Goal)
	if err != nil {
		response.RespondError(c, statusFor(err), "create_session_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}

// GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, statusFor(err), "session_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}

// GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		response.RespondError(c, statusFor(err), "list_sessions_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}
