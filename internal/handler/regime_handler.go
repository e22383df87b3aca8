package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fasting/backend/internal/middleware"
	"fasting/backend/internal/service"
)

type RegimeHandler struct {
	sessionService *service.SessionService
}

func NewRegimeHandler(sessionService *service.SessionService) *RegimeHandler {
	return &RegimeHandler{sessionService: sessionService}
}

// State evaluates the regime for the active plan. Reading state also runs
// the transition recorder, so a poll loop is enough to keep history current.
func (h *RegimeHandler) State(c *gin.Context) {
	userID := middleware.UserID(c)
	plan, state, apiErr := h.sessionService.RegimeState(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      state,
		"planId":     plan.ID,
		"serverTime": time.Now().UTC(),
	})
}

func (h *RegimeHandler) Skip(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.SkipCurrentRegimeFast(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *RegimeHandler) Snooze(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.SnoozeCurrentRegimeFast(c.Request.Context(), userID, req.Minutes)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
