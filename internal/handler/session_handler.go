package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fasting/backend/internal/middleware"
	"fasting/backend/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type endSessionRequest struct {
	EndTime *time.Time `json:"endTime,omitempty"`
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

type adjustStartRequest struct {
	StartTime time.Time `json:"startTime"`
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *SessionHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	limit := 50
	if rawLimit := c.Query("limit"); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}

	sessions, apiErr := h.sessionService.ListSessions(c.Request.Context(), userID, limit)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req service.StartSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.StartSession(c.Request.Context(), userID, req)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// Active returns the live session, or the stale candidate that needs a
// recovery decision first.
func (h *SessionHandler) Active(c *gin.Context) {
	userID := middleware.UserID(c)
	view, apiErr := h.sessionService.ActiveSession(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) End(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.EndSession(c.Request.Context(), userID, c.Param("id"), req.EndTime)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":        session,
		"earlyEndPrompt": h.sessionService.IsEarlyEnd(session, time.Now().UTC()),
	})
}

func (h *SessionHandler) Skip(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.SkipSession(c.Request.Context(), userID, c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Snooze(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.SnoozeSession(c.Request.Context(), userID, c.Param("id"), req.Minutes)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) AdjustStartTime(c *gin.Context) {
	var req adjustStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.AdjustStartTime(c.Request.Context(), userID, c.Param("id"), req.StartTime)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Continue(c *gin.Context) {
	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.ContinuePreviousFast(c.Request.Context(), userID, c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	session, apiErr := h.sessionService.ResolveStaleSession(c.Request.Context(), userID, c.Param("id"), req.Resolution)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	if session == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) WeekSummaries(c *gin.Context) {
	userID := middleware.UserID(c)
	summaries, apiErr := h.sessionService.WeekSummaries(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weeks": summaries})
}
