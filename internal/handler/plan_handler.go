package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fasting/backend/internal/middleware"
	"fasting/backend/internal/service"
)

type PlanHandler struct {
	planService *service.PlanService
}

func NewPlanHandler(planService *service.PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

type regimeStartRequest struct {
	Immediate bool `json:"immediate"`
}

func (h *PlanHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	plans, apiErr := h.planService.ListPlans(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *PlanHandler) Create(c *gin.Context) {
	var req service.PlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	plan, apiErr := h.planService.CreatePlan(c.Request.Context(), userID, req)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"plan": plan})
}

func (h *PlanHandler) Update(c *gin.Context) {
	var req service.PlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	plan, apiErr := h.planService.UpdatePlan(c.Request.Context(), userID, c.Param("id"), req)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (h *PlanHandler) Delete(c *gin.Context) {
	userID := middleware.UserID(c)
	if apiErr := h.planService.DeletePlan(c.Request.Context(), userID, c.Param("id")); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PlanHandler) Activate(c *gin.Context) {
	userID := middleware.UserID(c)
	plan, apiErr := h.planService.ActivatePlan(c.Request.Context(), userID, c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (h *PlanHandler) StartRegime(c *gin.Context) {
	var req regimeStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	userID := middleware.UserID(c)
	plan, apiErr := h.planService.StartRegime(c.Request.Context(), userID, c.Param("id"), req.Immediate)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (h *PlanHandler) StopRegime(c *gin.Context) {
	userID := middleware.UserID(c)
	plan, apiErr := h.planService.StopRegime(c.Request.Context(), userID, c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}
