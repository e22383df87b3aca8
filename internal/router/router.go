package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fasting/backend/internal/handler"
	"fasting/backend/internal/middleware"
	"fasting/backend/internal/service"
)

func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	planHandler *handler.PlanHandler,
	sessionHandler *handler.SessionHandler,
	regimeHandler *handler.RegimeHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.Auth(authService))

	plans := authed.Group("/plans")
	plans.GET("", planHandler.List)
	plans.POST("", planHandler.Create)
	plans.PUT("/:id", planHandler.Update)
	plans.DELETE("/:id", planHandler.Delete)
	plans.POST("/:id/activate", planHandler.Activate)
	plans.POST("/:id/regime/start", planHandler.StartRegime)
	plans.POST("/:id/regime/stop", planHandler.StopRegime)

	regime := authed.Group("/regime")
	regime.GET("/state", regimeHandler.State)
	regime.POST("/skip", regimeHandler.Skip)
	regime.POST("/snooze", regimeHandler.Snooze)

	sessions := authed.Group("/sessions")
	sessions.GET("", sessionHandler.List)
	sessions.POST("", sessionHandler.Start)
	sessions.GET("/active", sessionHandler.Active)
	sessions.POST("/:id/end", sessionHandler.End)
	sessions.POST("/:id/skip", sessionHandler.Skip)
	sessions.POST("/:id/snooze", sessionHandler.Snooze)
	sessions.POST("/:id/continue", sessionHandler.Continue)
	sessions.POST("/:id/resolve", sessionHandler.Resolve)
	sessions.PUT("/:id/start-time", sessionHandler.AdjustStartTime)

	authed.GET("/summary/weeks", sessionHandler.WeekSummaries)

	return engine
}
