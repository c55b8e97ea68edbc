package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acadex/attempt-service/internal/services"
	"github.com/acadex/attempt-service/internal/utils"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	logger         utils.Logger
}

func NewHandlerManager(attemptService services.AttemptService, logger utils.Logger) *HandlerManager {
	return &HandlerManager{
		attemptHandler: NewAttemptHandler(attemptService, logger),
		logger:         logger,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "attempt-service",
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(utils.ContextLogger(hm.logger), StudentIDMiddleware())
	{
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.POST("/:id/answer", hm.attemptHandler.SubmitAnswer)
			attempts.POST("/:id/autosave", hm.attemptHandler.AutoSave)
			attempts.GET("/:id/time-status", hm.attemptHandler.GetTimeStatus)
			attempts.POST("/:id/complete", hm.attemptHandler.CompleteAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
			attempts.GET("/:id/progress", hm.attemptHandler.GetProgress)
			attempts.PUT("/:id/questions/:question_id/flag", hm.attemptHandler.FlagQuestion)
			attempts.POST("/:id/archive", hm.attemptHandler.ArchiveAttempt)
		}
	}
}

// StudentIDMiddleware copies the gateway-authenticated student identity into
// the request context. Authentication itself happens upstream; this service
// only trusts the forwarded header.
func StudentIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if studentID := strings.TrimSpace(c.GetHeader("X-Student-ID")); studentID != "" {
			c.Set("user_id", studentID)
		}
		c.Next()
	}
}
