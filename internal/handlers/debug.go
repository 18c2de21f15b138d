package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/rabbitmq"
	"campus-chat/internal/telemetry"
)

// DebugDeps are the components the debug routes inspect.
type DebugDeps struct {
	Audit     *telemetry.AuditEmitter
	Session   SessionController
	Publisher rabbitmq.Publisher
}

type auditRequest struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/state", func(c *gin.Context) {
		state := gin.H{}
		if deps.Session != nil {
			state["session"] = deps.Session.Status()
		}
		mode, reason := rabbitmq.Describe(deps.Publisher)
		state["publisher"] = gin.H{"mode": mode, "reason": reason}
		c.JSON(http.StatusOK, state)
	})

	// Emits one audit event through the configured publisher.
	router.POST("/debug/audit", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		req := auditRequest{Level: "INFO", Text: "audit test"}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := userIDFromContext(c)
		if userID == 0 && deps.Session != nil {
			userID = deps.Session.Status().UserID
		}
		deps.Audit.Emit(requestContext(c), req.Level, req.Text, requestIDFromContext(c), userID)
		c.JSON(http.StatusAccepted, gin.H{"status": "emitted", "user_id": userID})
	})
}
