package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/session"
)

// SessionController is the lifecycle of the signed-in chat session.
type SessionController interface {
	Start(ctx context.Context, creds session.Credentials) error
	Teardown(ctx context.Context)
	Reconnect(ctx context.Context) error
	Status() session.Status
}

type SessionHandler struct {
	session SessionController
}

func NewSessionHandler(s SessionController) *SessionHandler {
	return &SessionHandler{session: s}
}

// GetStatus reports the session and transport state.
func (h *SessionHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

// Login starts a session for the posted credentials, replacing any active one.
func (h *SessionHandler) Login(c *gin.Context) {
	var req session.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and token are required"})
		return
	}

	if err := h.session.Start(requestContext(c), req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}
	c.JSON(http.StatusOK, h.session.Status())
}

// Reconnect dials the chat transport again.
func (h *SessionHandler) Reconnect(c *gin.Context) {
	if err := h.session.Reconnect(requestContext(c)); err != nil {
		if errors.Is(err, session.ErrNotActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not connect to chat server", "status": h.session.Status()})
		return
	}
	c.JSON(http.StatusOK, h.session.Status())
}

// Logout ends the session and closes every window.
func (h *SessionHandler) Logout(c *gin.Context) {
	h.session.Teardown(requestContext(c))
	c.Status(http.StatusNoContent)
}
