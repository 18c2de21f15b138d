package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/conversations"
	"campus-chat/internal/models"
)

// WindowRegistry is the set of open chat windows.
type WindowRegistry interface {
	Open(ctx context.Context, peer models.PeerInfo) error
	Close(peerID int) bool
	Focus(peerID int) bool
	Windows() []models.PeerInfo
}

// WindowHandler opens, focuses and closes chat windows.
type WindowHandler struct {
	registry WindowRegistry
}

func NewWindowHandler(registry WindowRegistry) *WindowHandler {
	return &WindowHandler{registry: registry}
}

// ListWindows returns the open windows in opening order.
func (h *WindowHandler) ListWindows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"windows": h.registry.Windows()})
}

// OpenWindow opens the window of a peer. The body may carry the peer's
// username and avatar. When the history cannot be loaded the window stays open
// and 502 is returned.
func (h *WindowHandler) OpenWindow(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	peer := models.PeerInfo{ID: peerID, Username: req.Username, Avatar: req.Avatar}
	if err := h.registry.Open(c.Request.Context(), peer); err != nil {
		switch {
		case errors.Is(err, conversations.ErrNoSession):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, conversations.ErrHistoryFetchFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load history", "peer": peer})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open window"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer})
}

// FocusWindow marks an open window as the focused one.
func (h *WindowHandler) FocusWindow(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}
	if !h.registry.Focus(peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "window not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseWindow closes the window of a peer.
func (h *WindowHandler) CloseWindow(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}
	if !h.registry.Close(peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "window not open"})
		return
	}
	c.Status(http.StatusNoContent)
}
