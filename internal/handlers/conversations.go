package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campus-chat/internal/conversations"
	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/upload"
	"campus-chat/internal/ws"
)

const transportWarning = "chat connection is not open, message was not sent"

// ConversationStore is the conversation state served to the view.
type ConversationStore interface {
	ListConversations() []models.Conversation
	LastListError() error
	Conversation(peerID int) (models.Conversation, bool)
	LoadHistory(ctx context.Context, peerID int) error
	Send(ctx context.Context, peerID int, draft models.Draft) (models.Message, error)
	Retry(ctx context.Context, peerID int, localID string) (models.Message, error)
	MarkRead(peerID int)
}

// ConversationHandler serves conversations and messages.
type ConversationHandler struct {
	store    ConversationStore
	uploader upload.Uploader
}

// NewConversationHandler builds a ConversationHandler. A nil uploader disables attachments.
func NewConversationHandler(store ConversationStore, uploader upload.Uploader) *ConversationHandler {
	return &ConversationHandler{store: store, uploader: uploader}
}

// ListConversations returns the conversation list, most recent first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	resp := gin.H{"conversations": h.store.ListConversations()}
	if err := h.store.LastListError(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessages returns the cached messages of a conversation. With refresh=true
// the history is fetched first; a failed fetch answers 502 with the cached data.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}

	if c.Query("refresh") == "true" {
		if err := h.store.LoadHistory(c.Request.Context(), peerID); err != nil {
			if errors.Is(err, conversations.ErrNoSession) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			conv, _ := h.store.Conversation(peerID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load history", "conversation": conv})
			return
		}
	}

	conv, found := h.store.Conversation(peerID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// PostMessage sends a text message.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}

	var req models.Draft
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.store.Send(c.Request.Context(), peerID, req)
	if err != nil {
		writeSendError(c, msg, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// PostAttachment uploads the multipart file and sends it as a message.
func (h *ConversationHandler) PostAttachment(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}
	if h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads not configured"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()

	fileURL, err := h.uploader.Upload(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		logger.Warn().Err(err).Int("peer_id", peerID).Str("file", header.Filename).Msg("attachment upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to upload file"})
		return
	}

	draft := models.Draft{Content: c.PostForm("content"), FileURL: fileURL, FileName: header.Filename}
	msg, err := h.store.Send(c.Request.Context(), peerID, draft)
	if err != nil {
		writeSendError(c, msg, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RetryMessage resends a failed message.
func (h *ConversationHandler) RetryMessage(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}

	msg, err := h.store.Retry(c.Request.Context(), peerID, c.Param("local_id"))
	if err != nil {
		writeSendError(c, msg, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead clears the unread count of a conversation.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	peerID, ok := parsePeerID(c)
	if !ok {
		return
	}
	h.store.MarkRead(peerID)
	c.Status(http.StatusNoContent)
}

func writeSendError(c *gin.Context, msg models.Message, err error) {
	switch {
	case errors.Is(err, conversations.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, conversations.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, conversations.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, ws.ErrTransportUnavailable):
		resp := gin.H{"error": err.Error(), "warning": transportWarning}
		if msg.LocalID != "" {
			resp["message"] = msg
		}
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message", "message": msg})
	}
}

func parsePeerID(c *gin.Context) (int, bool) {
	peerID, err := strconv.Atoi(c.Param("peer_id"))
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return 0, false
	}
	return peerID, true
}
