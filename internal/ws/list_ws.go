package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
)

// HandleList upgrades the connection and subscribes it to conversation-list updates.
func (h *ViewSocketHandler) HandleList(c *gin.Context) {
	h.serve(c, ListRoom, func(conn *websocket.Conn) {
		for _, conv := range h.source.ListConversations() {
			conv := conv
			ev := models.ChatEvent{Type: models.EventConversation, PeerID: conv.Peer.ID, Conversation: &conv}
			if err := h.hub.SendTo(ListRoom, conn, ev); err != nil {
				logger.Warn().Err(err).Msg("send conversation list snapshot")
				return
			}
		}
	})
}
