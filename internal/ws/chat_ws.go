package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

// ConversationSource provides the snapshot a view socket starts from.
type ConversationSource interface {
	Conversation(peerID int) (models.Conversation, bool)
	ListConversations() []models.Conversation
}

// ViewSocketHandler streams store events to view clients.
type ViewSocketHandler struct {
	hub    *Hub
	source ConversationSource
	userID func() int
}

// NewViewSocketHandler constructs a ViewSocketHandler. userID reports the
// session user and is only used for connection metadata.
func NewViewSocketHandler(hub *Hub, source ConversationSource, userID func() int) *ViewSocketHandler {
	if userID == nil {
		userID = func() int { return 0 }
	}
	return &ViewSocketHandler{hub: hub, source: source, userID: userID}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConversation upgrades the connection and subscribes it to one peer.
func (h *ViewSocketHandler) HandleConversation(c *gin.Context) {
	peerID, err := strconv.Atoi(c.Param("peer_id"))
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	h.serve(c, peerID, func(conn *websocket.Conn) {
		conv, ok := h.source.Conversation(peerID)
		if !ok {
			return
		}
		if err := h.hub.SendTo(peerID, conn, models.ChatEvent{Type: models.EventConversation, PeerID: peerID, Conversation: &conv}); err != nil {
			logger.Warn().Err(err).Int("peer_id", peerID).Msg("send conversation snapshot")
		}
	})
}

func (h *ViewSocketHandler) serve(c *gin.Context, room int, snapshot func(*websocket.Conn)) {
	kind := viewKind(room)
	ctx, span := otel.Tracer("campus-chat/ws").Start(c.Request.Context(), "ws.view_handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(kind),
		UserID:      h.userID(),
		PeerID:      room,
		URL:         c.Request.URL.Path,
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(room, conn, info)
	snapshot(conn)

	observability.IncWSActive(kind)
	observability.IncWSEvent(kind, "ws_connect")
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), withRequest(observability.WSEvent(kind, "ws_connect", info.ConnID, info.UserID, 0, ""), info))

	// Keep connection alive and clean on close
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(room, conn)
			observability.DecWSActive(kind)
			observability.IncWSEvent(kind, "ws_disconnect")
			_ = observability.PublishEvent(context.Background(), wsRoutingKey(kind),
				withRequest(observability.WSEvent(kind, "ws_disconnect", info.ConnID, info.UserID, time.Since(info.ConnectedAt).Milliseconds(), closeReason), info))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent(kind, "ws_error")
					_ = observability.PublishEvent(context.Background(), wsRoutingKey(kind),
						withRequest(observability.WSEvent(kind, "ws_error", info.ConnID, info.UserID, time.Since(info.ConnectedAt).Milliseconds(), closeReason), info))
				}
				return
			}
		}
	}()
}

func withRequest(env observability.EventEnvelope, info ConnInfo) observability.EventEnvelope {
	env.RequestID = info.RequestID
	env.TraceID = info.TraceID
	return env
}
