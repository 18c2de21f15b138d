package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

// ListRoom receives conversation-list updates; rooms above it are keyed by peer id.
const ListRoom = 0

const defaultSendQueue = 64

var errSlowConsumer = errors.New("view socket send queue full")

type viewClient struct {
	conn *websocket.Conn
	info ConnInfo
	room int
	send chan []byte
	mu   sync.Mutex
}

func (c *viewClient) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans store events out to the view sockets. Each socket has its own send
// queue and writer goroutine, so Notify never waits on a slow reader.
type Hub struct {
	rooms     map[int]map[*websocket.Conn]*viewClient
	mu        sync.RWMutex
	queueSize int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*websocket.Conn]*viewClient), queueSize: defaultSendQueue}
}

// AddClient registers a view socket in room and starts its writer.
func (h *Hub) AddClient(room int, conn *websocket.Conn, info ConnInfo) {
	c := &viewClient{conn: conn, info: info, room: room, send: make(chan []byte, h.queueSize)}

	h.mu.Lock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*websocket.Conn]*viewClient)
	}
	h.rooms[room][conn] = c
	h.mu.Unlock()

	go h.writePump(c)
}

func (h *Hub) writePump(c *viewClient) {
	for payload := range c.send {
		if err := c.write(payload); err != nil {
			h.drop(c, err)
			// drain until RemoveClient closes the queue
			for range c.send {
			}
			return
		}
	}
}

// RemoveClient removes a view socket and stops its writer. Removing an
// unknown socket is a no-op.
func (h *Hub) RemoveClient(room int, conn *websocket.Conn) {
	h.remove(room, conn)
}

func (h *Hub) remove(room int, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[room]
	if !ok {
		return false
	}
	c, ok := clients[conn]
	if !ok {
		return false
	}
	delete(clients, conn)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
	close(c.send)
	return true
}

func (h *Hub) drop(c *viewClient, err error) {
	c.conn.Close()
	if !h.remove(c.room, c.conn) {
		return
	}
	logger.Warn().Err(err).Str("conn_id", c.info.ConnID).Int("room", c.room).Msg("view socket dropped")
	h.publishWSError(c.info, err)
}

// Clients returns the number of sockets in room.
func (h *Hub) Clients(room int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Notify queues ev for the sockets interested in it. Message events go to the
// room of the peer; conversation updates also reach the list room. A socket
// whose queue is full is dropped.
func (h *Hub) Notify(ev models.ChatEvent) {
	rooms := []int{ev.PeerID}
	if ev.Type == models.EventConversation && ev.PeerID != ListRoom {
		rooms = append(rooms, ListRoom)
	}

	var payload []byte
	var slow []*viewClient
	h.mu.RLock()
	for _, room := range rooms {
		for _, c := range h.rooms[room] {
			if payload == nil {
				var err error
				if payload, err = json.Marshal(ev); err != nil {
					h.mu.RUnlock()
					logger.Error().Err(err).Str("event", ev.Type).Msg("encode view event")
					return
				}
			}
			select {
			case c.send <- payload:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c, errSlowConsumer)
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	kind := viewKind(info.PeerID)
	observability.IncWSEvent(kind, "ws_error")
	_ = observability.PublishEvent(context.Background(), wsRoutingKey(kind),
		observability.WSEvent(kind, "ws_error", info.ConnID, info.UserID, time.Since(info.ConnectedAt).Milliseconds(), err.Error()))
}

func viewKind(peerID int) string {
	if peerID == ListRoom {
		return "list"
	}
	return "conversation"
}

func wsRoutingKey(kind string) string {
	if kind == "list" {
		return "ws_events.lists"
	}
	return "ws_events.conversations"
}

// SendTo writes ev to one registered socket directly. It is meant for the
// initial snapshot, written from the handler goroutine.
func (h *Hub) SendTo(room int, conn *websocket.Conn, ev models.ChatEvent) error {
	h.mu.RLock()
	c, ok := h.rooms[room][conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(payload)
}
