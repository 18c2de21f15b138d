package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes one websocket for logs and lifecycle events. PeerID is
// the view room; it is unused for the upstream connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	PeerID      int
	URL         string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// newConnID prefixes a random id with the socket kind ("upstream", "list" or
// "conversation").
func newConnID(kind string) string {
	return kind + "-" + uuid.NewString()
}
