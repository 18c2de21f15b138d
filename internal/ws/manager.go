package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

// State is the ready state of the chat transport.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrTransportUnavailable = errors.New("chat transport is not open")

const (
	upstreamKind = "upstream"
	writeTimeout = 10 * time.Second
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Manager owns the single live transport of a session. Only the manager writes
// to the socket; everything else subscribes to decoded events.
type Manager struct {
	baseURL string
	dialer  Dialer
	now     func() time.Time

	mu    sync.Mutex
	gen   uint64
	state State
	conn  *websocket.Conn
	done  chan struct{}
	info  ConnInfo

	writeMu sync.Mutex

	subsMu   sync.RWMutex
	nextID   int
	subs     map[int]func(models.ChatEvent)
	watchers map[int]func(State)
}

// NewManager constructs a Manager dialing baseURL/<user id>.
func NewManager(baseURL string, dialer Dialer) *Manager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Manager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		dialer:   dialer,
		now:      time.Now,
		subs:     make(map[int]func(models.ChatEvent)),
		watchers: make(map[int]func(State)),
	}
}

// State returns the current ready state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether frames can be sent.
func (m *Manager) Ready() bool {
	return m.State() == StateOpen
}

// Info returns the identity of the current connection.
func (m *Manager) Info() ConnInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Connect opens the transport for userID. Without a user id nothing is dialed.
// Connecting again for the same user while connecting or open is a no-op;
// connecting for another user replaces the current transport.
func (m *Manager) Connect(ctx context.Context, userID int, token string) error {
	if userID == 0 {
		logger.Warn().Msg("no session user id, chat transport not connected")
		return nil
	}

	m.mu.Lock()
	if (m.state == StateOpen || m.state == StateConnecting) && m.info.UserID == userID {
		m.mu.Unlock()
		return nil
	}
	oldConn, oldDone := m.detachLocked()
	gen := m.gen
	url := m.baseURL + "/" + strconv.Itoa(userID)
	m.state = StateConnecting
	m.info = ConnInfo{ConnID: newConnID(upstreamKind), UserID: userID, URL: url}
	m.mu.Unlock()

	if oldConn != nil {
		logger.Info().Int("user_id", userID).Msg("replacing chat transport")
		shutdown(oldConn, oldDone)
	}
	m.notifyState(StateConnecting)

	ctx, span := otel.Tracer("campus-chat/ws").Start(ctx, "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.user_id", userID))

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := m.dialer.DialContext(ctx, url, header)

	m.mu.Lock()
	if gen != m.gen {
		// Close or another Connect won while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.state = StateClosed
		info := m.info
		m.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		observability.IncWSEvent(upstreamKind, "ws_error")
		_ = observability.PublishEvent(ctx, "ws_events.upstream", observability.WSEvent(upstreamKind, "ws_error", info.ConnID, userID, 0, err.Error()))
		logger.Warn().Err(err).Int("user_id", userID).Str("url", url).Msg("chat transport dial failed")
		m.notifyState(StateClosed)
		return fmt.Errorf("dial %s: %w", url, err)
	}
	done := make(chan struct{})
	m.conn = conn
	m.done = done
	m.state = StateOpen
	m.info.ConnectedAt = m.now()
	m.info.TraceID = span.SpanContext().TraceID().String()
	info := m.info
	m.mu.Unlock()

	observability.IncWSActive(upstreamKind)
	observability.IncWSEvent(upstreamKind, "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.upstream", observability.WSEvent(upstreamKind, "ws_connect", info.ConnID, userID, 0, ""))
	logger.Info().Int("user_id", userID).Str("conn_id", info.ConnID).Msg("chat transport open")
	m.notifyState(StateOpen)

	go m.readLoop(gen, conn, info, done)
	return nil
}

// Close tears the transport down. No reconnect follows.
func (m *Manager) Close() {
	m.mu.Lock()
	wasOpen := m.state != StateClosed
	conn, done := m.detachLocked()
	m.state = StateClosed
	m.mu.Unlock()

	if conn != nil {
		shutdown(conn, done)
	}
	if wasOpen {
		m.notifyState(StateClosed)
	}
}

// detachLocked invalidates the current connection generation and hands the
// socket to the caller for shutdown.
func (m *Manager) detachLocked() (*websocket.Conn, chan struct{}) {
	m.gen++
	conn, done := m.conn, m.done
	m.conn = nil
	m.done = nil
	return conn, done
}

func shutdown(conn *websocket.Conn, done chan struct{}) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
	conn.Close()
	if done != nil {
		<-done
	}
}

// Send writes msg to the transport. It never queues: when the transport is
// not open the frame is dropped and ErrTransportUnavailable is returned.
func (m *Manager) Send(msg models.OutboundMessage) error {
	m.mu.Lock()
	conn, state, info := m.conn, m.state, m.info
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		observability.IncFrame("outbound", "dropped")
		logger.Warn().Int("peer_id", msg.ReceiverID).Str("state", state.String()).Msg("chat transport not open, message dropped")
		return ErrTransportUnavailable
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(m.now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	m.writeMu.Unlock()
	if err != nil {
		observability.IncFrame("outbound", "failed")
		logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("chat transport write failed")
		// The read loop observes the close and moves the state to closed.
		conn.Close()
		return fmt.Errorf("write frame: %w", err)
	}
	observability.IncFrame("outbound", "sent")
	return nil
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn, info ConnInfo, done chan struct{}) {
	defer close(done)

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		ev, err := decodeFrame(data, m.now())
		if err != nil {
			observability.IncFrame("inbound", "malformed")
			logger.Warn().Err(err).Str("conn_id", info.ConnID).Msg("dropping chat frame")
			continue
		}
		observability.IncFrame("inbound", "received")
		m.dispatch(ev)
	}

	m.mu.Lock()
	current := gen == m.gen
	if current {
		m.gen++
		m.conn = nil
		m.done = nil
		m.state = StateClosed
	}
	m.mu.Unlock()
	conn.Close()

	duration := m.now().Sub(info.ConnectedAt).Milliseconds()
	reason := readErr.Error()
	ctx := context.Background()
	if current && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		observability.IncWSEvent(upstreamKind, "ws_error")
		_ = observability.PublishEvent(ctx, "ws_events.upstream", observability.WSEvent(upstreamKind, "ws_error", info.ConnID, info.UserID, duration, reason))
	}
	observability.DecWSActive(upstreamKind)
	observability.IncWSEvent(upstreamKind, "ws_disconnect")
	_ = observability.PublishEvent(ctx, "ws_events.upstream", observability.WSEvent(upstreamKind, "ws_disconnect", info.ConnID, info.UserID, duration, reason))

	if current {
		logger.Warn().Str("conn_id", info.ConnID).Str("reason", reason).Msg("chat transport closed by peer")
		m.notifyState(StateClosed)
	}
}

// Subscribe registers fn for every decoded inbound event. fn runs on the read
// goroutine and must not block.
func (m *Manager) Subscribe(fn func(models.ChatEvent)) int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextID++
	m.subs[m.nextID] = fn
	return m.nextID
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	delete(m.subs, id)
}

// WatchState registers fn for state transitions.
func (m *Manager) WatchState(fn func(State)) int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.nextID++
	m.watchers[m.nextID] = fn
	return m.nextID
}

// UnwatchState removes a state watcher.
func (m *Manager) UnwatchState(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	delete(m.watchers, id)
}

func (m *Manager) dispatch(ev models.ChatEvent) {
	m.subsMu.RLock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(models.ChatEvent), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.subs[id])
	}
	m.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (m *Manager) notifyState(state State) {
	m.subsMu.RLock()
	watchers := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range watchers {
		fn(state)
	}
}
