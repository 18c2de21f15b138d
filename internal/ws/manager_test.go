package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/models"
)

type fakeChatServer struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	dials   atomic.Int32
	mu      sync.Mutex
	path    string
	authHdr string
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	t.Helper()
	f := &fakeChatServer{conns: make(chan *websocket.Conn, 4)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.dials.Add(1)
		f.mu.Lock()
		f.path = r.URL.Path
		f.authHdr = r.Header.Get("Authorization")
		f.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeChatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/chat/ws"
}

func (f *fakeChatServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestManagerConnectAndSend(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(context.Background(), 7, "tok"))
	serverConn := server.accept(t)

	assert.Equal(t, StateOpen, m.State())
	assert.True(t, m.Ready())
	server.mu.Lock()
	assert.Equal(t, "/chat/ws/7", server.path)
	assert.Equal(t, "Bearer tok", server.authHdr)
	server.mu.Unlock()

	require.NoError(t, m.Send(models.OutboundMessage{ReceiverID: 2, Content: "hi", MessageType: models.MessageText}))

	_ = serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := serverConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"receiver_id":2,"content":"hi","message_type":"text"}`, string(data))
}

func TestManagerDispatchesFramesAndSkipsMalformed(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)
	t.Cleanup(m.Close)

	events := make(chan models.ChatEvent, 4)
	m.Subscribe(func(ev models.ChatEvent) { events <- ev })

	require.NoError(t, m.Connect(context.Background(), 1, ""))
	serverConn := server.accept(t)

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"id":5,"sender_id":2,"receiver_id":1,"content":"yo","message_type":"text","timestamp":"2024-05-01T12:00:00"}`)))

	select {
	case ev := <-events:
		assert.Equal(t, models.EventMessage, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, int64(5), ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
	assert.Equal(t, StateOpen, m.State())
}

func TestManagerSendWhenClosed(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/chat/ws", nil)

	err := m.Send(models.OutboundMessage{ReceiverID: 2, Content: "hi"})
	require.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestManagerConnectWithoutUser(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)

	require.NoError(t, m.Connect(context.Background(), 0, "tok"))
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, int32(0), server.dials.Load())
}

func TestManagerConnectSameUserIsNoop(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(context.Background(), 3, ""))
	server.accept(t)
	require.NoError(t, m.Connect(context.Background(), 3, ""))

	assert.Equal(t, int32(1), server.dials.Load())
}

func TestManagerConnectOtherUserReplaces(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)
	t.Cleanup(m.Close)

	require.NoError(t, m.Connect(context.Background(), 3, ""))
	server.accept(t)
	require.NoError(t, m.Connect(context.Background(), 4, ""))
	server.accept(t)

	assert.Equal(t, int32(2), server.dials.Load())
	assert.Equal(t, 4, m.Info().UserID)
	assert.Equal(t, StateOpen, m.State())
}

func TestManagerServerCloseDoesNotReconnect(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)
	t.Cleanup(m.Close)

	states := make(chan State, 8)
	m.WatchState(func(s State) { states <- s })

	require.NoError(t, m.Connect(context.Background(), 1, ""))
	serverConn := server.accept(t)
	serverConn.Close()

	require.Eventually(t, func() bool { return m.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), server.dials.Load())
	require.ErrorIs(t, m.Send(models.OutboundMessage{ReceiverID: 2, Content: "x"}), ErrTransportUnavailable)

	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateOpen, <-states)
	assert.Equal(t, StateClosed, <-states)
}

func TestManagerDialFailure(t *testing.T) {
	server := newFakeChatServer(t)
	url := server.wsURL()
	server.srv.Close()

	m := NewManager(url, nil)
	err := m.Connect(context.Background(), 1, "")
	require.Error(t, err)
	assert.Equal(t, StateClosed, m.State())
}

func TestManagerCloseNotifiesWatchers(t *testing.T) {
	server := newFakeChatServer(t)
	m := NewManager(server.wsURL(), nil)

	require.NoError(t, m.Connect(context.Background(), 1, ""))
	server.accept(t)

	var last atomic.Int32
	id := m.WatchState(func(s State) { last.Store(int32(s)) })
	m.Close()

	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, int32(StateClosed), last.Load())

	m.UnwatchState(id)
	m.Close()
}
