package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/conversations"
	"campus-chat/internal/mocks"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/windows"
	"campus-chat/internal/ws"
)

type fakePoller struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (p *fakePoller) Start(ctx context.Context) { p.starts.Add(1) }
func (p *fakePoller) Stop()                     { p.stops.Add(1) }

type sessionFixture struct {
	session  *Session
	conn     *mocks.ConnectionMock
	store    *conversations.Store
	registry *windows.Registry
	history  *mocks.HistorySourceMock
	poller   *fakePoller
	creds    *CredentialStore
	audit    *mocks.AuditorMock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		conn:    new(mocks.ConnectionMock),
		history: new(mocks.HistorySourceMock),
		poller:  &fakePoller{},
		creds:   &CredentialStore{},
		audit:   new(mocks.AuditorMock),
	}
	f.store = conversations.NewStore(f.history, new(mocks.SummarySourceMock), new(mocks.TransportMock), nil, conversations.Options{})
	f.registry = windows.NewRegistry(f.store)
	f.session = New(f.conn, f.store, f.registry, f.poller, f.creds, f.audit)
	return f
}

func TestStartWithoutCredentialsDoesNothing(t *testing.T) {
	f := newSessionFixture(t)

	require.NoError(t, f.session.Start(context.Background(), Credentials{UserID: 1}))
	require.NoError(t, f.session.Start(context.Background(), Credentials{Token: "tok"}))

	f.conn.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int32(0), f.poller.starts.Load())
	assert.Equal(t, 0, f.store.UserID())
}

func TestStartConnectsAndSubscribesStore(t *testing.T) {
	f := newSessionFixture(t)
	ctx := observability.WithRequestID(context.Background(), "req-1")

	var handler func(models.ChatEvent)
	f.conn.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(0).(func(models.ChatEvent))
	}).Return(3).Once()
	f.conn.On("Connect", mock.Anything, 1, "tok").Return(nil).Once()
	f.conn.On("State").Return(ws.StateOpen)
	f.audit.On("Emit", mock.Anything, "INFO", "chat session started", "req-1", 1).Once()

	require.NoError(t, f.session.Start(ctx, Credentials{UserID: 1, Token: "tok"}))

	assert.Equal(t, 1, f.store.UserID())
	assert.Equal(t, "tok", f.creds.Token())
	assert.Equal(t, int32(1), f.poller.starts.Load())
	assert.Equal(t, Status{Active: true, UserID: 1, Connection: ws.StateOpen}, f.session.Status())

	require.NotNil(t, handler)
	handler(models.ChatEvent{Type: models.EventMessage, Message: &models.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "hi", Timestamp: time.Now()}})
	assert.Len(t, f.store.Messages(2), 1)

	f.conn.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestStartSurvivesConnectFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.conn.On("Subscribe", mock.Anything).Return(1).Once()
	f.conn.On("Connect", mock.Anything, 1, "tok").Return(assert.AnError).Once()
	f.conn.On("State").Return(ws.StateClosed)
	f.audit.On("Emit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.session.Start(context.Background(), Credentials{UserID: 1, Token: "tok"}))

	st := f.session.Status()
	assert.True(t, st.Active)
	assert.Equal(t, ws.StateClosed, st.Connection)
	assert.Equal(t, int32(1), f.poller.starts.Load())
}

func TestTeardownClearsEverything(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.conn.On("Subscribe", mock.Anything).Return(7).Once()
	f.conn.On("Connect", mock.Anything, 1, "tok").Return(nil).Once()
	f.conn.On("Unsubscribe", 7).Once()
	f.conn.On("Close").Once()
	f.conn.On("State").Return(ws.StateClosed)
	f.audit.On("Emit", mock.Anything, "INFO", "chat session started", "", 1).Once()
	f.audit.On("Emit", mock.Anything, "INFO", "chat session ended", "", 1).Once()
	f.history.On("History", mock.Anything, 1, 2).Return([]models.Message{}, nil).Once()

	require.NoError(t, f.session.Start(ctx, Credentials{UserID: 1, Token: "tok"}))
	require.NoError(t, f.registry.Open(ctx, models.PeerInfo{ID: 2}))
	require.True(t, f.registry.IsOpen(2))

	f.session.Teardown(ctx)

	assert.Empty(t, f.registry.Windows())
	assert.Empty(t, f.store.ListConversations())
	assert.Equal(t, 0, f.store.UserID())
	assert.Equal(t, Credentials{}, f.creds.Get())
	assert.Equal(t, int32(1), f.poller.stops.Load())
	assert.False(t, f.session.Status().Active)

	// A second teardown is a no-op.
	f.session.Teardown(ctx)
	f.conn.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestStartReplacesActiveSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.conn.On("Subscribe", mock.Anything).Return(1).Once()
	f.conn.On("Subscribe", mock.Anything).Return(2).Once()
	f.conn.On("Connect", mock.Anything, 1, "a").Return(nil).Once()
	f.conn.On("Connect", mock.Anything, 5, "b").Return(nil).Once()
	f.conn.On("Unsubscribe", 1).Once()
	f.conn.On("Close").Once()
	f.audit.On("Emit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.session.Start(ctx, Credentials{UserID: 1, Token: "a"}))
	f.store.IngestLive(models.Message{ID: 1, SenderID: 2, ReceiverID: 1, Content: "old", Timestamp: time.Now()})
	require.NoError(t, f.session.Start(ctx, Credentials{UserID: 5, Token: "b"}))

	assert.Equal(t, 5, f.store.UserID())
	assert.Empty(t, f.store.ListConversations())
	assert.Equal(t, "b", f.creds.Token())
	f.conn.AssertExpectations(t)
}

func TestReconnect(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.session.Reconnect(ctx), ErrNotActive)

	f.conn.On("Subscribe", mock.Anything).Return(1).Once()
	f.conn.On("Connect", mock.Anything, 1, "tok").Return(assert.AnError).Once()
	f.conn.On("Connect", mock.Anything, 1, "tok").Return(nil).Once()
	f.audit.On("Emit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.session.Start(ctx, Credentials{UserID: 1, Token: "tok"}))
	require.NoError(t, f.session.Reconnect(ctx))
	f.conn.AssertExpectations(t)
}

func TestCredentialStore(t *testing.T) {
	var store CredentialStore
	assert.False(t, store.Get().Valid())

	store.Set(Credentials{UserID: 4, Token: "x"})
	assert.Equal(t, 4, store.UserID())
	assert.Equal(t, "x", store.Token())
	assert.True(t, store.Get().Valid())

	store.Clear()
	assert.Empty(t, store.Token())
}
