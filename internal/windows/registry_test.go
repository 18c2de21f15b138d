package windows

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-chat/internal/conversations"
	"campus-chat/internal/mocks"
	"campus-chat/internal/models"
)

const (
	me   = 1
	peer = 2
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *conversations.Store, *mocks.HistorySourceMock) {
	t.Helper()
	history := new(mocks.HistorySourceMock)
	store := conversations.NewStore(history, new(mocks.SummarySourceMock), new(mocks.TransportMock), nil, conversations.Options{})
	store.Init(me)
	return NewRegistry(store), store, history
}

func live(id int64, content string, ts time.Time) models.Message {
	return models.Message{ID: id, SenderID: peer, ReceiverID: me, Content: content, MessageType: models.MessageText, Timestamp: ts}
}

func TestOpenTwiceKeepsOneWindow(t *testing.T) {
	registry, _, history := newRegistry(t)
	history.On("History", mock.Anything, me, peer).Return([]models.Message{}, nil).Once()

	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: peer, Username: "bob"}))
	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: peer, Username: "bob"}))

	windows := registry.Windows()
	require.Len(t, windows, 1)
	assert.Equal(t, "bob", windows[0].Username)
	history.AssertNumberOfCalls(t, "History", 1)
}

func TestOpenMergesHistoryAndClearsUnread(t *testing.T) {
	registry, store, history := newRegistry(t)

	for i := 1; i <= 3; i++ {
		store.IngestLive(live(int64(10+i), "live", t0.Add(time.Duration(i)*time.Minute)))
	}
	conv, _ := store.Conversation(peer)
	require.Equal(t, 3, conv.UnreadCount)

	history.On("History", mock.Anything, me, peer).Return([]models.Message{
		live(1, "older", t0),
		live(11, "live", t0.Add(time.Minute)),
		live(12, "live", t0.Add(2*time.Minute)),
	}, nil).Once()

	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: peer}))

	conv, _ = store.Conversation(peer)
	assert.Equal(t, 0, conv.UnreadCount)
	require.Len(t, conv.Messages, 4)
	got := make([]int64, 0, 4)
	for _, m := range conv.Messages {
		got = append(got, m.ID)
	}
	assert.Equal(t, []int64{1, 11, 12, 13}, got)
}

func TestReopenKeepsCachedMessages(t *testing.T) {
	registry, store, history := newRegistry(t)
	ctx := context.Background()

	history.On("History", mock.Anything, me, peer).Return([]models.Message{live(1, "a", t0), live(2, "b", t0.Add(time.Second))}, nil).Once()
	require.NoError(t, registry.Open(ctx, models.PeerInfo{ID: peer}))
	require.True(t, registry.Close(peer))
	assert.False(t, registry.IsOpen(peer))
	assert.Len(t, store.Messages(peer), 2)

	history.On("History", mock.Anything, me, peer).Return([]models.Message{live(1, "a", t0), live(2, "b", t0.Add(time.Second)), live(3, "c", t0.Add(2*time.Second))}, nil).Once()
	require.NoError(t, registry.Open(ctx, models.PeerInfo{ID: peer}))

	assert.Len(t, store.Messages(peer), 3)
	history.AssertExpectations(t)
}

func TestOpenHistoryFailureKeepsWindowOpen(t *testing.T) {
	registry, store, history := newRegistry(t)
	store.IngestLive(live(1, "cached", t0))
	history.On("History", mock.Anything, me, peer).Return(nil, assert.AnError).Once()

	err := registry.Open(context.Background(), models.PeerInfo{ID: peer})

	require.ErrorIs(t, err, conversations.ErrHistoryFetchFailed)
	assert.True(t, registry.IsOpen(peer))
	assert.Len(t, store.Messages(peer), 1)
}

func TestCloseDuringLoadDoesNotReopen(t *testing.T) {
	registry, store, history := newRegistry(t)

	history.On("History", mock.Anything, me, peer).
		Run(func(mock.Arguments) { registry.Close(peer) }).
		Return([]models.Message{live(1, "late", t0)}, nil).Once()

	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: peer}))

	assert.False(t, registry.IsOpen(peer))
	assert.Len(t, store.Messages(peer), 1)

	// Closed windows count unread again.
	store.IngestLive(live(2, "new", t0.Add(time.Second)))
	conv, _ := store.Conversation(peer)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestFocusMarksRead(t *testing.T) {
	registry, store, history := newRegistry(t)
	history.On("History", mock.Anything, me, peer).Return([]models.Message{}, nil).Once()

	assert.False(t, registry.Focus(peer))
	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: peer}))
	assert.True(t, registry.Focus(peer))

	conv, _ := store.Conversation(peer)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestResetAllClosesEverything(t *testing.T) {
	registry, _, history := newRegistry(t)
	history.On("History", mock.Anything, me, mock.Anything).Return([]models.Message{}, nil)

	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: 2}))
	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: 5}))
	require.NoError(t, registry.Open(context.Background(), models.PeerInfo{ID: 3}))
	assert.Equal(t, []int{2, 5, 3}, registry.OpenPeerIDs())

	registry.ResetAll()

	assert.Empty(t, registry.Windows())
	assert.False(t, registry.IsOpen(5))
	assert.False(t, registry.Close(5))
}

func TestOpenWithoutSession(t *testing.T) {
	registry, store, _ := newRegistry(t)
	store.Teardown()

	err := registry.Open(context.Background(), models.PeerInfo{ID: peer})

	require.ErrorIs(t, err, conversations.ErrNoSession)
	assert.False(t, registry.IsOpen(peer))
}
