package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConversations struct {
	listCalls atomic.Int32
	listErr   error

	mu      sync.Mutex
	history map[int]int
}

func (c *countingConversations) RefreshConversations(ctx context.Context) error {
	c.listCalls.Add(1)
	return c.listErr
}

func (c *countingConversations) LoadHistory(ctx context.Context, peerID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.history == nil {
		c.history = make(map[int]int)
	}
	c.history[peerID]++
	return nil
}

func (c *countingConversations) historyCalls(peerID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[peerID]
}

type staticWindows []int

func (w staticWindows) OpenPeerIDs() []int { return w }

func TestPollerRefreshesListAndOpenWindows(t *testing.T) {
	convs := &countingConversations{}
	poller := NewPoller(convs, staticWindows{2, 3}, 10*time.Millisecond, 10*time.Millisecond)

	poller.Start(context.Background())
	t.Cleanup(poller.Stop)

	require.Eventually(t, func() bool {
		return convs.listCalls.Load() >= 3 && convs.historyCalls(2) >= 3 && convs.historyCalls(3) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, convs.historyCalls(4))
}

func TestPollerKeepsRunningAfterErrors(t *testing.T) {
	convs := &countingConversations{listErr: assert.AnError}
	poller := NewPoller(convs, staticWindows{}, 10*time.Millisecond, 10*time.Millisecond)

	poller.Start(context.Background())
	t.Cleanup(poller.Stop)

	require.Eventually(t, func() bool { return convs.listCalls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestPollerStopHaltsTicks(t *testing.T) {
	convs := &countingConversations{}
	poller := NewPoller(convs, staticWindows{2}, 5*time.Millisecond, 5*time.Millisecond)

	poller.Start(context.Background())
	require.Eventually(t, func() bool { return convs.listCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	poller.Stop()

	calls := convs.listCalls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, convs.listCalls.Load())

	// Stopping twice is harmless.
	poller.Stop()
}
