package refresh

import (
	"context"
	"sync"
	"time"

	"campus-chat/internal/logger"
)

// Conversations refreshes the conversation list and per-peer history.
type Conversations interface {
	RefreshConversations(ctx context.Context) error
	LoadHistory(ctx context.Context, peerID int) error
}

// Windows lists the peers whose history is kept fresh.
type Windows interface {
	OpenPeerIDs() []int
}

// Poller periodically refreshes the conversation list and the history of every
// open window. Failures are logged and retried on the next tick.
type Poller struct {
	convs           Conversations
	windows         Windows
	listInterval    time.Duration
	historyInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller constructs a Poller.
func NewPoller(convs Conversations, windows Windows, listInterval, historyInterval time.Duration) *Poller {
	return &Poller{
		convs:           convs,
		windows:         windows,
		listInterval:    listInterval,
		historyInterval: historyInterval,
	}
}

// Start launches the refresh loops. Starting a running poller restarts it.
func (p *Poller) Start(ctx context.Context) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.loop(ctx, p.listInterval, p.refreshList)
	go p.loop(ctx, p.historyInterval, p.refreshHistory)
}

// Stop cancels the loops and waits for in-flight fetches to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer p.wg.Done()

	tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (p *Poller) refreshList(ctx context.Context) {
	if err := p.convs.RefreshConversations(ctx); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("conversation list refresh failed")
	}
}

// refreshHistory fetches every open window concurrently and waits for all of
// them, so a slow peer never overlaps with its own next tick.
func (p *Poller) refreshHistory(ctx context.Context) {
	peers := p.windows.OpenPeerIDs()
	if len(peers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, peerID := range peers {
		wg.Add(1)
		go func(peerID int) {
			defer wg.Done()
			if err := p.convs.LoadHistory(ctx, peerID); err != nil && ctx.Err() == nil {
				logger.Debug().Err(err).Int("peer_id", peerID).Msg("history refresh failed")
			}
		}(peerID)
	}
	wg.Wait()
}
