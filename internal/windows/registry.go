package windows

import (
	"context"
	"sync"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
)

// Conversations is the part of the conversation store the registry drives.
type Conversations interface {
	EnsureConversation(peer models.PeerInfo) (models.Conversation, error)
	SetFocused(peerID int, focused bool)
	MarkRead(peerID int)
	LoadHistory(ctx context.Context, peerID int) error
}

// Registry tracks the open chat windows, at most one per peer.
type Registry struct {
	convs Conversations

	mu    sync.RWMutex
	open  map[int]models.PeerInfo
	order []int
}

// NewRegistry constructs an empty Registry.
func NewRegistry(convs Conversations) *Registry {
	return &Registry{convs: convs, open: make(map[int]models.PeerInfo)}
}

// Open shows the window of peer. Opening an already open window only marks the
// conversation read. A failed history load is returned but the window stays
// open with its cached messages.
func (r *Registry) Open(ctx context.Context, peer models.PeerInfo) error {
	r.mu.Lock()
	if _, ok := r.open[peer.ID]; ok {
		r.mu.Unlock()
		r.convs.MarkRead(peer.ID)
		return nil
	}
	if _, err := r.convs.EnsureConversation(peer); err != nil {
		r.mu.Unlock()
		return err
	}
	r.open[peer.ID] = peer
	r.order = append(r.order, peer.ID)
	r.convs.SetFocused(peer.ID, true)
	r.mu.Unlock()

	logger.Debug().Int("peer_id", peer.ID).Msg("chat window opened")

	return r.convs.LoadHistory(ctx, peer.ID)
}

// Close removes the window of peerID. Cached messages stay in the store.
func (r *Registry) Close(peerID int) bool {
	r.mu.Lock()
	if _, ok := r.open[peerID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.open, peerID)
	for i, id := range r.order {
		if id == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.convs.SetFocused(peerID, false)
	r.mu.Unlock()
	return true
}

// Focus brings an open window to the front and marks it read.
func (r *Registry) Focus(peerID int) bool {
	if !r.IsOpen(peerID) {
		return false
	}
	r.convs.MarkRead(peerID)
	return true
}

// ResetAll closes every window.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, peerID := range r.order {
		r.convs.SetFocused(peerID, false)
	}
	r.open = make(map[int]models.PeerInfo)
	r.order = nil
}

// IsOpen reports whether the window of peerID is open.
func (r *Registry) IsOpen(peerID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.open[peerID]
	return ok
}

// Windows returns the open peers in opening order.
func (r *Registry) Windows() []models.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PeerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.open[id])
	}
	return out
}

// OpenPeerIDs returns the ids of the open windows in opening order.
func (r *Registry) OpenPeerIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}
