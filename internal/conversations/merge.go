package conversations

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"campus-chat/internal/models"
	"campus-chat/internal/observability"
)

const (
	sourceLive    = "live"
	sourceHistory = "history"
	sourceSend    = "send"
)

type mergeResult struct {
	added   []models.Message
	updated []models.Message
}

func (r mergeResult) changed() bool {
	return len(r.added) > 0 || len(r.updated) > 0
}

func (r mergeResult) events(peerID int) []models.ChatEvent {
	events := make([]models.ChatEvent, 0, len(r.added)+len(r.updated)+1)
	for i := range r.added {
		m := r.added[i]
		events = append(events, models.ChatEvent{Type: models.EventMessage, PeerID: peerID, Message: &m})
	}
	for i := range r.updated {
		m := r.updated[i]
		events = append(events, models.ChatEvent{Type: models.EventMessageUpdated, PeerID: peerID, Message: &m})
	}
	return events
}

// merge folds incoming into conv. Live frames and history responses go through
// the same rules:
//   - a server id already present is a duplicate; history refreshes its content
//     but keeps the displayed timestamp
//   - a server message adopts the nearest id-less entry with the same sender,
//     receiver, content and file within the match window
//   - an id-less message confirms one of our own pending or failed sends, or
//     else the nearest server entry not yet seen on the live transport
//
// Each displayed message pairs with at most one live frame. Messages end up
// ordered by timestamp with ties kept in arrival order.
func (s *Store) merge(conv *conversation, incoming []models.Message, source string) mergeResult {
	var res mergeResult

	for _, m := range incoming {
		switch {
		case source == sourceSend:
			// Optimistic sends always get their own entry.
		case m.ID > 0:
			if i := indexByID(conv.messages, m.ID); i >= 0 {
				if source == sourceLive {
					conv.markLive(conv.messages[i])
				}
				if source == sourceHistory && refreshContent(&conv.messages[i], m) {
					res.updated = append(res.updated, conv.messages[i])
					observability.IncMerge(source, "updated")
					continue
				}
				observability.IncMerge(source, "duplicate")
				continue
			}
			if i := s.nearestMatch(conv, m, false); i >= 0 {
				existing := &conv.messages[i]
				seen := conv.seenLive(*existing)
				delete(conv.liveSeen, existing.Key())
				existing.ID = m.ID
				existing.Status = models.StatusDelivered
				if seen || source == sourceLive {
					conv.markLive(*existing)
				}
				res.updated = append(res.updated, *existing)
				observability.IncMerge(source, "matched")
				continue
			}
		default:
			if i := s.nearestMatch(conv, m, true); i >= 0 {
				existing := &conv.messages[i]
				existing.Status = models.StatusDelivered
				if source == sourceLive {
					conv.markLive(*existing)
				}
				res.updated = append(res.updated, *existing)
				observability.IncMerge(source, "matched")
				continue
			}
			if source == sourceLive {
				if i := s.nearestUnseen(conv, m); i >= 0 {
					existing := &conv.messages[i]
					conv.markLive(*existing)
					if existing.Status != models.StatusDelivered {
						existing.Status = models.StatusDelivered
						res.updated = append(res.updated, *existing)
					}
					observability.IncMerge(source, "matched")
					continue
				}
			}
			if hasExactDuplicate(conv.messages, m) {
				observability.IncMerge(source, "duplicate")
				continue
			}
			if m.LocalID == "" {
				m.LocalID = liveID(conv.messages, m.Timestamp)
			}
		}

		conv.messages = append(conv.messages, m)
		if source == sourceLive {
			conv.markLive(m)
		}
		res.added = append(res.added, m)
		observability.IncMerge(source, "added")
	}

	if res.changed() {
		sort.SliceStable(conv.messages, func(i, j int) bool {
			return conv.messages[i].Timestamp.Before(conv.messages[j].Timestamp)
		})
		if n := len(conv.messages); n > 0 && !conv.messages[n-1].Timestamp.Before(conv.lastActivity) {
			conv.refreshPreview()
		}
	}
	return res
}

// nearestMatch finds the id-less entry closest in time to m with the same
// sender, receiver, content and file. With ownPendingOnly set, only pending or
// failed sends of the current user qualify.
func (s *Store) nearestMatch(conv *conversation, m models.Message, ownPendingOnly bool) int {
	return s.nearest(conv.messages, m, func(existing models.Message) bool {
		if existing.ID != 0 {
			return false
		}
		if !ownPendingOnly {
			return true
		}
		return existing.SenderID == s.userID &&
			(existing.Status == models.StatusPending || existing.Status == models.StatusFailed)
	})
}

// nearestUnseen finds the server entry an id-less live frame repeats: same
// participants, content and file, within the match window, and not yet paired
// with a live frame.
func (s *Store) nearestUnseen(conv *conversation, m models.Message) int {
	return s.nearest(conv.messages, m, func(existing models.Message) bool {
		return existing.ID != 0 && !conv.seenLive(existing)
	})
}

func (s *Store) nearest(messages []models.Message, m models.Message, eligible func(models.Message) bool) int {
	best := -1
	var bestDelta time.Duration
	for i, existing := range messages {
		if !sameContent(existing, m) || !eligible(existing) {
			continue
		}
		delta := absDuration(existing.Timestamp.Sub(m.Timestamp))
		if delta > s.opts.MatchWindow {
			continue
		}
		if best < 0 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

func sameContent(a, b models.Message) bool {
	return a.SenderID == b.SenderID &&
		a.ReceiverID == b.ReceiverID &&
		a.Content == b.Content &&
		a.FileURL == b.FileURL
}

func hasExactDuplicate(messages []models.Message, m models.Message) bool {
	for _, existing := range messages {
		if existing.ID == 0 && sameContent(existing, m) && existing.Timestamp.Equal(m.Timestamp) {
			return true
		}
	}
	return false
}

func indexByID(messages []models.Message, id int64) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func indexByLocalID(messages []models.Message, localID string) int {
	for i, m := range messages {
		if m.LocalID == localID {
			return i
		}
	}
	return -1
}

// refreshContent copies the canonical fields of a history message onto an
// already displayed one. The displayed timestamp stays.
func refreshContent(dst *models.Message, src models.Message) bool {
	changed := dst.Content != src.Content || dst.FileURL != src.FileURL ||
		dst.MessageType != src.MessageType || dst.Status != models.StatusDelivered
	dst.Content = src.Content
	dst.FileURL = src.FileURL
	dst.MessageType = src.MessageType
	dst.Status = models.StatusDelivered
	return changed
}

func liveID(messages []models.Message, ts time.Time) string {
	base := "live-" + strconv.FormatInt(ts.UnixNano(), 10)
	id := base
	for n := 1; indexByLocalID(messages, id) >= 0; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
