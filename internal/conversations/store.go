package conversations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/repositories"
)

var (
	ErrNoSession          = errors.New("no active chat session")
	ErrHistoryFetchFailed = errors.New("history fetch failed")
	ErrListFetchFailed    = errors.New("conversation list fetch failed")
	ErrMessageNotFound    = errors.New("message not found")
	ErrEmptyMessage       = errors.New("message is empty")
)

const (
	DefaultMatchWindow = 10 * time.Second
	readSyncTimeout    = 5 * time.Second
)

// Transport is the live connection messages are written to.
type Transport interface {
	Ready() bool
	Send(msg models.OutboundMessage) error
}

// Notifier receives every change of the store.
type Notifier interface {
	Notify(ev models.ChatEvent)
}

// Options tune the store. Zero values fall back to defaults.
type Options struct {
	// MatchWindow bounds the timestamp distance at which an id-less message is
	// considered the same as a server message.
	MatchWindow time.Duration
	Now         func() time.Time
}

type conversation struct {
	peer           models.PeerInfo
	messages       []models.Message
	unread         int
	lastActivity   time.Time
	readAt         time.Time
	focused        bool
	historySeq     uint64
	historyApplied uint64
	loadErr        error
	// liveSeen holds the keys of messages already delivered by the live transport.
	liveSeen map[string]bool

	lastMessage     string
	lastMessageType models.MessageType
	isSenderOfLast  bool
}

// Store is the single source of truth for conversation state of one session.
type Store struct {
	history   repositories.HistorySource
	summaries repositories.SummarySource
	reads     repositories.ReadMarker
	transport Transport
	notifier  Notifier
	opts      Options

	mu          sync.RWMutex
	userID      int
	epoch       uint64
	convs       map[int]*conversation
	listSeq     uint64
	listApplied uint64
	listErr     error
}

// NewStore constructs a Store. notifier may be nil. When history also
// implements repositories.ReadMarker, local reads are recorded on it.
func NewStore(history repositories.HistorySource, summaries repositories.SummarySource, transport Transport, notifier Notifier, opts Options) *Store {
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = DefaultMatchWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	reads, _ := history.(repositories.ReadMarker)
	return &Store{
		reads:     reads,
		history:   history,
		summaries: summaries,
		transport: transport,
		notifier:  notifier,
		opts:      opts,
		convs:     make(map[int]*conversation),
	}
}

// Init starts a session for userID, discarding any previous state.
func (s *Store) Init(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.userID = userID
	s.convs = make(map[int]*conversation)
	s.listErr = nil
}

// Teardown drops every conversation. Fetches still in flight are ignored when
// they complete.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.userID = 0
	s.convs = make(map[int]*conversation)
	s.listErr = nil
}

// UserID returns the user of the current session, 0 when none.
func (s *Store) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// EnsureConversation returns the conversation with peer, creating it if needed.
// Non-empty display fields of peer replace the known ones.
func (s *Store) EnsureConversation(peer models.PeerInfo) (models.Conversation, error) {
	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return models.Conversation{}, ErrNoSession
	}
	conv, created := s.getOrCreate(peer.ID)
	changed := conv.updatePeer(peer) || created
	view := conv.view(false)
	s.mu.Unlock()

	if changed {
		s.emit(conversationEvent(view))
	}
	return view, nil
}

// SetFocused records whether the window of peerID is open. Focusing clears
// the unread count.
func (s *Store) SetFocused(peerID int, focused bool) {
	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return
	}
	conv, _ := s.getOrCreate(peerID)
	conv.focused = focused
	changed := false
	if focused {
		changed = s.markReadLocked(conv)
	}
	view, userID := conv.view(false), s.userID
	s.mu.Unlock()

	if focused {
		s.syncRead(userID, peerID)
	}
	if changed {
		s.emit(conversationEvent(view))
	}
}

// MarkRead resets the unread count of peerID and records the local read time.
func (s *Store) MarkRead(peerID int) {
	s.mu.Lock()
	conv, ok := s.convs[peerID]
	if !ok || s.userID == 0 {
		s.mu.Unlock()
		return
	}
	changed := s.markReadLocked(conv)
	view, userID := conv.view(false), s.userID
	s.mu.Unlock()

	s.syncRead(userID, peerID)
	if changed {
		s.emit(conversationEvent(view))
	}
}

// syncRead records the read on the source in the background so later
// summaries stop counting the messages.
func (s *Store) syncRead(userID, peerID int) {
	if s.reads == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), readSyncTimeout)
		defer cancel()
		if err := s.reads.MarkRead(ctx, userID, peerID); err != nil {
			observability.IncFetchError("read")
			logger.Warn().Err(err).Int("peer_id", peerID).Msg("mark read on source failed")
		}
	}()
}

func (s *Store) markReadLocked(conv *conversation) bool {
	conv.readAt = s.opts.Now()
	if conv.unread == 0 {
		return false
	}
	conv.unread = 0
	return true
}

// LoadHistory fetches the history with peerID and merges it. A response that
// was overtaken by a newer request, or by the end of the session, is dropped.
func (s *Store) LoadHistory(ctx context.Context, peerID int) error {
	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return ErrNoSession
	}
	conv, _ := s.getOrCreate(peerID)
	conv.historySeq++
	seq, epoch, userID := conv.historySeq, s.epoch, s.userID
	s.mu.Unlock()

	ctx, span := otel.Tracer("campus-chat/conversations").Start(ctx, "conversations.load_history")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.peer_id", peerID))

	msgs, err := s.history.History(ctx, userID, peerID)

	s.mu.Lock()
	conv, ok := s.convs[peerID]
	if epoch != s.epoch || !ok || seq <= conv.historyApplied {
		s.mu.Unlock()
		observability.IncStaleResponse("history")
		return nil
	}
	conv.historyApplied = seq

	if err != nil {
		conv.loadErr = err
		view := conv.view(false)
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "history fetch failed")
		observability.IncFetchError("history")
		logger.Warn().Err(err).Int("peer_id", peerID).Msg("history fetch failed")
		s.emit(conversationEvent(view))
		return fmt.Errorf("%w: peer %d: %w", ErrHistoryFetchFailed, peerID, err)
	}

	hadError := conv.loadErr != nil
	conv.loadErr = nil
	own := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if p, ok := m.PeerOf(userID); ok && p == peerID {
			m.Status = models.StatusDelivered
			m.LocalID = ""
			own = append(own, m)
		}
	}
	res := s.merge(conv, own, sourceHistory)
	events := res.events(peerID)
	if res.changed() || hadError {
		events = append(events, conversationEvent(conv.view(false)))
	}
	s.mu.Unlock()

	s.emit(events...)
	return nil
}

// IngestLive merges a message received on the live transport.
func (s *Store) IngestLive(msg models.Message) {
	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return
	}
	peerID, ok := msg.PeerOf(s.userID)
	if !ok {
		s.mu.Unlock()
		logger.Debug().Int("sender_id", msg.SenderID).Int("receiver_id", msg.ReceiverID).Msg("ignoring message for another user")
		return
	}
	conv, _ := s.getOrCreate(peerID)
	msg.Status = models.StatusDelivered
	res := s.merge(conv, []models.Message{msg}, sourceLive)
	if peerID != s.userID && !conv.focused {
		for _, m := range res.added {
			if m.SenderID == peerID {
				conv.unread++
			}
		}
	}
	events := res.events(peerID)
	if res.changed() {
		events = append(events, conversationEvent(conv.view(false)))
	}
	s.mu.Unlock()

	s.emit(events...)
}

// HandleEvent applies an event decoded from the live transport.
func (s *Store) HandleEvent(ev models.ChatEvent) {
	switch ev.Type {
	case models.EventMessage:
		if ev.Message != nil {
			s.IngestLive(*ev.Message)
		}
	case models.EventDeleteForAll:
		s.RemoveMessage(ev.MessageID)
	default:
		logger.Debug().Str("type", ev.Type).Msg("ignoring chat event")
	}
}

// RemoveMessage deletes the message with the given server id everywhere.
func (s *Store) RemoveMessage(id int64) bool {
	if id <= 0 {
		return false
	}
	s.mu.Lock()
	for peerID, conv := range s.convs {
		for i, m := range conv.messages {
			if m.ID != id {
				continue
			}
			conv.messages = append(conv.messages[:i], conv.messages[i+1:]...)
			conv.refreshPreview()
			view := conv.view(false)
			s.mu.Unlock()

			s.emit(
				models.ChatEvent{Type: models.EventDeleteForAll, PeerID: peerID, MessageID: id},
				conversationEvent(view),
			)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// RefreshConversations fetches the conversation summaries and applies them.
// A server unread count is taken only when the conversation has activity newer
// than the last local read.
func (s *Store) RefreshConversations(ctx context.Context) error {
	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.listSeq++
	seq, epoch, userID := s.listSeq, s.epoch, s.userID
	s.mu.Unlock()

	ctx, span := otel.Tracer("campus-chat/conversations").Start(ctx, "conversations.refresh_list")
	defer span.End()

	summaries, err := s.summaries.Conversations(ctx, userID)

	s.mu.Lock()
	if epoch != s.epoch || seq <= s.listApplied {
		s.mu.Unlock()
		observability.IncStaleResponse("list")
		return nil
	}
	s.listApplied = seq

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrListFetchFailed, err)
		s.listErr = err
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "list fetch failed")
		observability.IncFetchError("list")
		return err
	}
	s.listErr = nil

	var events []models.ChatEvent
	for _, sum := range summaries {
		if sum.PeerID == 0 {
			continue
		}
		conv, created := s.getOrCreate(sum.PeerID)
		if conv.applySummary(sum) || created {
			events = append(events, conversationEvent(conv.view(false)))
		}
	}
	s.mu.Unlock()

	s.emit(events...)
	return nil
}

// Conversation returns the conversation with peerID including its messages.
func (s *Store) Conversation(peerID int) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[peerID]
	if !ok {
		return models.Conversation{}, false
	}
	return conv.view(true), true
}

// Messages returns the ordered messages of peerID.
func (s *Store) Messages(peerID int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[peerID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// ListConversations returns every conversation without messages, most recent
// activity first.
func (s *Store) ListConversations() []models.Conversation {
	s.mu.RLock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, conv.view(false))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].Peer.ID < out[j].Peer.ID
	})
	return out
}

// LastListError returns the error of the last applied list refresh.
func (s *Store) LastListError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listErr
}

func (s *Store) getOrCreate(peerID int) (*conversation, bool) {
	if conv, ok := s.convs[peerID]; ok {
		return conv, false
	}
	conv := &conversation{peer: models.PeerInfo{ID: peerID}, liveSeen: make(map[string]bool)}
	s.convs[peerID] = conv
	return conv, true
}

func (s *Store) emit(events ...models.ChatEvent) {
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		s.notifier.Notify(ev)
	}
}

func conversationEvent(view models.Conversation) models.ChatEvent {
	return models.ChatEvent{Type: models.EventConversation, PeerID: view.Peer.ID, Conversation: &view}
}

func (c *conversation) markLive(m models.Message) {
	c.liveSeen[m.Key()] = true
}

func (c *conversation) seenLive(m models.Message) bool {
	return c.liveSeen[m.Key()]
}

func (c *conversation) updatePeer(peer models.PeerInfo) bool {
	changed := false
	if peer.Username != "" && peer.Username != c.peer.Username {
		c.peer.Username = peer.Username
		changed = true
	}
	if peer.Avatar != "" && peer.Avatar != c.peer.Avatar {
		c.peer.Avatar = peer.Avatar
		changed = true
	}
	return changed
}

func (c *conversation) applySummary(sum models.ConversationSummary) bool {
	changed := c.updatePeer(models.PeerInfo{ID: sum.PeerID, Username: sum.Username, Avatar: sum.Avatar})

	unread := c.unread
	switch {
	case c.focused:
		unread = 0
	case sum.Timestamp.After(c.readAt):
		unread = sum.UnreadCount
	}
	if unread < 0 {
		unread = 0
	}
	if unread != c.unread {
		c.unread = unread
		changed = true
	}

	if !sum.Timestamp.IsZero() && !sum.Timestamp.Before(c.lastActivity) {
		preview := sum.LastMessage
		if preview == "" && sum.FileURL != "" {
			preview = sum.FileURL
		}
		if !sum.Timestamp.Equal(c.lastActivity) || preview != c.lastMessage || sum.MessageType != c.lastMessageType || sum.IsSender != c.isSenderOfLast {
			changed = true
		}
		c.lastActivity = sum.Timestamp
		c.lastMessage = preview
		c.lastMessageType = sum.MessageType
		c.isSenderOfLast = sum.IsSender
	}
	return changed
}

// refreshPreview derives the preview from the newest message.
func (c *conversation) refreshPreview() {
	if len(c.messages) == 0 {
		return
	}
	last := c.messages[len(c.messages)-1]
	c.lastMessage = last.Content
	c.lastMessageType = last.MessageType
	c.isSenderOfLast = last.SenderID != c.peer.ID || last.ReceiverID == last.SenderID
	if last.Timestamp.After(c.lastActivity) {
		c.lastActivity = last.Timestamp
	}
}

type preview struct {
	lastActivity    time.Time
	lastMessage     string
	lastMessageType models.MessageType
	isSenderOfLast  bool
}

func (c *conversation) preview() preview {
	return preview{c.lastActivity, c.lastMessage, c.lastMessageType, c.isSenderOfLast}
}

func (c *conversation) restorePreview(p preview) {
	c.lastActivity = p.lastActivity
	c.lastMessage = p.lastMessage
	c.lastMessageType = p.lastMessageType
	c.isSenderOfLast = p.isSenderOfLast
}

func (c *conversation) view(withMessages bool) models.Conversation {
	v := models.Conversation{
		Peer:            c.peer,
		UnreadCount:     c.unread,
		LastActivityAt:  c.lastActivity,
		LastMessage:     c.lastMessage,
		LastMessageType: c.lastMessageType,
		IsSenderOfLast:  c.isSenderOfLast,
	}
	if c.loadErr != nil {
		v.LoadError = c.loadErr.Error()
	}
	if withMessages {
		v.Messages = make([]models.Message, len(c.messages))
		copy(v.Messages, c.messages)
	}
	return v
}
