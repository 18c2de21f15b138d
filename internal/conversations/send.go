package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"campus-chat/internal/logger"
	"campus-chat/internal/models"
	"campus-chat/internal/observability"
	"campus-chat/internal/ws"
)

// Send appends draft to the conversation with peerID as a pending message and
// writes it to the transport. When the transport is not open nothing is
// appended and ws.ErrTransportUnavailable is returned. A failed write leaves
// the message in the failed state so it can be retried.
func (s *Store) Send(ctx context.Context, peerID int, draft models.Draft) (models.Message, error) {
	if draft.Empty() {
		return models.Message{}, ErrEmptyMessage
	}
	if s.UserID() == 0 {
		return models.Message{}, ErrNoSession
	}
	if !s.transport.Ready() {
		logger.Warn().Int("peer_id", peerID).Msg("chat transport not open, message not sent")
		return models.Message{}, ws.ErrTransportUnavailable
	}

	_, span := otel.Tracer("campus-chat/conversations").Start(ctx, "conversations.send")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.peer_id", peerID))

	content, typ := draft.Normalize()

	s.mu.Lock()
	if s.userID == 0 {
		s.mu.Unlock()
		return models.Message{}, ErrNoSession
	}
	msg := models.Message{
		LocalID:     "local-" + uuid.NewString(),
		SenderID:    s.userID,
		ReceiverID:  peerID,
		Content:     content,
		FileURL:     draft.FileURL,
		MessageType: typ,
		Timestamp:   s.opts.Now().UTC(),
		Status:      models.StatusPending,
	}
	conv, _ := s.getOrCreate(peerID)
	before := conv.preview()
	res := s.merge(conv, []models.Message{msg}, sourceSend)
	events := append(res.events(peerID), conversationEvent(conv.view(false)))
	s.mu.Unlock()
	s.emit(events...)

	return s.transmit(peerID, msg, &before)
}

// Retry resends a failed message.
func (s *Store) Retry(ctx context.Context, peerID int, localID string) (models.Message, error) {
	s.mu.RLock()
	if s.userID == 0 {
		s.mu.RUnlock()
		return models.Message{}, ErrNoSession
	}
	var msg models.Message
	found := false
	if conv, ok := s.convs[peerID]; ok {
		if i := indexByLocalID(conv.messages, localID); i >= 0 && conv.messages[i].Status == models.StatusFailed {
			msg, found = conv.messages[i], true
		}
	}
	s.mu.RUnlock()
	if !found {
		return models.Message{}, ErrMessageNotFound
	}
	if !s.transport.Ready() {
		return msg, ws.ErrTransportUnavailable
	}

	_, span := otel.Tracer("campus-chat/conversations").Start(ctx, "conversations.retry")
	defer span.End()

	if updated, ok := s.setStatus(peerID, localID, models.StatusPending); ok {
		msg = updated
	}
	return s.transmit(peerID, msg, nil)
}

// transmit writes msg. restore is set on the first attempt and holds the
// preview to put back if the message never reached the transport.
func (s *Store) transmit(peerID int, msg models.Message, restore *preview) (models.Message, error) {
	err := s.transport.Send(models.OutboundMessage{
		ReceiverID:  msg.ReceiverID,
		Content:     msg.Content,
		FileURL:     msg.FileURL,
		MessageType: msg.MessageType,
	})
	if err == nil {
		return msg, nil
	}

	if restore != nil && errors.Is(err, ws.ErrTransportUnavailable) && s.dropPending(peerID, msg.LocalID, *restore) {
		// The transport closed between the readiness check and the write.
		return models.Message{}, err
	}

	logger.Warn().Err(err).Int("peer_id", peerID).Str("local_id", msg.LocalID).Msg("message send failed")
	if updated, ok := s.setStatus(peerID, msg.LocalID, models.StatusFailed); ok {
		msg = updated
	}
	return msg, fmt.Errorf("send message: %w", err)
}

// setStatus changes the status of a message still waiting for confirmation.
func (s *Store) setStatus(peerID int, localID string, status models.MessageStatus) (models.Message, bool) {
	s.mu.Lock()
	conv, ok := s.convs[peerID]
	if !ok {
		s.mu.Unlock()
		return models.Message{}, false
	}
	i := indexByLocalID(conv.messages, localID)
	if i < 0 || conv.messages[i].Status == models.StatusDelivered || conv.messages[i].Status == status {
		s.mu.Unlock()
		return models.Message{}, false
	}
	conv.messages[i].Status = status
	updated := conv.messages[i]
	s.mu.Unlock()

	s.emit(models.ChatEvent{Type: models.EventMessageUpdated, PeerID: peerID, Message: &updated})
	return updated, true
}

// dropPending removes a pending message that never reached the transport.
func (s *Store) dropPending(peerID int, localID string, restore preview) bool {
	s.mu.Lock()
	conv, ok := s.convs[peerID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := indexByLocalID(conv.messages, localID)
	if i < 0 || conv.messages[i].Status != models.StatusPending || conv.messages[i].ID != 0 {
		s.mu.Unlock()
		return false
	}
	conv.messages = append(conv.messages[:i], conv.messages[i+1:]...)
	conv.restorePreview(restore)
	view := conv.view(false)
	s.mu.Unlock()

	observability.IncMerge(sourceSend, "dropped")
	s.emit(conversationEvent(view))
	return true
}
