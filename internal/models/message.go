package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType classifies the payload of a chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageLink  MessageType = "link"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageLink, MessageImage, MessageFile:
		return true
	}
	return false
}

// MessageStatus is the client-side delivery state of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
	StatusDelivered MessageStatus = "delivered"
)

// Message represents a direct message between two users.
type Message struct {
	ID          int64         `db:"id" json:"id,omitempty"`
	LocalID     string        `db:"-" json:"local_id,omitempty"`
	SenderID    int           `db:"sender_id" json:"sender_id"`
	ReceiverID  int           `db:"receiver_id" json:"receiver_id"`
	Content     string        `db:"content" json:"content"`
	FileURL     string        `db:"file_url" json:"file_url,omitempty"`
	MessageType MessageType   `db:"message_type" json:"message_type"`
	Timestamp   time.Time     `db:"timestamp" json:"timestamp"`
	Status      MessageStatus `db:"-" json:"status,omitempty"`
}

// Key returns the identifier the message is deduplicated by.
func (m Message) Key() string {
	if m.ID != 0 {
		return fmt.Sprintf("s:%d", m.ID)
	}
	return "l:" + m.LocalID
}

// PeerOf returns the participant that is not userID.
func (m Message) PeerOf(userID int) (int, bool) {
	switch userID {
	case m.SenderID:
		return m.ReceiverID, true
	case m.ReceiverID:
		return m.SenderID, true
	}
	return 0, false
}

// wireMessage mirrors Message with a loosely typed timestamp.
type wireMessage struct {
	ID          int64         `json:"id,omitempty"`
	LocalID     string        `json:"local_id,omitempty"`
	SenderID    int           `json:"sender_id"`
	ReceiverID  int           `json:"receiver_id"`
	Content     *string       `json:"content"`
	FileURL     *string       `json:"file_url,omitempty"`
	MessageType MessageType   `json:"message_type"`
	Timestamp   string        `json:"timestamp"`
	Status      MessageStatus `json:"status,omitempty"`
}

// UnmarshalJSON accepts RFC3339 and naive ISO timestamps and null text fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := ParseTimestamp(w.Timestamp)
		if err != nil {
			return err
		}
		ts = parsed
	}

	*m = Message{
		ID:          w.ID,
		LocalID:     w.LocalID,
		SenderID:    w.SenderID,
		ReceiverID:  w.ReceiverID,
		MessageType: w.MessageType,
		Timestamp:   ts,
		Status:      w.Status,
	}
	if w.Content != nil {
		m.Content = *w.Content
	}
	if w.FileURL != nil {
		m.FileURL = *w.FileURL
	}
	if m.MessageType == "" {
		m.MessageType = MessageText
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the instant formats produced by the chat backend.
// Values without a zone are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// OutboundMessage is the frame written to the live transport.
// The server infers the sender from the authenticated connection.
type OutboundMessage struct {
	ReceiverID  int         `json:"receiver_id"`
	Content     string      `json:"content"`
	FileURL     string      `json:"file_url,omitempty"`
	MessageType MessageType `json:"message_type"`
}

// ChatEvent is carried over websockets, both from the chat server and to view clients.
type ChatEvent struct {
	Type         string        `json:"type"`
	PeerID       int           `json:"peer_id,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	MessageID    int64         `json:"message_id,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

const (
	EventMessage        = "message"
	EventMessageUpdated = "message_updated"
	EventDeleteForAll   = "delete_for_all"
	EventConversation   = "conversation"
)
