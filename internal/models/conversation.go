package models

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
	"time"
)

// PeerInfo is the display information of the other participant.
type PeerInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Conversation is the client-side state of a chat with one peer.
type Conversation struct {
	Peer            PeerInfo    `json:"peer"`
	Messages        []Message   `json:"messages,omitempty"`
	UnreadCount     int         `json:"unread_count"`
	LastActivityAt  time.Time   `json:"last_activity_at"`
	LastMessage     string      `json:"last_message,omitempty"`
	LastMessageType MessageType `json:"last_message_type,omitempty"`
	IsSenderOfLast  bool        `json:"is_sender_of_last"`
	LoadError       string      `json:"load_error,omitempty"`
}

// ConversationSummary is one entry of the conversation-list endpoint.
type ConversationSummary struct {
	PeerID      int         `db:"peer_id" json:"user_id"`
	Username    string      `db:"username" json:"username"`
	Avatar      string      `db:"avatar" json:"avatar"`
	LastMessage string      `db:"last_message" json:"last_message"`
	FileURL     string      `db:"file_url" json:"file_url"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	Timestamp   time.Time   `db:"timestamp" json:"timestamp"`
	IsSender    bool        `db:"is_sender" json:"is_sender"`
	UnreadCount int         `db:"unread_count" json:"unread_count"`
}

// Draft is a message composed by the user before it is sent.
type Draft struct {
	Content  string `json:"content"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

var (
	linkPattern  = regexp.MustCompile(`(?i)^https?://[^\s/$.?#].[^\s]*$`)
	imagePattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif)$`)
)

// Normalize trims the draft and fills in the content and type of attachments.
func (d Draft) Normalize() (string, MessageType) {
	content := strings.TrimSpace(d.Content)
	if d.FileURL == "" {
		if linkPattern.MatchString(content) {
			return content, MessageLink
		}
		return content, MessageText
	}

	isImage := imagePattern.MatchString(d.FileURL)
	if content == "" {
		switch {
		case isImage:
			content = "Image"
		case d.FileName != "":
			content = d.FileName
		default:
			content = path.Base(d.FileURL)
		}
	}
	if isImage {
		return content, MessageImage
	}
	return content, MessageFile
}

// Empty reports whether there is nothing to send.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Content) == "" && d.FileURL == ""
}

// UnmarshalJSON accepts the naive ISO timestamps the backend emits.
func (s *ConversationSummary) UnmarshalJSON(data []byte) error {
	type alias ConversationSummary
	aux := struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Timestamp = time.Time{}
	if aux.Timestamp != "" {
		ts, err := ParseTimestamp(aux.Timestamp)
		if err != nil {
			return err
		}
		s.Timestamp = ts
	}
	if s.MessageType == "" {
		s.MessageType = MessageText
	}
	return nil
}
