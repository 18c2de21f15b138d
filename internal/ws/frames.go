package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campus-chat/internal/models"
)

var ErrMalformedFrame = errors.New("malformed frame")

type frameEnvelope struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message"`
	MessageID int64           `json:"message_id"`
}

// decodeFrame turns an inbound frame into a ChatEvent. A frame is either a bare
// message object or a typed envelope.
func decodeFrame(data []byte, now time.Time) (models.ChatEvent, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.ChatEvent{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case "":
		msg, err := decodeMessage(data, now)
		if err != nil {
			return models.ChatEvent{}, err
		}
		return models.ChatEvent{Type: models.EventMessage, Message: &msg}, nil
	case models.EventMessage:
		if len(env.Message) == 0 {
			return models.ChatEvent{}, fmt.Errorf("%w: message event without message", ErrMalformedFrame)
		}
		msg, err := decodeMessage(env.Message, now)
		if err != nil {
			return models.ChatEvent{}, err
		}
		return models.ChatEvent{Type: models.EventMessage, Message: &msg}, nil
	case models.EventDeleteForAll:
		if env.MessageID <= 0 {
			return models.ChatEvent{}, fmt.Errorf("%w: delete without message id", ErrMalformedFrame)
		}
		return models.ChatEvent{Type: models.EventDeleteForAll, MessageID: env.MessageID}, nil
	default:
		return models.ChatEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedFrame, env.Type)
	}
}

func decodeMessage(raw []byte, now time.Time) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.SenderID == 0 || msg.ReceiverID == 0 {
		return models.Message{}, fmt.Errorf("%w: missing participants", ErrMalformedFrame)
	}
	if !msg.MessageType.Valid() {
		return models.Message{}, fmt.Errorf("%w: unknown message type %q", ErrMalformedFrame, msg.MessageType)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now.UTC()
	}
	msg.LocalID = ""
	msg.Status = models.StatusDelivered
	return msg, nil
}
