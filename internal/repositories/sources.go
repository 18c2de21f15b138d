package repositories

import (
	"context"
	"errors"

	"campus-chat/internal/models"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// HistorySource returns the persisted messages between a user and a peer,
// ordered by timestamp.
type HistorySource interface {
	History(ctx context.Context, userID int, peerID int) ([]models.Message, error)
}

// SummarySource returns one summary per conversation of a user.
type SummarySource interface {
	Conversations(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ReadMarker records that userID has read every message peerID sent them.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID int, peerID int) error
}
