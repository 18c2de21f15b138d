package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"campus-chat/internal/models"
)

// MessageRepo reads history and summaries straight from the chat database.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// History returns ordered messages exchanged between userID and peerID.
func (r *MessageRepo) History(ctx context.Context, userID int, peerID int) ([]models.Message, error) {
	query := `SELECT id, sender_id, receiver_id, COALESCE(content, '') AS content,
        COALESCE(file_url, '') AS file_url, COALESCE(message_type, 'text') AS message_type, timestamp
        FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY timestamp ASC, id ASC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, userID, peerID); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Timestamp = msgs[i].Timestamp.UTC()
		msgs[i].Status = models.StatusDelivered
	}
	return msgs, nil
}

// Conversations returns the latest message and unread count per peer of userID.
func (r *MessageRepo) Conversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT DISTINCT ON (m.peer_id)
            m.peer_id,
            u.username,
            COALESCE(u.avatar, '') AS avatar,
            COALESCE(m.content, '') AS last_message,
            COALESCE(m.file_url, '') AS file_url,
            COALESCE(m.message_type, 'text') AS message_type,
            m.timestamp,
            m.sender_id = $1 AS is_sender,
            (SELECT COUNT(*) FROM messages um
                WHERE um.sender_id = m.peer_id AND um.receiver_id = $1 AND um.is_read = FALSE) AS unread_count
        FROM (
            SELECT *, CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS peer_id
            FROM messages
            WHERE sender_id=$1 OR receiver_id=$1
        ) m
        JOIN users u ON u.id = m.peer_id
        ORDER BY m.peer_id, m.timestamp DESC`
	var list []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Timestamp = list[i].Timestamp.UTC()
	}
	return list, nil
}

// MarkRead flags every unread message peerID sent to userID as read.
func (r *MessageRepo) MarkRead(ctx context.Context, userID int, peerID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		peerID, userID)
	return err
}

var (
	_ HistorySource = (*MessageRepo)(nil)
	_ SummarySource = (*MessageRepo)(nil)
	_ ReadMarker    = (*MessageRepo)(nil)
)
