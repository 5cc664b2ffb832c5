package repository

import (
	"context"

	"github.com/fitzone-app/FitZoneBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, is_read)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, conversation_id, sender_id, content, is_read, sent_at
	`

	var message models.ChatMessage
	err := r.db.QueryRow(ctx, query, conversationID, senderID, content).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.IsRead,
		&message.SentAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation returns one page of the ledger in timeline order:
// ascending sent_at, ties broken by id so a timestamp race never reshuffles
// between reads.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, conversation_id, sender_id, content, is_read, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// ListAll returns the full ledger for a conversation in timeline order.
func (r *MessageRepository) ListAll(
	ctx context.Context,
	conversationID int64,
) ([]models.ChatMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, is_read, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkConversationRead flips the unread messages addressed to readerID and
// reports how many rows changed. A second call with nothing unread touches
// zero rows, which lets callers skip the refresh publish.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnreadTotal counts unread messages addressed to the viewer across every
// conversation the viewer participates in. Feeds the inbox badge.
func (r *MessageRepository) UnreadTotal(
	ctx context.Context,
	viewerID int64,
	isAdminViewer bool,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.member_id = $1 OR c.trainer_id = $1 OR (c.is_admin AND $2))
		  AND m.sender_id <> $1
		  AND m.is_read = FALSE
	`

	var total int
	if err := r.db.QueryRow(ctx, query, viewerID, isAdminViewer).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.ChatMessage, error) {
	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.IsRead,
			&message.SentAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
