package repository

import (
	"context"
	"database/sql"

	"github.com/fitzone-app/FitZoneBack/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = "id, member_id, trainer_id, is_admin, created_at, updated_at"

// CreateOrGet returns the one conversation for (member, counterpart),
// creating it on first contact. Duplicate-free under concurrent callers:
// uniqueness lives in the partial unique indexes, and the no-op DO UPDATE
// makes the insert return the existing row instead of failing.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	memberID int64,
	counterpart models.Counterpart,
) (*models.Conversation, error) {
	var query string
	var args []any

	if counterpart.Admin {
		query = `
			INSERT INTO conversations (member_id, trainer_id, is_admin)
			VALUES ($1, NULL, TRUE)
			ON CONFLICT (member_id) WHERE is_admin
			DO UPDATE SET updated_at = conversations.updated_at
			RETURNING ` + conversationColumns
		args = []any{memberID}
	} else {
		query = `
			INSERT INTO conversations (member_id, trainer_id, is_admin)
			VALUES ($1, $2, FALSE)
			ON CONFLICT (member_id, trainer_id) WHERE NOT is_admin
			DO UPDATE SET updated_at = conversations.updated_at
			RETURNING ` + conversationColumns
		args = []any{memberID, counterpart.TrainerID}
	}

	return r.scanConversation(r.db.QueryRow(ctx, query, args...))
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
	isAdminViewer bool,
) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND (member_id = $2 OR trainer_id = $2 OR (is_admin AND $3))
	`
	return r.scanConversation(r.db.QueryRow(ctx, query, conversationID, participantID, isAdminViewer))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
	isAdminViewer bool,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.id,
			c.member_id,
			c.trainer_id,
			c.is_admin,
			c.created_at,
			c.updated_at,
			lm.id,
			lm.conversation_id,
			lm.sender_id,
			lm.content,
			lm.is_read,
			lm.sent_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender_id, content, is_read, sent_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY sent_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.id
			  AND sender_id <> $1
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE c.member_id = $1 OR c.trainer_id = $1 OR (c.is_admin AND $2)
		ORDER BY COALESCE(lm.sent_at, c.updated_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID, isAdminViewer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageConversationID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageIsRead sql.NullBool
		var messageSentAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.MemberID,
			&summary.TrainerID,
			&summary.IsAdmin,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&messageID,
			&messageConversationID,
			&messageSenderID,
			&messageContent,
			&messageIsRead,
			&messageSentAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.ChatMessage{
				ID:             messageID.Int64,
				ConversationID: messageConversationID.Int64,
				SenderID:       messageSenderID.Int64,
				Content:        messageContent.String,
				IsRead:         messageIsRead.Bool,
				SentAt:         messageSentAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}

func (r *ConversationRepository) scanConversation(row interface{ Scan(dest ...any) error }) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.MemberID,
		&conversation.TrainerID,
		&conversation.IsAdmin,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}
