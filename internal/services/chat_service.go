package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
	"github.com/fitzone-app/FitZoneBack/internal/repository"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyMessage    = errors.New("message body is empty")
	ErrDeliveryFailed  = errors.New("message delivery failed")
	ErrTrainerNotFound = errors.New("trainer not found")
)

const (
	RoleMember  = "member"
	RoleTrainer = "trainer"
	RoleAdmin   = "admin"
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type refreshPublisher interface {
	Publish(ctx context.Context, event refresh.Event, recipients ...int64) error
}

// ChatService is the message ledger and conversation store behind every
// chat surface: ordered history, validated appends, get-or-create
// conversations, unread counts.
type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
	resolver         *ParticipantResolver
	tracker          *ReadReceiptTracker
	refreshBus       refreshPublisher
	logger           *zap.Logger
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
	RecipientID  int64
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
	resolver *ParticipantResolver,
	tracker *ReadReceiptTracker,
	refreshBus refreshPublisher,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		resolver:         resolver,
		tracker:          tracker,
		refreshBus:       refreshBus,
		logger:           logger,
	}
}

func validRole(role string) bool {
	return role == RoleMember || role == RoleTrainer || role == RoleAdmin
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.ConversationSummary, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}

	summaries, err := s.conversationRepo.ListForParticipant(ctx, actorID, role == RoleAdmin)
	if err != nil {
		return nil, err
	}

	for i := range summaries {
		summaries[i].DisplayName = s.resolver.ResolveDisplayName(ctx, &summaries[i].Conversation, actorID)
	}
	return summaries, nil
}

// CreateConversation resolves the one conversation for the pair, creating it
// on first contact. Members start conversations; the counterpart is a
// trainer or the admin-support inbox.
func (s *ChatService) CreateConversation(
	ctx context.Context,
	actorID int64,
	role string,
	counterpart models.Counterpart,
) (*models.Conversation, error) {
	if role != RoleMember {
		return nil, ErrForbidden
	}

	if !counterpart.Admin {
		if counterpart.TrainerID <= 0 || counterpart.TrainerID == actorID {
			return nil, ErrInvalidInput
		}

		trainer, err := s.userRepo.GetByID(ctx, counterpart.TrainerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTrainerNotFound
			}
			return nil, err
		}
		if trainer.Role != RoleTrainer {
			return nil, ErrInvalidInput
		}
	}

	return s.conversationRepo.CreateOrGet(ctx, actorID, counterpart)
}

// GetConversation returns the conversation with its resolved display name
// for the viewer. pgx.ErrNoRows signals an unknown or foreign conversation.
func (s *ChatService) GetConversation(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*models.Conversation, string, error) {
	if !validRole(role) {
		return nil, "", ErrForbidden
	}
	if conversationID <= 0 {
		return nil, "", ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID, role == RoleAdmin)
	if err != nil {
		return nil, "", err
	}

	return conversation, s.resolver.ResolveDisplayName(ctx, conversation, actorID), nil
}

// ListMessages returns one page of a conversation's ledger in timeline
// order and, as a side effect of the viewer opening it, marks the incoming
// messages read. Mark-read is best effort: a failure is logged, not
// surfaced, since it never blocks reading.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if !validRole(role) {
		return nil, 0, ErrForbidden
	}
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID, role == RoleAdmin)
	if err != nil {
		return nil, 0, err
	}

	messages, total, err := s.messageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	changed, err := s.tracker.MarkConversationRead(ctx, conversation, actorID)
	if err != nil {
		s.logger.Warn("mark conversation read failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	} else if changed {
		// the page was fetched before marking; keep the response
		// consistent with what the store now holds
		for i := range messages {
			if messages[i].SenderID != actorID {
				messages[i].IsRead = true
			}
		}
	}

	s.annotate(ctx, conversation, actorID, messages)
	return messages, total, nil
}

// ListAllMessages is ListMessages without pagination or the mark-read side
// effect; the view session drives read receipts itself.
func (s *ChatService) ListAllMessages(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) ([]models.ChatMessage, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID, role == RoleAdmin)
	if err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListAll(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.annotate(ctx, conversation, actorID, messages)
	return messages, nil
}

// SendMessage appends to the ledger. The body is trimmed and must be
// non-empty; the insert and the conversation bookkeeping commit in one
// transaction, then both parties' views get a refresh signal.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	content string,
) (*ChatDelivery, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID, role == RoleAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	recipientID := conversation.OtherParty(actorID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, conversationID, actorID, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := txConversationRepo.Touch(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	event := refresh.Event{Kind: refresh.KindMessage, ConversationID: conversationID}
	if err := s.refreshBus.Publish(ctx, event, actorID, recipientID); err != nil {
		s.logger.Warn("refresh publish after send failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  recipientID,
	}, nil
}

// UnreadTotal is the viewer's badge count across all conversations.
func (s *ChatService) UnreadTotal(ctx context.Context, actorID int64, role string) (int, error) {
	if !validRole(role) {
		return 0, ErrForbidden
	}
	return s.messageRepo.UnreadTotal(ctx, actorID, role == RoleAdmin)
}

func (s *ChatService) annotate(
	ctx context.Context,
	conversation *models.Conversation,
	viewerID int64,
	messages []models.ChatMessage,
) {
	// Two parties at most, so cache per sender id.
	names := make(map[int64]string, 2)
	for i := range messages {
		name, ok := names[messages[i].SenderID]
		if !ok {
			name = s.resolver.ResolveSenderName(ctx, conversation, messages[i].SenderID, viewerID)
			names[messages[i].SenderID] = name
		}
		messages[i].SenderName = name
	}
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
