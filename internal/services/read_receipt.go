package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
)

type conversationReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error)
}

// ReadReceiptTracker flips the durable is_read flag when a recipient opens a
// conversation. The transition is one-directional and scoped to the single
// conversation in view.
type ReadReceiptTracker struct {
	messageRepo conversationReadMarker
	refreshBus  refreshPublisher
	logger      *zap.Logger
}

func NewReadReceiptTracker(
	messageRepo conversationReadMarker,
	refreshBus refreshPublisher,
	logger *zap.Logger,
) *ReadReceiptTracker {
	return &ReadReceiptTracker{
		messageRepo: messageRepo,
		refreshBus:  refreshBus,
		logger:      logger,
	}
}

// MarkConversationRead marks every unread message from the other party as
// read and reports whether anything changed. Idempotent: a repeat call with
// nothing unread changes nothing and emits no refresh signal, so re-opening
// an already-read conversation stays silent.
func (t *ReadReceiptTracker) MarkConversationRead(
	ctx context.Context,
	conversation *models.Conversation,
	viewerID int64,
) (bool, error) {
	changed, err := t.messageRepo.MarkConversationRead(ctx, conversation.ID, viewerID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if changed == 0 {
		return false, nil
	}

	// The sender's open views flip their delivery indicator on this signal.
	event := refresh.Event{Kind: refresh.KindRead, ConversationID: conversation.ID}
	if err := t.refreshBus.Publish(ctx, event, conversation.OtherParty(viewerID)); err != nil {
		t.logger.Warn("refresh publish after mark-read failed",
			zap.Int64("conversation_id", conversation.ID),
			zap.Error(err),
		)
	}

	return true, nil
}
