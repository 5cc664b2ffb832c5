package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
)

type stubReadMarker struct {
	changed int64
	err     error
	calls   int
}

func (s *stubReadMarker) MarkConversationRead(_ context.Context, _, _ int64) (int64, error) {
	s.calls++
	return s.changed, s.err
}

type stubRefreshBus struct {
	events     []refresh.Event
	recipients [][]int64
	err        error
}

func (s *stubRefreshBus) Publish(_ context.Context, event refresh.Event, recipients ...int64) error {
	s.events = append(s.events, event)
	s.recipients = append(s.recipients, recipients)
	return s.err
}

func TestMarkConversationReadPublishesRefreshWhenChanged(t *testing.T) {
	marker := &stubReadMarker{changed: 3}
	bus := &stubRefreshBus{}
	tracker := NewReadReceiptTracker(marker, bus, zap.NewNop())

	conversation := &models.Conversation{ID: 11, MemberID: 42, TrainerID: int64Ptr(8)}
	changed, err := tracker.MarkConversationRead(context.Background(), conversation, 8)
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true")
	}

	if len(bus.events) != 1 || bus.events[0].Kind != refresh.KindRead || bus.events[0].ConversationID != 11 {
		t.Fatalf("unexpected refresh events: %+v", bus.events)
	}
	// the member authored the now-read messages, so the member's views refresh
	if len(bus.recipients[0]) != 1 || bus.recipients[0][0] != 42 {
		t.Fatalf("unexpected recipients: %v", bus.recipients[0])
	}
}

func TestMarkConversationReadIsIdempotentlySilent(t *testing.T) {
	marker := &stubReadMarker{changed: 0}
	bus := &stubRefreshBus{}
	tracker := NewReadReceiptTracker(marker, bus, zap.NewNop())

	conversation := &models.Conversation{ID: 11, MemberID: 42, TrainerID: int64Ptr(8)}
	changed, err := tracker.MarkConversationRead(context.Background(), conversation, 8)
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false with nothing unread")
	}
	if len(bus.events) != 0 {
		t.Fatalf("expected no refresh events, got %+v", bus.events)
	}
}

func TestMarkConversationReadWrapsStorageFailure(t *testing.T) {
	marker := &stubReadMarker{err: errors.New("connection reset")}
	tracker := NewReadReceiptTracker(marker, &stubRefreshBus{}, zap.NewNop())

	conversation := &models.Conversation{ID: 11, MemberID: 42, TrainerID: int64Ptr(8)}
	_, err := tracker.MarkConversationRead(context.Background(), conversation, 8)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}
