package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
	"github.com/fitzone-app/FitZoneBack/internal/typing"
)

type stubConversationChat struct {
	conversation *models.Conversation
	displayName  string
	getErr       error
	messages     []models.ChatMessage
	listErr      error
	sendResult   *ChatDelivery
	sendErr      error
	sendCalls    int
	listCalls    int
	lastSent     string
}

func (s *stubConversationChat) GetConversation(_ context.Context, _ int64, _ string, conversationID int64) (*models.Conversation, string, error) {
	if s.getErr != nil {
		return nil, "", s.getErr
	}
	if s.conversation != nil && conversationID != s.conversation.ID {
		return nil, "", pgx.ErrNoRows
	}
	return s.conversation, s.displayName, nil
}

func (s *stubConversationChat) ListAllMessages(_ context.Context, _ int64, _ string, _ int64) ([]models.ChatMessage, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *stubConversationChat) SendMessage(_ context.Context, actorID int64, _ string, conversationID int64, content string) (*ChatDelivery, error) {
	s.sendCalls++
	s.lastSent = content
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if s.sendResult != nil {
		return s.sendResult, nil
	}
	return &ChatDelivery{
		Conversation: s.conversation,
		Message: &models.ChatMessage{
			ID:             100,
			ConversationID: conversationID,
			SenderID:       actorID,
			Content:        content,
			SentAt:         time.Now().UTC(),
		},
	}, nil
}

type stubViewTracker struct {
	calls int
	err   error
}

func (s *stubViewTracker) MarkConversationRead(_ context.Context, _ *models.Conversation, _ int64) (bool, error) {
	s.calls++
	return s.err == nil, s.err
}

type stubTypingControl struct {
	keystrokes int
	stops      int
	closes     int
}

func (s *stubTypingControl) Keystroke(_ context.Context) error { s.keystrokes++; return nil }
func (s *stubTypingControl) Stop(_ context.Context) error      { s.stops++; return nil }
func (s *stubTypingControl) Close(_ context.Context) error     { s.closes++; return nil }

func trainerConversation() *models.Conversation {
	return &models.Conversation{ID: 11, MemberID: 42, TrainerID: int64Ptr(8)}
}

func newTestSession(chat *stubConversationChat, tracker *stubViewTracker, typingStub *stubTypingControl) *ViewSession {
	return NewViewSession(chat, tracker, typingStub, 42, RoleMember, time.UTC, zap.NewNop())
}

func TestOpenMarksReadOncePerActivation(t *testing.T) {
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		displayName:  "Dana Cole",
		messages: []models.ChatMessage{
			{ID: 1, ConversationID: 11, SenderID: 8, Content: "Hello", SentAt: time.Now().UTC()},
		},
	}
	tracker := &stubViewTracker{}
	session := newTestSession(chat, tracker, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tracker.calls != 1 {
		t.Fatalf("expected 1 mark-read call, got %d", tracker.calls)
	}
	if session.DisplayName() != "Dana Cole" {
		t.Fatalf("unexpected display name %q", session.DisplayName())
	}

	// incoming message shows as read once the viewer has the conversation open
	entries := session.Timeline()
	if len(entries) != 2 || entries[1].Message == nil || !entries[1].Message.IsRead {
		t.Fatalf("expected incoming message flagged read, got %+v", entries)
	}

	// a re-render of the same activation must not re-trigger marking
	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tracker.calls != 1 {
		t.Fatalf("expected mark-read to stay at 1, got %d", tracker.calls)
	}
}

func TestOpenRemarksAfterPlaceholderActivation(t *testing.T) {
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		displayName:  "Dana Cole",
		messages: []models.ChatMessage{
			{ID: 1, ConversationID: 11, SenderID: 8, Content: "Hello", SentAt: time.Now().UTC()},
		},
	}
	tracker := &stubViewTracker{}
	session := newTestSession(chat, tracker, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := session.Open(context.Background(), 999); err != nil {
		t.Fatalf("Open unknown: %v", err)
	}
	if !session.NotFound() {
		t.Fatal("expected placeholder after unknown conversation")
	}

	// conversation 11 becomes active again, so its messages must be
	// marked read again
	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tracker.calls != 2 {
		t.Fatalf("expected 2 mark-read calls across activations, got %d", tracker.calls)
	}
}

func TestOpenKeepsUnreadWhenMarkingFails(t *testing.T) {
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		messages: []models.ChatMessage{
			{ID: 1, ConversationID: 11, SenderID: 8, Content: "Hello", SentAt: time.Now().UTC()},
		},
	}
	tracker := &stubViewTracker{err: ErrDeliveryFailed}
	session := newTestSession(chat, tracker, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// the store still holds is_read=false, so the view must not pretend
	// otherwise
	for _, entry := range session.Timeline() {
		if entry.Message != nil && entry.Message.IsRead {
			t.Fatalf("message rendered read despite failed marking: %+v", entry.Message)
		}
	}
}

func TestOpenUnknownConversationRendersPlaceholder(t *testing.T) {
	chat := &stubConversationChat{getErr: pgx.ErrNoRows}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 999); err != nil {
		t.Fatalf("expected placeholder, got error %v", err)
	}
	if !session.NotFound() {
		t.Fatal("expected NotFound placeholder state")
	}
	if entries := session.Timeline(); len(entries) != 0 {
		t.Fatalf("expected empty timeline, got %d entries", len(entries))
	}
}

func TestOpenEmptyConversationRendersEmptyState(t *testing.T) {
	chat := &stubConversationChat{conversation: trainerConversation(), displayName: "Dana Cole"}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if session.NotFound() {
		t.Fatal("empty conversation is not a missing one")
	}
	if entries := session.Timeline(); len(entries) != 0 {
		t.Fatalf("expected empty timeline, got %d entries", len(entries))
	}
}

func TestSendClearsDraftAndStopsTyping(t *testing.T) {
	chat := &stubConversationChat{conversation: trainerConversation()}
	typingStub := &stubTypingControl{}
	session := newTestSession(chat, &stubViewTracker{}, typingStub)

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	session.InputChanged(context.Background(), "  Hello  ")
	if err := session.Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if chat.lastSent != "  Hello  " {
		t.Fatalf("expected raw draft forwarded, got %q", chat.lastSent)
	}
	if session.Draft() != "" {
		t.Fatalf("expected draft cleared, got %q", session.Draft())
	}
	if typingStub.stops == 0 {
		t.Fatal("expected typing stop after send")
	}

	entries := session.Timeline()
	var confirmed *TimelineEntry
	for i := range entries {
		if entries[i].Message != nil {
			confirmed = &entries[i]
		}
	}
	if confirmed == nil || confirmed.Status != StatusSent || confirmed.Message.SenderName != "You" {
		t.Fatalf("expected confirmed own message, got %+v", confirmed)
	}
}

func TestSendFailureKeepsDraftAndFlagsEntry(t *testing.T) {
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		sendErr:      ErrDeliveryFailed,
	}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	session.InputChanged(context.Background(), "Hello")
	if err := session.Send(context.Background()); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	if session.Draft() != "Hello" {
		t.Fatalf("expected draft preserved for retry, got %q", session.Draft())
	}

	entries := session.Timeline()
	var failed *TimelineEntry
	for i := range entries {
		if entries[i].Status == StatusFailed {
			failed = &entries[i]
		}
	}
	if failed == nil || failed.LocalID == 0 {
		t.Fatalf("expected a failed optimistic entry, got %+v", entries)
	}

	if !session.DiscardFailed(failed.LocalID) {
		t.Fatal("expected DiscardFailed to drop the entry")
	}
	for _, entry := range session.Timeline() {
		if entry.Status == StatusFailed {
			t.Fatal("failed entry still present after discard")
		}
	}
}

func TestSendEmptyDraftRejectedBeforeLedger(t *testing.T) {
	chat := &stubConversationChat{conversation: trainerConversation()}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	session.InputChanged(context.Background(), "   ")
	if err := session.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if chat.sendCalls != 0 {
		t.Fatalf("empty body must never reach the ledger, got %d calls", chat.sendCalls)
	}
}

func TestInputChangedDrivesTypingSignal(t *testing.T) {
	chat := &stubConversationChat{conversation: trainerConversation()}
	typingStub := &stubTypingControl{}
	session := newTestSession(chat, &stubViewTracker{}, typingStub)

	session.InputChanged(context.Background(), "H")
	session.InputChanged(context.Background(), "He")
	if typingStub.keystrokes != 2 {
		t.Fatalf("expected 2 keystroke publishes, got %d", typingStub.keystrokes)
	}

	session.InputChanged(context.Background(), "")
	if typingStub.stops != 1 {
		t.Fatalf("expected immediate stop on emptied draft, got %d", typingStub.stops)
	}

	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if typingStub.closes != 1 {
		t.Fatalf("expected typing teardown on close, got %d", typingStub.closes)
	}
}

type stubRefreshFeed struct {
	subscribed chan struct{}
	mu         sync.Mutex
	channels   []string
	handler    func(string, refresh.Event)
}

func (s *stubRefreshFeed) Subscribe(ctx context.Context, channels []string, handler func(channel string, event refresh.Event)) error {
	s.mu.Lock()
	s.channels = channels
	s.handler = handler
	s.mu.Unlock()
	s.subscribed <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubRefreshFeed) emit(channel string, event refresh.Event) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	handler(channel, event)
}

type stubTypingFeed struct {
	subscribed     chan struct{}
	mu             sync.Mutex
	conversationID int64
	viewerID       int64
	handler        func(typing.Signal)
}

func (s *stubTypingFeed) Subscribe(ctx context.Context, conversationID, viewerID int64, handler func(typing.Signal)) error {
	s.mu.Lock()
	s.conversationID = conversationID
	s.viewerID = viewerID
	s.handler = handler
	s.mu.Unlock()
	s.subscribed <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubTypingFeed) emit(signal typing.Signal) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	handler(signal)
}

func waitSubscribed(t *testing.T, subscribed chan struct{}) {
	t.Helper()
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription")
	}
}

func TestWatchRefetchesOnRefreshAndTracksTypists(t *testing.T) {
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		displayName:  "Dana Cole",
		messages: []models.ChatMessage{
			{ID: 1, ConversationID: 11, SenderID: 8, Content: "Hello", SentAt: time.Now().UTC()},
		},
	}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	refreshFeed := &stubRefreshFeed{subscribed: make(chan struct{}, 1)}
	typingFeed := &stubTypingFeed{subscribed: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- session.Watch(ctx, refreshFeed, typingFeed)
	}()

	waitSubscribed(t, refreshFeed.subscribed)
	waitSubscribed(t, typingFeed.subscribed)

	if len(refreshFeed.channels) != 1 || refreshFeed.channels[0] != "refresh:conversation:11" {
		t.Fatalf("unexpected refresh channels: %v", refreshFeed.channels)
	}
	if typingFeed.conversationID != 11 || typingFeed.viewerID != 42 {
		t.Fatalf("unexpected typing subscription: conversation=%d viewer=%d", typingFeed.conversationID, typingFeed.viewerID)
	}

	before := chat.listCalls
	refreshFeed.emit("refresh:conversation:11", refresh.Event{Kind: refresh.KindMessage, ConversationID: 11})
	if chat.listCalls != before+1 {
		t.Fatalf("expected refresh signal to re-fetch the ledger, list calls %d -> %d", before, chat.listCalls)
	}

	typingFeed.emit(typing.Signal{ConversationID: 11, SenderID: 8, DisplayName: "Dana Cole", IsTyping: true})
	if names := session.TypingNames(); len(names) != 1 || names[0] != "Dana Cole" {
		t.Fatalf("unexpected typists after start signal: %v", names)
	}

	typingFeed.emit(typing.Signal{ConversationID: 11, SenderID: 8, DisplayName: "Dana Cole", IsTyping: false})
	if names := session.TypingNames(); len(names) != 0 {
		t.Fatalf("typist still listed after stop signal: %v", names)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchRequiresOpenConversation(t *testing.T) {
	session := newTestSession(&stubConversationChat{}, &stubViewTracker{}, &stubTypingControl{})

	refreshFeed := &stubRefreshFeed{subscribed: make(chan struct{}, 1)}
	typingFeed := &stubTypingFeed{subscribed: make(chan struct{}, 1)}
	if err := session.Watch(context.Background(), refreshFeed, typingFeed); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without an open conversation, got %v", err)
	}
}

func TestTimelineInsertsDateSeparators(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	chat := &stubConversationChat{
		conversation: trainerConversation(),
		messages: []models.ChatMessage{
			{ID: 1, ConversationID: 11, SenderID: 8, Content: "Morning", SentAt: day1},
			{ID: 2, ConversationID: 11, SenderID: 42, Content: "Hi", SentAt: day1.Add(time.Minute)},
			{ID: 3, ConversationID: 11, SenderID: 8, Content: "New day", SentAt: day2},
		},
	}
	session := newTestSession(chat, &stubViewTracker{}, &stubTypingControl{})

	if err := session.Open(context.Background(), 11); err != nil {
		t.Fatalf("Open: %v", err)
	}

	entries := session.Timeline()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries (2 separators + 3 messages), got %d", len(entries))
	}
	if entries[0].DateHeader == nil || !entries[0].DateHeader.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected day-1 separator first, got %+v", entries[0])
	}
	if entries[1].Message == nil || entries[1].Message.ID != 1 {
		t.Fatalf("unexpected entry order: %+v", entries[1])
	}
	if entries[2].Message == nil || entries[2].Message.ID != 2 {
		t.Fatalf("same-day message must follow without separator: %+v", entries[2])
	}
	if entries[3].DateHeader == nil || !entries[3].DateHeader.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected day-2 separator, got %+v", entries[3])
	}
	if entries[4].Message == nil || entries[4].Message.ID != 3 {
		t.Fatalf("unexpected final entry: %+v", entries[4])
	}
}
