package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
	"github.com/fitzone-app/FitZoneBack/internal/typing"
)

// MessageStatus is the client-observable lifecycle of a message inside a
// view, distinct from the durable is_read flag.
type MessageStatus string

const (
	StatusComposing MessageStatus = "composing"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusFailed    MessageStatus = "failed"
)

// TimelineEntry is one rendered row: either a date separator or a message.
// Separator rows carry DateHeader; message rows carry Message plus its
// lifecycle status. LocalID identifies optimistic entries before the ledger
// confirms them.
type TimelineEntry struct {
	DateHeader *time.Time          `json:"date_header,omitempty"`
	Message    *models.ChatMessage `json:"message,omitempty"`
	Status     MessageStatus       `json:"status,omitempty"`
	LocalID    int64               `json:"local_id,omitempty"`
}

type conversationChat interface {
	GetConversation(ctx context.Context, actorID int64, role string, conversationID int64) (*models.Conversation, string, error)
	ListAllMessages(ctx context.Context, actorID int64, role string, conversationID int64) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string) (*ChatDelivery, error)
}

type readTracker interface {
	MarkConversationRead(ctx context.Context, conversation *models.Conversation, viewerID int64) (bool, error)
}

type typingControl interface {
	Keystroke(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

type refreshFeed interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, event refresh.Event)) error
}

type typingFeed interface {
	Subscribe(ctx context.Context, conversationID, viewerID int64, handler func(typing.Signal)) error
}

type pendingEntry struct {
	localID int64
	content string
	sentAt  time.Time
	status  MessageStatus
}

// ViewSession orchestrates one open conversation for one viewer: history,
// identity resolution, read receipts, optimistic sends and the typing
// countdown. It owns no durable state; everything it shows is re-fetchable
// from the ledger.
type ViewSession struct {
	chat     conversationChat
	tracker  readTracker
	typing   typingControl
	viewerID int64
	role     string
	loc      *time.Location
	logger   *zap.Logger

	mu           sync.Mutex
	conversation *models.Conversation
	displayName  string
	notFound     bool
	messages     []models.ChatMessage
	pending      []pendingEntry
	draft        string
	nextLocalID  int64
	markedConvID int64
	typists      map[int64]string
}

func NewViewSession(
	chat conversationChat,
	tracker readTracker,
	typing typingControl,
	viewerID int64,
	role string,
	loc *time.Location,
	logger *zap.Logger,
) *ViewSession {
	if loc == nil {
		loc = time.Local
	}
	return &ViewSession{
		chat:     chat,
		tracker:  tracker,
		typing:   typing,
		viewerID: viewerID,
		role:     role,
		loc:      loc,
		logger:   logger,
	}
}

// Open activates a conversation: metadata, display identity, full history,
// and the one-time read-receipt marking for this (conversation, viewer)
// activation. An unknown conversation yields an empty placeholder view, not
// an error.
func (s *ViewSession) Open(ctx context.Context, conversationID int64) error {
	conversation, displayName, err := s.chat.GetConversation(ctx, s.viewerID, s.role, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.mu.Lock()
			s.conversation = nil
			s.displayName = ""
			s.notFound = true
			s.messages = nil
			s.typists = nil
			// the active conversation changed away, so its next
			// activation marks again
			s.markedConvID = 0
			s.mu.Unlock()
			return nil
		}
		return err
	}

	messages, err := s.chat.ListAllMessages(ctx, s.viewerID, s.role, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	alreadyMarked := s.markedConvID == conversationID
	s.markedConvID = conversationID
	s.mu.Unlock()

	// Once per activation; unrelated re-renders route through Refresh and
	// never re-trigger marking.
	if !alreadyMarked {
		if _, err := s.tracker.MarkConversationRead(ctx, conversation, s.viewerID); err != nil {
			s.logger.Warn("mark conversation read failed",
				zap.Int64("conversation_id", conversationID),
				zap.Error(err),
			)
			// leave the snapshot as fetched; the store still reports
			// these messages unread
		} else {
			for i := range messages {
				if messages[i].SenderID != s.viewerID {
					messages[i].IsRead = true
				}
			}
		}
	}

	s.mu.Lock()
	if s.conversation == nil || s.conversation.ID != conversationID {
		s.typists = nil
	}
	s.conversation = conversation
	s.displayName = displayName
	s.notFound = false
	s.messages = messages
	s.mu.Unlock()

	return nil
}

// Refresh re-fetches the ledger after a refresh signal. Confirmed entries
// replace the fetched view wholesale; failed optimistic entries survive
// until retried or discarded.
func (s *ViewSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	conversation := s.conversation
	s.mu.Unlock()
	if conversation == nil {
		return nil
	}

	messages, err := s.chat.ListAllMessages(ctx, s.viewerID, s.role, conversation.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()
	return nil
}

// Watch consumes the open conversation's live signals until ctx ends:
// refresh events re-fetch the ledger, typing signals maintain the set of
// parties currently composing. Call after a successful Open; returns when
// either subscription ends.
func (s *ViewSession) Watch(ctx context.Context, refreshes refreshFeed, signals typingFeed) error {
	s.mu.Lock()
	conversation := s.conversation
	s.mu.Unlock()
	if conversation == nil {
		return ErrInvalidInput
	}

	errs := make(chan error, 2)
	go func() {
		channels := []string{refresh.ConversationChannel(conversation.ID)}
		errs <- refreshes.Subscribe(ctx, channels, func(_ string, _ refresh.Event) {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("view refresh failed",
					zap.Int64("conversation_id", conversation.ID),
					zap.Error(err),
				)
			}
		})
	}()
	go func() {
		errs <- signals.Subscribe(ctx, conversation.ID, s.viewerID, s.applyTypingSignal)
	}()

	return <-errs
}

func (s *ViewSession) applyTypingSignal(signal typing.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversation == nil || signal.ConversationID != s.conversation.ID || signal.SenderID == s.viewerID {
		return
	}
	if signal.IsTyping {
		if s.typists == nil {
			s.typists = make(map[int64]string)
		}
		s.typists[signal.SenderID] = signal.DisplayName
	} else {
		delete(s.typists, signal.SenderID)
	}
}

// TypingNames lists who is currently composing in the open conversation,
// excluding the viewer, in a stable order.
func (s *ViewSession) TypingNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.typists))
	for _, name := range s.typists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InputChanged tracks the draft and drives the typing signal: a non-empty
// draft publishes "typing" and rearms the inactivity countdown, an emptied
// draft stops it immediately. Typing publish failures are absorbed; input
// handling never fails.
func (s *ViewSession) InputChanged(ctx context.Context, text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()

	var err error
	if strings.TrimSpace(text) == "" {
		err = s.typing.Stop(ctx)
	} else {
		err = s.typing.Keystroke(ctx)
	}
	if err != nil {
		s.logger.Warn("typing publish failed", zap.Error(err))
	}
}

// Send appends the current draft. The optimistic entry renders immediately
// as "sending"; on confirmation it is replaced by the ledger's row and the
// draft clears, on failure it flips to "failed" and the draft is preserved
// for retry.
func (s *ViewSession) Send(ctx context.Context) error {
	s.mu.Lock()
	if s.conversation == nil {
		s.mu.Unlock()
		return ErrInvalidInput
	}
	conversationID := s.conversation.ID
	draft := s.draft

	trimmed := strings.TrimSpace(draft)
	if trimmed == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}

	s.nextLocalID++
	localID := s.nextLocalID
	s.pending = append(s.pending, pendingEntry{
		localID: localID,
		content: trimmed,
		sentAt:  time.Now(),
		status:  StatusSending,
	})
	s.mu.Unlock()

	delivery, err := s.chat.SendMessage(ctx, s.viewerID, s.role, conversationID, draft)

	s.mu.Lock()
	if err != nil {
		for i := range s.pending {
			if s.pending[i].localID == localID {
				s.pending[i].status = StatusFailed
			}
		}
		s.mu.Unlock()
		return err
	}

	s.removePendingLocked(localID)
	confirmed := *delivery.Message
	confirmed.SenderName = "You"
	s.messages = append(s.messages, confirmed)
	s.draft = ""
	s.mu.Unlock()

	if err := s.typing.Stop(ctx); err != nil {
		s.logger.Warn("typing stop after send failed", zap.Error(err))
	}
	return nil
}

// DiscardFailed drops a failed optimistic entry. Reports false when the
// entry is unknown or not in the failed state.
func (s *ViewSession) DiscardFailed(localID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.pending {
		if entry.localID == localID && entry.status == StatusFailed {
			s.removePendingLocked(localID)
			return true
		}
	}
	return false
}

// Timeline renders the merged view: ledger messages in ledger order, then
// outstanding optimistic entries, with a date separator before the first
// entry of each new calendar day in the viewer's location.
func (s *ViewSession) Timeline() []TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]TimelineEntry, 0, len(s.messages)+len(s.pending))
	var lastDay time.Time

	appendWithSeparator := func(entry TimelineEntry, sentAt time.Time) {
		local := sentAt.In(s.loc)
		localDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		if len(entries) == 0 || !localDay.Equal(lastDay) {
			header := localDay
			entries = append(entries, TimelineEntry{DateHeader: &header})
			lastDay = localDay
		}
		entries = append(entries, entry)
	}

	for i := range s.messages {
		message := s.messages[i]
		appendWithSeparator(TimelineEntry{
			Message: &message,
			Status:  StatusSent,
		}, message.SentAt)
	}

	for _, p := range s.pending {
		message := models.ChatMessage{
			ConversationID: s.conversationIDLocked(),
			SenderID:       s.viewerID,
			Content:        p.content,
			SentAt:         p.sentAt,
			SenderName:     "You",
		}
		appendWithSeparator(TimelineEntry{
			Message: &message,
			Status:  p.status,
			LocalID: p.localID,
		}, p.sentAt)
	}

	return entries
}

// Close tears the view down, cancelling the typing countdown and emitting
// the cleanup stop signal.
func (s *ViewSession) Close(ctx context.Context) error {
	return s.typing.Close(ctx)
}

func (s *ViewSession) Conversation() *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

func (s *ViewSession) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *ViewSession) NotFound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notFound
}

func (s *ViewSession) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *ViewSession) removePendingLocked(localID int64) {
	filtered := s.pending[:0]
	for _, entry := range s.pending {
		if entry.localID != localID {
			filtered = append(filtered, entry)
		}
	}
	s.pending = filtered
}

func (s *ViewSession) conversationIDLocked() int64 {
	if s.conversation == nil {
		return 0
	}
	return s.conversation.ID
}
