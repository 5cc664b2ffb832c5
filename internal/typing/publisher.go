package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// signalSink is what a Publisher needs from the Store.
type signalSink interface {
	Set(ctx context.Context, signal Signal) error
}

// Publisher owns the sender side of the typing countdown for one open
// conversation view. Every keystroke refreshes the signal and rearms the
// inactivity timer; when the timer fires, or the view is torn down, the
// Publisher itself emits the explicit stop so the off-transition is always
// observable rather than inferred from staleness.
type Publisher struct {
	sink           signalSink
	conversationID int64
	senderID       int64
	displayName    string
	window         time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	typing bool
	closed bool
}

func NewPublisher(
	sink signalSink,
	conversationID int64,
	senderID int64,
	displayName string,
	window time.Duration,
	logger *zap.Logger,
) *Publisher {
	if window == 0 {
		window = DefaultInactivityWindow
	}
	return &Publisher{
		sink:           sink,
		conversationID: conversationID,
		senderID:       senderID,
		displayName:    displayName,
		window:         window,
		logger:         logger,
	}
}

// Keystroke publishes "typing" and restarts the inactivity countdown.
func (p *Publisher) Keystroke(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.typing = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.window, p.expire)
	p.mu.Unlock()

	return p.sink.Set(ctx, p.signal(true))
}

// Stop cancels the countdown and publishes "not typing" if a typing signal
// is outstanding. Safe to call repeatedly.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	wasTyping := p.typing
	p.typing = false
	p.mu.Unlock()

	if !wasTyping {
		return nil
	}
	return p.sink.Set(ctx, p.signal(false))
}

// Close stops the countdown and emits the cleanup stop signal. Called on
// view teardown so no stray "typing" outlives the conversation view.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Stop(ctx)
}

func (p *Publisher) expire() {
	if err := p.Stop(context.Background()); err != nil {
		p.logger.Warn("typing stop publish failed",
			zap.Int64("conversation_id", p.conversationID),
			zap.Int64("sender_id", p.senderID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) signal(isTyping bool) Signal {
	return Signal{
		ConversationID: p.conversationID,
		SenderID:       p.senderID,
		DisplayName:    p.displayName,
		IsTyping:       isTyping,
	}
}
