package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *recordingSink) Set(_ context.Context, signal Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func (r *recordingSink) snapshot() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

func (r *recordingSink) waitFor(t *testing.T, n int) []Signal {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if signals := r.snapshot(); len(signals) >= n {
			return signals
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d signals, have %d", n, len(r.snapshot()))
	return nil
}

func newTestPublisher(sink *recordingSink, window time.Duration) *Publisher {
	return NewPublisher(sink, 11, 42, "Sam Reyes", window, zap.NewNop())
}

func TestPublisherAutoStopsAfterInactivity(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublisher(sink, 15*time.Millisecond)

	if err := pub.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke: %v", err)
	}

	signals := sink.waitFor(t, 2)
	if !signals[0].IsTyping {
		t.Fatalf("first signal should be typing, got %+v", signals[0])
	}
	if signals[1].IsTyping {
		t.Fatalf("countdown expiry should publish not-typing, got %+v", signals[1])
	}
	if signals[1].ConversationID != 11 || signals[1].SenderID != 42 || signals[1].DisplayName != "Sam Reyes" {
		t.Fatalf("stop signal lost its identity: %+v", signals[1])
	}
}

func TestPublisherKeystrokeRearmsCountdown(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublisher(sink, 40*time.Millisecond)

	// keep typing at a cadence shorter than the window
	for i := 0; i < 4; i++ {
		if err := pub.Keystroke(context.Background()); err != nil {
			t.Fatalf("Keystroke: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, signal := range sink.snapshot() {
		if !signal.IsTyping {
			t.Fatalf("countdown fired despite continuous keystrokes: %+v", signal)
		}
	}

	signals := sink.waitFor(t, 5)
	last := signals[len(signals)-1]
	if last.IsTyping {
		t.Fatalf("expected trailing stop once keystrokes cease, got %+v", last)
	}
}

func TestPublisherStopIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublisher(sink, time.Minute)

	if err := pub.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke: %v", err)
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	signals := sink.snapshot()
	if len(signals) != 2 {
		t.Fatalf("expected exactly one typing and one stop signal, got %+v", signals)
	}
	if !signals[0].IsTyping || signals[1].IsTyping {
		t.Fatalf("unexpected signal sequence: %+v", signals)
	}
}

func TestPublisherStopWithoutTypingPublishesNothing(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublisher(sink, time.Minute)

	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if signals := sink.snapshot(); len(signals) != 0 {
		t.Fatalf("stop with no outstanding signal must stay silent, got %+v", signals)
	}
}

func TestPublisherCloseEmitsCleanupStopAndRejectsFurtherKeystrokes(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublisher(sink, time.Minute)

	if err := pub.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke: %v", err)
	}
	if err := pub.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	signals := sink.snapshot()
	if len(signals) != 2 || signals[1].IsTyping {
		t.Fatalf("expected cleanup stop on close, got %+v", signals)
	}

	if err := pub.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke after close: %v", err)
	}
	if signals := sink.snapshot(); len(signals) != 2 {
		t.Fatalf("closed publisher must drop keystrokes, got %+v", signals)
	}
}
