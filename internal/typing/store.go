// Package typing is the ephemeral "user X is typing" channel. Signals live
// in Redis under a short TTL and are broadcast over pub/sub; nothing here is
// ever persisted, and a signal that is not refreshed simply expires.
package typing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultInactivityWindow bounds how long a typing signal survives without a
// refreshing keystroke. Soft bound: under network latency a signal may linger
// slightly longer before the TTL clears it.
const DefaultInactivityWindow = 3 * time.Second

type Signal struct {
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	DisplayName    string `json:"display_name"`
	IsTyping       bool   `json:"is_typing"`
}

type TypingUser struct {
	SenderID    int64
	DisplayName string
}

type Store struct {
	client *redis.Client
	window time.Duration
	logger *zap.Logger
}

func NewStore(client *redis.Client, window time.Duration, logger *zap.Logger) *Store {
	if window == 0 {
		window = DefaultInactivityWindow
	}
	return &Store{client: client, window: window, logger: logger}
}

func signalKey(conversationID, senderID int64) string {
	return fmt.Sprintf("typing:%d:%d", conversationID, senderID)
}

func channel(conversationID int64) string {
	return fmt.Sprintf("typing:%d", conversationID)
}

// Set records the current typing state for a sender and broadcasts the
// transition. Repeated isTyping=true publishes just refresh the TTL, so the
// operation is idempotent. The TTL keeps a subscriber's view bounded even
// when the stop publish never arrives (crash, dropped connection).
func (s *Store) Set(ctx context.Context, signal Signal) error {
	key := signalKey(signal.ConversationID, signal.SenderID)

	if signal.IsTyping {
		if err := s.client.Set(ctx, key, signal.DisplayName, s.window).Err(); err != nil {
			return err
		}
	} else {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel(signal.ConversationID), payload).Err()
}

// TypingUsers returns the senders currently typing in a conversation,
// excluding the viewer. Reads the live keys rather than any subscriber
// state, so expired signals are already gone.
func (s *Store) TypingUsers(ctx context.Context, conversationID, viewerID int64) ([]TypingUser, error) {
	pattern := fmt.Sprintf("typing:%d:*", conversationID)

	users := make([]TypingUser, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			senderID, err := senderFromKey(key)
			if err != nil || senderID == viewerID {
				continue
			}

			name, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return nil, err
			}
			users = append(users, TypingUser{SenderID: senderID, DisplayName: name})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return users, nil
}

// Subscribe blocks, delivering typing transitions for one conversation until
// the context is cancelled. Signals from the viewer are filtered out.
func (s *Store) Subscribe(ctx context.Context, conversationID, viewerID int64, handler func(Signal)) error {
	sub := s.client.Subscribe(ctx, channel(conversationID))
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		var signal Signal
		if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
			s.logger.Warn("typing signal decode failed", zap.Error(err))
			continue
		}
		if signal.SenderID == viewerID {
			continue
		}
		handler(signal)
	}
}

func senderFromKey(key string) (int64, error) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return 0, fmt.Errorf("malformed typing key %q", key)
	}
	return strconv.ParseInt(key[idx+1:], 10, 64)
}
