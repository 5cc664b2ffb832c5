// Package refresh carries the cache-invalidation signal that stands in for
// a push protocol: every write to the chat store publishes here, and open
// views re-fetch when their channel fires.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	KindMessage = "message"
	KindRead    = "read"
)

type Event struct {
	Kind           string `json:"kind"`
	ConversationID int64  `json:"conversation_id"`
}

type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewBus(client *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("refresh:conversation:%d", conversationID)
}

func InboxChannel(userID int64) string {
	return fmt.Sprintf("refresh:inbox:%d", userID)
}

// Publish fans the event out to the conversation channel and to each
// recipient's inbox channel, so both an open conversation and a conversation
// list pick it up.
func (b *Bus) Publish(ctx context.Context, event Event, recipients ...int64) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channels := []string{ConversationChannel(event.ConversationID)}
	for _, recipient := range recipients {
		if recipient > 0 {
			channels = append(channels, InboxChannel(recipient))
		}
	}

	for _, channel := range channels {
		if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
			b.logger.Error("refresh publish failed",
				zap.String("channel", channel),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// Subscribe blocks, invoking handler for every event on the given channels
// until the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channels []string, handler func(channel string, event Event)) error {
	sub := b.client.Subscribe(ctx, channels...)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Warn("refresh event decode failed", zap.Error(err))
			continue
		}
		handler(msg.Channel, event)
	}
}
