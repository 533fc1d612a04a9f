package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"standhub/models"
	"standhub/utils"
)

const eventsChannel = "standhub:events"

// RoomEvent is an envelope addressed to one room, fanned out over Redis
// pub/sub so every gateway instance delivers it to its local connections.
type RoomEvent struct {
	Room     string          `json:"room"`
	Envelope models.Envelope `json:"envelope"`
}

// Broker publishes and consumes room events across gateway instances.
type Broker struct {
	redis  *redis.Client
	logger *utils.Logger
}

func NewBroker(redisClient *redis.Client, logger *utils.Logger) *Broker {
	return &Broker{
		redis:  redisClient,
		logger: logger,
	}
}

// Publish sends an envelope to every subscriber of a room.
func (b *Broker) Publish(ctx context.Context, room string, env models.Envelope) error {
	event := RoomEvent{Room: room, Envelope: env}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	if err := b.redis.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}
	return nil
}

// Subscribe consumes room events until the context is cancelled, invoking
// handler for each. Malformed messages are dropped.
func (b *Broker) Subscribe(ctx context.Context, handler func(RoomEvent)) {
	pubsub := b.redis.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if err != context.Canceled {
					b.logger.Error("Redis pubsub error", "error", err)
				}
				continue
			}

			var event RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Failed to parse room event", "error", err)
				continue
			}
			handler(event)
		}
	}
}
