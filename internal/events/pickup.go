package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dave999999/SmartPick1-sub001/internal/websocket"
)

const pickupChannelPrefix = "pickup-"

// PickupChannel names the channel a customer listens on for one reservation.
func PickupChannel(reservationID string) string {
	return pickupChannelPrefix + reservationID
}

// PickupConfirmed is the single message sent on a reservation's pickup channel.
type PickupConfirmed struct {
	Event         string    `json:"event"`
	ReservationID string    `json:"reservationId"`
	SavedAmount   int64     `json:"savedAmount"`
	PickedUpAt    time.Time `json:"pickedUpAt"`
}

func NewPickupConfirmed(reservationID string, savedAmount int64, pickedUpAt time.Time) PickupConfirmed {
	return PickupConfirmed{
		Event:         "pickup_confirmed",
		ReservationID: reservationID,
		SavedAmount:   savedAmount,
		PickedUpAt:    pickedUpAt.UTC(),
	}
}

// Publisher broadcasts a message on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg any) error
}

// HubPublisher delivers directly to the local WebSocket hub. It is used when
// a single instance serves all subscribers.
type HubPublisher struct {
	hub *websocket.Hub
}

func NewHubPublisher(hub *websocket.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	p.hub.Publish(channel, data)
	return nil
}

// RedisPublisher publishes through Redis pub/sub so every instance running a
// Relay can deliver to its own subscribers.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Relay forwards pickup channels from Redis into the local hub.
type Relay struct {
	rdb    redis.UniversalClient
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewRelay(rdb redis.UniversalClient, hub *websocket.Hub, logger *slog.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, pickupChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe pickup channels: %w", err)
	}
	r.logger.Info("pickup relay subscribed", "pattern", pickupChannelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Channel, pickupChannelPrefix) {
				continue
			}
			n := r.hub.Publish(msg.Channel, []byte(msg.Payload))
			r.logger.Debug("relayed pickup event", "channel", msg.Channel, "subscribers", n)
		}
	}
}
