package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"logitrack/internal/models"
)

// RedisBridge publishes envelopes to Redis pub/sub channels named after
// topics, so several instances share one subscriber population. Events are
// not written to the local hub directly: the bridge's own subscription
// receives them back and forwards, which gives every instance, this one
// included, exactly one delivery per event.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	pubsub *redis.PubSub
}

func NewRedisBridge(ctx context.Context, client *redis.Client, hub *Hub) *RedisBridge {
	b := &RedisBridge{
		client: client,
		hub:    hub,
		pubsub: client.PSubscribe(ctx, "delivery:*", "driver:*"),
	}
	go b.forward()
	return b
}

func (b *RedisBridge) forward() {
	for msg := range b.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logrus.WithError(err).WithField("channel", msg.Channel).
				Warn("Discarding malformed broadcast payload.")
			continue
		}
		b.hub.Deliver([]string{msg.Channel}, env)
	}
}

func (b *RedisBridge) publish(topic string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode broadcast envelope.")
		return
	}
	if err := b.client.Publish(context.Background(), topic, payload).Err(); err != nil {
		logrus.WithError(err).WithField("topic", topic).
			Error("Failed to publish broadcast to redis.")
	}
}

func (b *RedisBridge) PublishStatus(deliveryID uint, status string) {
	b.publish(DeliveryTopic(deliveryID), statusEnvelope(deliveryID, status))
}

func (b *RedisBridge) PublishLocation(ping *models.LocationPing) {
	env := locationEnvelope(ping)
	b.publish(DeliveryTopic(ping.DeliveryID), env)
	b.publish(DriverTopic(ping.DriverID), env)
}

func (b *RedisBridge) Close() error {
	return b.pubsub.Close()
}
