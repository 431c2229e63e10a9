package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kretoffer/encode-now-backend/internal/metrics"
	"github.com/kretoffer/encode-now-backend/internal/models"
)

// Redis is a Hub backed by Redis pub/sub, one channel per recipient, so
// any number of relay instances can share waiters and deliveries.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedis creates a Redis-backed hub. A non-positive timeout means
// DefaultTimeout.
func NewRedis(client *redis.Client, timeout time.Duration, logger zerolog.Logger) *Redis {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Redis{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// inboxChannel returns the pub/sub channel for a recipient.
func inboxChannel(recipientID int64) string {
	return fmt.Sprintf("relay:inbox:%d", recipientID)
}

// Deliver publishes msg on the recipient's channel.
func (h *Redis) Deliver(ctx context.Context, recipientID int64, msg models.Message) error {
	payload, err := msgpack.Marshal(&msg)
	if err != nil {
		return err
	}
	return h.client.Publish(ctx, inboxChannel(recipientID), payload).Err()
}

// Wait subscribes to the recipient's channel and blocks until a message is
// published, the timeout elapses, or ctx is done. Messages already queued
// behind the first one are returned with it.
func (h *Redis) Wait(ctx context.Context, recipientID int64) ([]models.Message, error) {
	pubsub := h.client.Subscribe(ctx, inboxChannel(recipientID))
	defer pubsub.Close()

	// Block until the subscription is live so no publish is missed after
	// this point.
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	metrics.ActiveWaiters.Inc()
	defer metrics.ActiveWaiters.Dec()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	ch := pubsub.Channel()
	msgs := make([]models.Message, 0)
	outcome := outcomeDelivered

	select {
	case m, ok := <-ch:
		if ok {
			msgs = h.decode(msgs, m)
		}
	drain:
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					break drain
				}
				msgs = h.decode(msgs, m)
			default:
				break drain
			}
		}
	case <-timer.C:
		outcome = outcomeTimeout
	case <-ctx.Done():
		outcome = outcomeCancelled
	}
	metrics.PollsCompleted.WithLabelValues(outcome).Inc()

	return msgs, nil
}

func (h *Redis) decode(msgs []models.Message, m *redis.Message) []models.Message {
	var msg models.Message
	if err := msgpack.Unmarshal([]byte(m.Payload), &msg); err != nil {
		h.logger.Warn().Err(err).Str("channel", m.Channel).Msg("dropping undecodable notification")
		return msgs
	}
	return append(msgs, msg)
}
