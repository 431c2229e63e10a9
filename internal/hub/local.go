package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kretoffer/encode-now-backend/internal/metrics"
	"github.com/kretoffer/encode-now-backend/internal/models"
)

// subscriber is one suspended Wait call.
type subscriber struct {
	wake chan struct{} // capacity 1, so repeated signals collapse
	buf  []models.Message
}

// Local is an in-process Hub. It only sees deliveries made in the same
// process, so it suits single-instance deployments.
type Local struct {
	mu      sync.Mutex
	waiters map[int64]map[uuid.UUID]*subscriber
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLocal creates an in-process hub. A non-positive timeout means
// DefaultTimeout.
func NewLocal(timeout time.Duration, logger zerolog.Logger) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{
		waiters: make(map[int64]map[uuid.UUID]*subscriber),
		timeout: timeout,
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Wait registers a subscriber for recipientID and blocks until a message is
// delivered, the timeout elapses, or ctx is done.
func (h *Local) Wait(ctx context.Context, recipientID int64) ([]models.Message, error) {
	handle, sub := h.register(recipientID)

	metrics.ActiveWaiters.Inc()
	defer metrics.ActiveWaiters.Dec()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	outcome := outcomeDelivered
	select {
	case <-sub.wake:
	case <-timer.C:
		outcome = outcomeTimeout
	case <-ctx.Done():
		outcome = outcomeCancelled
	}

	// Anything delivered before teardown is returned, even on timeout.
	msgs := h.unregister(recipientID, handle)
	if len(msgs) > 0 {
		outcome = outcomeDelivered
	}
	metrics.PollsCompleted.WithLabelValues(outcome).Inc()

	h.logger.Debug().
		Int64("recipient_id", recipientID).
		Str("outcome", outcome).
		Int("messages", len(msgs)).
		Msg("wait finished")

	return msgs, nil
}

// Deliver appends msg to the buffer of every subscriber of recipientID and
// wakes them. Without subscribers it does nothing.
func (h *Local) Deliver(_ context.Context, recipientID int64, msg models.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.waiters[recipientID] {
		sub.buf = append(sub.buf, msg)
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribers reports how many waits are registered for recipientID.
func (h *Local) Subscribers(recipientID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[recipientID])
}

func (h *Local) register(recipientID int64) (uuid.UUID, *subscriber) {
	handle := uuid.New()
	sub := &subscriber{wake: make(chan struct{}, 1)}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.waiters[recipientID]
	if !ok {
		subs = make(map[uuid.UUID]*subscriber)
		h.waiters[recipientID] = subs
	}
	subs[handle] = sub
	return handle, sub
}

// unregister removes only the given handle and returns its buffer.
func (h *Local) unregister(recipientID int64, handle uuid.UUID) []models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.waiters[recipientID]
	sub, ok := subs[handle]
	if !ok {
		return []models.Message{}
	}
	delete(subs, handle)
	if len(subs) == 0 {
		delete(h.waiters, recipientID)
	}

	if sub.buf == nil {
		return []models.Message{}
	}
	return sub.buf
}
