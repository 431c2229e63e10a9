package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kretoffer/encode-now-backend/internal/models"
)

type waitResult struct {
	msgs []models.Message
	err  error
}

func startWait(ctx context.Context, h Hub, recipientID int64) <-chan waitResult {
	out := make(chan waitResult, 1)
	go func() {
		msgs, err := h.Wait(ctx, recipientID)
		out <- waitResult{msgs, err}
	}()
	return out
}

func waitForSubscribers(t *testing.T, h *Local, recipientID int64, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Subscribers(recipientID) == n
	}, time.Second, time.Millisecond)
}

func TestLocalDeliverWakesWaiter(t *testing.T) {
	h := NewLocal(5*time.Second, zerolog.Nop())

	res := startWait(context.Background(), h, 7)
	waitForSubscribers(t, h, 7, 1)

	require.NoError(t, h.Deliver(context.Background(), 7, models.Message{ID: 1, RecipientID: 7}))

	select {
	case r := <-res:
		require.NoError(t, r.err)
		require.Len(t, r.msgs, 1)
		assert.Equal(t, int64(1), r.msgs[0].ID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.Equal(t, 0, h.Subscribers(7))
}

func TestLocalTimeoutReturnsEmpty(t *testing.T) {
	h := NewLocal(20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	msgs, err := h.Wait(context.Background(), 7)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, h.Subscribers(7))
}

func TestLocalDeliverOnlyReachesItsRecipient(t *testing.T) {
	h := NewLocal(50*time.Millisecond, zerolog.Nop())

	res := startWait(context.Background(), h, 7)
	waitForSubscribers(t, h, 7, 1)

	require.NoError(t, h.Deliver(context.Background(), 8, models.Message{ID: 1, RecipientID: 8}))

	r := <-res
	require.NoError(t, r.err)
	assert.Empty(t, r.msgs)
}

func TestLocalFanOut(t *testing.T) {
	h := NewLocal(5*time.Second, zerolog.Nop())

	first := startWait(context.Background(), h, 7)
	second := startWait(context.Background(), h, 7)
	waitForSubscribers(t, h, 7, 2)

	require.NoError(t, h.Deliver(context.Background(), 7, models.Message{ID: 3, RecipientID: 7}))

	for _, res := range []<-chan waitResult{first, second} {
		r := <-res
		require.NoError(t, r.err)
		require.Len(t, r.msgs, 1)
		assert.Equal(t, int64(3), r.msgs[0].ID)
	}
	assert.Equal(t, 0, h.Subscribers(7))
}

func TestLocalBuffersDeliveriesBeforeWake(t *testing.T) {
	h := NewLocal(5*time.Second, zerolog.Nop())

	handle, sub := h.register(7)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, h.Deliver(context.Background(), 7, models.Message{ID: id, RecipientID: 7}))
	}

	// Repeated signals collapse into one pending wake.
	assert.Len(t, sub.wake, 1)

	msgs := h.unregister(7, handle)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestLocalCancelRemovesOnlyOwnSubscriber(t *testing.T) {
	h := NewLocal(5*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := startWait(ctx, h, 7)
	kept := startWait(context.Background(), h, 7)
	waitForSubscribers(t, h, 7, 2)

	cancel()
	r := <-cancelled
	require.NoError(t, r.err)
	assert.Empty(t, r.msgs)
	waitForSubscribers(t, h, 7, 1)

	require.NoError(t, h.Deliver(context.Background(), 7, models.Message{ID: 9, RecipientID: 7}))
	r = <-kept
	require.Len(t, r.msgs, 1)
	assert.Equal(t, int64(9), r.msgs[0].ID)
}

func TestLocalDeliverWithoutWaitersIsNoop(t *testing.T) {
	h := NewLocal(20*time.Millisecond, zerolog.Nop())

	require.NoError(t, h.Deliver(context.Background(), 7, models.Message{ID: 1, RecipientID: 7}))
	assert.Equal(t, 0, h.Subscribers(7))

	// A later wait does not see the earlier delivery.
	msgs, err := h.Wait(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLocalConcurrentWaitAndDeliver(t *testing.T) {
	h := NewLocal(200*time.Millisecond, zerolog.Nop())

	var wg sync.WaitGroup
	for i := int64(0); i < 20; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_, err := h.Wait(context.Background(), id%4)
			assert.NoError(t, err)
		}(i)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, h.Deliver(context.Background(), id%4, models.Message{ID: id}))
		}(i)
	}
	wg.Wait()

	for id := int64(0); id < 4; id++ {
		assert.Equal(t, 0, h.Subscribers(id))
	}
}
