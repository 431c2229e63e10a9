package hub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kretoffer/encode-now-backend/internal/models"
)

func newRedisHub(t *testing.T, timeout time.Duration) (*Redis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, timeout, zerolog.Nop()), client
}

func waitForChannel(t *testing.T, client *redis.Client, recipientID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), inboxChannel(recipientID)).Result()
		return err == nil && n[inboxChannel(recipientID)] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRedisDeliverWakesWaiter(t *testing.T) {
	h, client := newRedisHub(t, 5*time.Second)

	res := startWait(context.Background(), h, 7)
	waitForChannel(t, client, 7)

	sent := models.Message{
		ID:          42,
		SenderID:    3,
		RecipientID: 7,
		Ciphertext:  []byte{0x00, 0xff, 0x10},
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, h.Deliver(context.Background(), 7, sent))

	select {
	case r := <-res:
		require.NoError(t, r.err)
		require.Len(t, r.msgs, 1)
		got := r.msgs[0]
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, sent.SenderID, got.SenderID)
		assert.Equal(t, sent.Ciphertext, got.Ciphertext)
		assert.True(t, sent.CreatedAt.Equal(got.CreatedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestRedisTimeoutReturnsEmpty(t *testing.T) {
	h, _ := newRedisHub(t, 30*time.Millisecond)

	msgs, err := h.Wait(context.Background(), 7)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestRedisCancelledWait(t *testing.T) {
	h, client := newRedisHub(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	res := startWait(ctx, h, 7)
	waitForChannel(t, client, 7)
	cancel()

	select {
	case r := <-res:
		require.NoError(t, r.err)
		assert.Empty(t, r.msgs)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled wait did not return")
	}
}

func TestRedisDropsUndecodablePayload(t *testing.T) {
	h, client := newRedisHub(t, 200*time.Millisecond)

	res := startWait(context.Background(), h, 7)
	waitForChannel(t, client, 7)

	require.NoError(t, client.Publish(context.Background(), inboxChannel(7), "not msgpack").Err())

	r := <-res
	require.NoError(t, r.err)
	assert.Empty(t, r.msgs)
}
