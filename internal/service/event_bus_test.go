package service

import (
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func exerciseBus(t *testing.T, bus EventBus) {
	ctx := t.Context()

	a, cancelA, err := bus.Subscribe(ctx, "room:1")
	require.NoError(t, err)
	b, cancelB, err := bus.Subscribe(ctx, "room:1")
	require.NoError(t, err)
	other, cancelOther, err := bus.Subscribe(ctx, "room:2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, bus.Publish(ctx, "room:1", []byte("hello")))
	assert.Equal(t, "hello", receive(t, a))
	assert.Equal(t, "hello", receive(t, b))

	cancelA()
	cancelA()
	require.NoError(t, bus.Publish(ctx, "room:1", []byte("again")))
	assert.Equal(t, "again", receive(t, b))
	cancelB()

	select {
	case msg := <-other:
		t.Fatalf("unexpected message on other channel: %s", msg)
	default:
	}
}

func TestMemoryBus(t *testing.T) {
	exerciseBus(t, NewMemoryBus(zerolog.Nop()))
}

func TestMemoryBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewMemoryBus(zerolog.Nop())
	ch, cancel, err := bus.Subscribe(t.Context(), "c")
	require.NoError(t, err)
	defer cancel()

	for range subscriberBuffer + 5 {
		require.NoError(t, bus.Publish(t.Context(), "c", []byte("x")))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestRedisBus(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseBus(t, NewRedisBus(rdb))
}
