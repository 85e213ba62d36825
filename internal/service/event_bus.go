package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// subscriberBuffer is how many undelivered messages a slow subscriber may
// hold before new ones are dropped.
const subscriberBuffer = 32

// EventBus fans messages out to every subscriber of a channel.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active. The returned
	// function unsubscribes and closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// MemoryBus is an in-process EventBus.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
	log  zerolog.Logger
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[chan []byte]struct{}),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			b.log.Warn().Str("channel", channel).Msg("Subscriber too slow, message dropped")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[channel] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// RedisBus relays through Redis Pub/Sub so several mock-server instances
// share proctor traffic.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus creates a RedisBus.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no message published right
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}, nil
}
