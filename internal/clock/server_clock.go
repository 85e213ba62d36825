package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrNotSynced is returned when server time is requested before the first sync.
var ErrNotSynced = errors.New("server clock not synced")

// TimeSource returns the authoritative server time as an RFC 3339 string.
type TimeSource interface {
	ServerTime(ctx context.Context) (string, error)
}

// ServerClock tracks the offset between server time and the local clock.
// Now never moves backwards across syncs.
type ServerClock struct {
	local clockwork.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	offset   time.Duration
	syncedAt time.Time
	synced   bool
	last     time.Time
	onSync   []func()
}

// NewServerClock creates a ServerClock reading local time from c.
func NewServerClock(c clockwork.Clock, log zerolog.Logger) *ServerClock {
	return &ServerClock{
		local: c,
		log:   log.With().Str("component", "server_clock").Logger(),
	}
}

// Sync records the offset between serverTime and the local clock.
func (c *ServerClock) Sync(serverTime string) error {
	st, err := parseServerTime(serverTime)
	if err != nil {
		return err
	}

	c.mu.Lock()
	localNow := c.local.Now()
	first := !c.synced
	c.offset = st.Sub(localNow)
	c.syncedAt = localNow
	c.synced = true
	offset := c.offset
	hooks := c.onSync
	c.mu.Unlock()

	c.log.Debug().
		Dur("offset", offset).
		Bool("first", first).
		Msg("Server clock synced")

	for _, fn := range hooks {
		fn()
	}
	return nil
}

// OnSync registers fn to run after every successful sync.
func (c *ServerClock) OnSync(fn func()) {
	c.mu.Lock()
	c.onSync = append(c.onSync, fn)
	c.mu.Unlock()
}

// Now returns local time corrected by the last offset. Before the first
// sync it returns ErrNotSynced.
func (c *ServerClock) Now() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.synced {
		return time.Time{}, ErrNotSynced
	}

	now := c.local.Now().Add(c.offset)
	// A resync that pulls the offset back must not rewind time already observed.
	if now.Before(c.last) {
		return c.last, nil
	}
	c.last = now
	return now, nil
}

// Synced reports whether at least one sync succeeded.
func (c *ServerClock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// Offset returns the current server minus local offset.
func (c *ServerClock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// SyncedAt returns the local instant of the last sync.
func (c *ServerClock) SyncedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncedAt
}

// SyncFrom fetches server time from src once and records it.
func (c *ServerClock) SyncFrom(ctx context.Context, src TimeSource) error {
	st, err := src.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("fetch server time: %w", err)
	}
	return c.Sync(st)
}

// RunSync syncs immediately, unless a sync already succeeded, and then every
// interval until ctx is done. Failures are logged; the previous offset stays
// in effect.
func (c *ServerClock) RunSync(ctx context.Context, src TimeSource, interval time.Duration) {
	if !c.Synced() {
		if err := c.SyncFrom(ctx, src); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("Initial clock sync failed")
		}
	}

	ticker := c.local.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.SyncFrom(ctx, src); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("Clock resync failed")
			}
		}
	}
}

func parseServerTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server time %q: %w", s, err)
	}
	return t, nil
}
