package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Phase is the countdown state.
type Phase string

const (
	PhaseUninitialized Phase = "UNINITIALIZED"
	PhaseRunning       Phase = "RUNNING"
	PhaseExpired       Phase = "EXPIRED"
)

// TickInterval is how often remaining time is recomputed.
const TickInterval = time.Second

// Clock is the server-corrected time source the countdown reads.
type Clock interface {
	Now() (time.Time, error)
}

// State is a snapshot of the countdown.
type State struct {
	ServerOffset     time.Duration `json:"server_offset"`
	EndTime          time.Time     `json:"end_time"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	Phase            Phase         `json:"phase"`
}

// Options configures a Countdown.
type Options struct {
	// OnTick receives remaining seconds after every recomputation while
	// running. It must not call Stop.
	OnTick func(remaining int64)
	// OnExpire is called exactly once, on its own goroutine. It may call Stop.
	OnExpire func()
	// Offset reports the current server offset for snapshots. Optional.
	Offset func() time.Duration
}

// Countdown drives the exam's remaining-time display. Remaining time is
// always derived from the end time and the server clock, never decremented.
type Countdown struct {
	clock  Clock
	ticker clockwork.Clock
	opts   Options
	log    zerolog.Logger

	// cbMu is held while a callback is checked and started, so Stop can wait
	// out one that has not yet seen the stop.
	cbMu sync.Mutex

	mu        sync.Mutex
	endTime   time.Time
	remaining int64
	phase     Phase
	stopped   bool
	stopCh    chan struct{}
	started   bool
}

// New creates a countdown. ticker drives the 1-second tick source.
func New(clock Clock, ticker clockwork.Clock, opts Options, log zerolog.Logger) *Countdown {
	return &Countdown{
		clock:  clock,
		ticker: ticker,
		opts:   opts,
		log:    log.With().Str("component", "countdown").Logger(),
		phase:  PhaseUninitialized,
		stopCh: make(chan struct{}),
	}
}

// SetEndTime fixes the exam end time. Only the first non-zero call counts.
func (c *Countdown) SetEndTime(end time.Time) {
	c.mu.Lock()
	if c.endTime.IsZero() {
		c.endTime = end
	}
	c.mu.Unlock()
}

// Start launches the tick goroutine and performs an immediate tick.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	t := c.ticker.NewTicker(TickInterval)
	c.mu.Unlock()

	c.Tick()

	go func() {
		defer t.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-t.Chan():
				c.Tick()
			}
		}
	}()
}

// Stop clears the tick source. No callback starts after Stop returns, and a
// running OnTick has finished by then.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.cbMu.Lock()
	c.cbMu.Unlock()
}

// Tick recomputes remaining time and performs any due transition.
func (c *Countdown) Tick() {
	c.mu.Lock()
	if c.stopped || c.phase == PhaseExpired {
		c.mu.Unlock()
		return
	}

	now, err := c.clock.Now()
	if err != nil || c.endTime.IsZero() {
		// Not synced yet: show nothing rather than a wrong countdown.
		c.mu.Unlock()
		return
	}

	if c.phase == PhaseUninitialized {
		c.phase = PhaseRunning
		c.log.Info().Time("end_time", c.endTime).Msg("Countdown running")
	}

	c.remaining = remainingSeconds(c.endTime, now)
	remaining := c.remaining

	expired := false
	if remaining == 0 {
		c.phase = PhaseExpired
		expired = true
	}
	onTick, onExpire := c.opts.OnTick, c.opts.OnExpire
	c.mu.Unlock()

	if onTick != nil {
		c.cbMu.Lock()
		if !c.isStopped() {
			onTick(remaining)
		}
		c.cbMu.Unlock()
	}
	if expired {
		c.log.Info().Msg("Countdown expired")
		if onExpire != nil {
			go c.expire(onExpire)
		}
	}
}

// expire runs onExpire unless Stop got there first. The lock is released
// before the call because onExpire may itself stop the countdown.
func (c *Countdown) expire(onExpire func()) {
	c.cbMu.Lock()
	stopped := c.isStopped()
	c.cbMu.Unlock()
	if !stopped {
		onExpire()
	}
}

func (c *Countdown) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Phase returns the current phase.
func (c *Countdown) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Remaining returns the last computed remaining seconds.
func (c *Countdown) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Snapshot returns the timer state.
func (c *Countdown) Snapshot() State {
	c.mu.Lock()
	s := State{
		EndTime:          c.endTime,
		RemainingSeconds: c.remaining,
		Phase:            c.phase,
	}
	c.mu.Unlock()

	if c.opts.Offset != nil {
		s.ServerOffset = c.opts.Offset()
	}
	return s
}

// Format renders seconds as MM:SS, or HH:MM:SS from one hour up.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// remainingSeconds rounds up so the display reaches zero exactly at end.
func remainingSeconds(end, now time.Time) int64 {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
