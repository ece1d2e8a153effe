// Package countdown implements the attempt clock: a once-per-second
// decrement signal and a single terminal expiry signal.
package countdown

import (
	"sync"
	"time"
)

// LowTimeThreshold is the remaining-seconds mark below which the clock is
// shown as running low. It has no behavioral effect.
const LowTimeThreshold = 60

// Kind distinguishes decrement signals from the terminal expiry signal.
type Kind int

const (
	KindTick Kind = iota + 1
	KindExpired
)

// Signal is emitted by a running Countdown.
type Signal struct {
	Kind      Kind
	Remaining int
}

// LowTime reports whether the remaining time should be displayed as low.
func (s Signal) LowTime() bool {
	return IsLowTime(s.Remaining)
}

// IsLowTime reports whether remaining seconds are under the low-time mark.
func IsLowTime(remaining int) bool {
	return remaining < LowTimeThreshold
}

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. Tests substitute a manual clock.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// SystemClock is backed by time.NewTicker.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop() { s.t.Stop() }

// Countdown emits exactly N tick signals followed by exactly one expiry signal
// on an unbuffered channel. Once Stop returns the goroutine has exited, no
// further signal is delivered, and the channel is closed.
type Countdown struct {
	clock   Clock
	seconds int
	out     chan Signal
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a stopped countdown of the given number of seconds.
func New(seconds int, clock Clock) *Countdown {
	if clock == nil {
		clock = SystemClock
	}
	return &Countdown{
		clock:   clock,
		seconds: seconds,
		out:     make(chan Signal),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Signals returns the channel signals are delivered on.
func (c *Countdown) Signals() <-chan Signal {
	return c.out
}

// Start launches the countdown. Calling Start more than once, or after Stop,
// does nothing.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	go c.run()
}

// Stop cancels every pending tick and waits for the countdown goroutine to
// exit. It is safe to call from the goroutine consuming Signals.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	close(c.stop)
	c.mu.Unlock()

	if started {
		<-c.done
	} else {
		close(c.out)
	}
}

func (c *Countdown) run() {
	defer close(c.done)
	defer close(c.out)

	remaining := c.seconds
	if remaining > 0 {
		ticker := c.clock.NewTicker(time.Second)
		defer ticker.Stop()

		for remaining > 0 {
			select {
			case <-c.stop:
				return
			case <-ticker.C():
				remaining--
				if !c.emit(Signal{Kind: KindTick, Remaining: remaining}) {
					return
				}
			}
		}
	}
	c.emit(Signal{Kind: KindExpired})
}

func (c *Countdown) emit(sig Signal) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.out <- sig:
		return true
	case <-c.stop:
		return false
	}
}
