package engine

import (
	"context"
	"sync"
	"time"
)

// Clock is the engine's only source of time. Tests inject a fake that
// advances on command.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Countdown is a one-tick-per-second timer. Remaining time only decreases;
// onExpire fires exactly once when it reaches zero, after which the
// countdown stops itself.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	expired   bool
	stopped   bool
	onTick    func(remaining int)
	onExpire  func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewCountdown builds a countdown that is driven by calling Tick.
func NewCountdown(seconds int, onTick func(remaining int), onExpire func()) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{
		remaining: seconds,
		onTick:    onTick,
		onExpire:  onExpire,
		done:      make(chan struct{}),
	}
}

// StartCountdown starts a countdown driven by clk's ticker until it expires,
// is stopped, or ctx is done. A countdown with no time left expires before
// StartCountdown returns.
func StartCountdown(ctx context.Context, clk Clock, seconds int, onTick func(remaining int), onExpire func()) *Countdown {
	c := NewCountdown(seconds, onTick, onExpire)
	if c.remaining == 0 {
		c.expire()
		return c
	}
	t := clk.NewTicker(time.Second)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-t.C():
				c.Tick()
			}
		}
	}()
	return c
}

// Tick advances the countdown by one second.
func (c *Countdown) Tick() {
	c.mu.Lock()
	if c.stopped || c.expired {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	fire := remaining == 0
	if fire {
		c.expired = true
		c.stopped = true
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(remaining)
	}
	if fire {
		c.closeDone()
		if c.onExpire != nil {
			c.onExpire()
		}
	}
}

func (c *Countdown) expire() {
	c.mu.Lock()
	if c.expired || c.stopped {
		c.mu.Unlock()
		return
	}
	c.expired = true
	c.stopped = true
	c.mu.Unlock()

	c.closeDone()
	if c.onExpire != nil {
		c.onExpire()
	}
}

// Stop halts the countdown without firing onExpire. It is safe to call more
// than once and from inside the countdown's own callbacks.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.closeDone()
}

func (c *Countdown) closeDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether onExpire has fired.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Done is closed once the countdown has expired or been stopped.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
