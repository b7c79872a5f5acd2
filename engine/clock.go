package engine

import (
	"sync"
	"time"
)

// Clock drives the runtime's tick function at a fixed interval
type Clock interface {
	// Arm starts calling tick every interval, replacing any earlier arming.
	Arm(interval time.Duration, tick func())
	// Disarm stops the ticks. Safe to call from inside tick.
	Disarm()
	Armed() bool
}

// ---------------------------------------------------------------------------
// TickerClock
// ---------------------------------------------------------------------------

// TickerClock ticks on a time.Ticker goroutine
type TickerClock struct {
	mu   sync.Mutex
	stop chan struct{}
}

// NewTickerClock returns a disarmed real-time clock
func NewTickerClock() *TickerClock {
	return &TickerClock{}
}

// Arm implements Clock
func (c *TickerClock) Arm(interval time.Duration, tick func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				tick()
			case <-stop:
				return
			}
		}
	}()
}

// Disarm implements Clock
func (c *TickerClock) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Armed implements Clock
func (c *TickerClock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// ---------------------------------------------------------------------------
// ManualClock
// ---------------------------------------------------------------------------

// ManualClock only ticks when Tick is called. Tests and embedders that own
// their frame loop use it.
type ManualClock struct {
	mu       sync.Mutex
	interval time.Duration
	tick     func()
	ticks    int
}

// NewManualClock returns a disarmed manual clock
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Arm implements Clock
func (c *ManualClock) Arm(interval time.Duration, tick func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
	c.tick = tick
}

// Disarm implements Clock
func (c *ManualClock) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = nil
}

// Armed implements Clock
func (c *ManualClock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick != nil
}

// Interval returns the interval of the last arming
func (c *ManualClock) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Ticks returns how many ticks have been delivered
func (c *ManualClock) Ticks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Tick delivers one tick and reports whether the clock was armed
func (c *ManualClock) Tick() bool {
	c.mu.Lock()
	tick := c.tick
	if tick != nil {
		c.ticks++
	}
	c.mu.Unlock()
	if tick == nil {
		return false
	}
	tick()
	return true
}

// Drain ticks until the clock disarms itself or max ticks have run, and
// returns the number of ticks delivered.
func (c *ManualClock) Drain(max int) int {
	n := 0
	for n < max && c.Tick() {
		n++
	}
	return n
}
