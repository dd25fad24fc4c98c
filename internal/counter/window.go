package counter

import (
	"sync"
	"time"

	"ddos-guard/internal/model"
)

// WindowedCounter counts packets per source inside one global time window.
// When a Record call observes that the window has elapsed, every source's
// count is dropped at once and the window restarts at that call's time.
type WindowedCounter struct {
	mu          sync.RWMutex
	window      time.Duration
	windowStart time.Time
	counts      map[model.SourceIdentifier]int
	onReset     func(cleared int)
}

// Snapshot is a point-in-time copy of the window state.
type Snapshot struct {
	WindowStart time.Time                      `json:"window_start"`
	Counts      map[model.SourceIdentifier]int `json:"counts"`
}

// New creates a counter with the given window length. The first window
// opens on the first recorded packet.
func New(window time.Duration) *WindowedCounter {
	return &WindowedCounter{
		window: window,
		counts: make(map[model.SourceIdentifier]int),
	}
}

// OnReset registers a hook invoked (under the counter lock) after every
// window expiry with the number of sources that were dropped.
func (c *WindowedCounter) OnReset(fn func(cleared int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = fn
}

// Record increments source's count and returns the new value.
func (c *WindowedCounter) Record(source model.SourceIdentifier, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() {
		c.windowStart = now
	} else if now.Sub(c.windowStart) > c.window {
		cleared := len(c.counts)
		c.counts = make(map[model.SourceIdentifier]int)
		c.windowStart = now
		if c.onReset != nil {
			c.onReset(cleared)
		}
	}

	c.counts[source]++
	return c.counts[source]
}

// Reset zeroes one source without touching the window or other sources.
func (c *WindowedCounter) Reset(source model.SourceIdentifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.counts[source]; ok {
		c.counts[source] = 0
	}
}

// Count returns the current count for source.
func (c *WindowedCounter) Count(source model.SourceIdentifier) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[source]
}

// Len returns the number of sources tracked in the current window.
func (c *WindowedCounter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counts)
}

// WindowStart returns when the current window opened, zero before the
// first packet.
func (c *WindowedCounter) WindowStart() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowStart
}

// Window returns the configured window length.
func (c *WindowedCounter) Window() time.Duration {
	return c.window
}

func (c *WindowedCounter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[model.SourceIdentifier]int, len(c.counts))
	for source, n := range c.counts {
		counts[source] = n
	}
	return Snapshot{
		WindowStart: c.windowStart,
		Counts:      counts,
	}
}
