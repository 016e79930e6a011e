// Package rsstest provides test doubles for the rss package.
package rsstest

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
)

// Clock is a testclock.Clock that advances itself whenever a wait is
// requested, so backoff pauses complete without real time passing. Each
// requested wait is recorded.
type Clock struct {
	testclock.AutoAdvancingClock

	mu     sync.Mutex
	delays []time.Duration
}

var _ clock.Clock = (*Clock)(nil)

// NewClock returns a clock starting at now.
func NewClock(now time.Time) *Clock {
	tc := testclock.NewClock(now)
	return &Clock{
		AutoAdvancingClock: testclock.AutoAdvancingClock{Clock: tc, Advance: tc.Advance},
	}
}

// After records d, then advances the clock past it.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return c.AutoAdvancingClock.After(d)
}

// Delays returns every wait requested through After so far, in order.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Elapsed returns the total simulated time waited.
func (c *Clock) Elapsed() time.Duration {
	var total time.Duration
	for _, d := range c.Delays() {
		total += d
	}
	return total
}
