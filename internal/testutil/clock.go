package testutil

import (
	"sync"
	"time"
)

// BaseTime is the first timestamp every Clock hands out.
var BaseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// Clock hands out strictly increasing timestamps one minute apart, starting
// at BaseTime, so fixtures get distinct created_at values in call order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu sync.Mutex
	n  int
}

// NewClock creates a clock whose first Next() returns BaseTime.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next timestamp.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := At(c.n)
	c.n++
	return t
}

// Reset restarts the clock at BaseTime.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}

// At returns BaseTime plus n minutes.
func At(n int) time.Time {
	return BaseTime.Add(time.Duration(n) * time.Minute)
}
