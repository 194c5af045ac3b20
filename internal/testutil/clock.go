package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a Clock reports.
var Epoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// Clock is a deterministic wall clock for fixtures: each Next call returns
// the previous instant plus Step, starting at Epoch.
//
// Seeded rows get reproducible timestamps, so golden outputs that include
// them stay stable across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	n    int64
	Step time.Duration
}

// NewClock creates a clock advancing one minute per call.
func NewClock() *Clock {
	return &Clock{Step: time.Minute}
}

// Next advances the clock and returns the new instant. The first call
// returns Epoch.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.n) * c.Step)
	c.n++
	return t
}

// Reset rewinds the clock so the next call returns Epoch again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
