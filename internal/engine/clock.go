package engine

import (
	"fmt"
	"sync/atomic"
)

// Timestamp orders loop states: Epoch counts input changes applied to a
// session, Round counts iterations within one loop evaluation.
type Timestamp struct {
	Epoch int64
	Round int64
}

// Less reports whether t precedes u.
func (t Timestamp) Less(u Timestamp) bool {
	if t.Epoch != u.Epoch {
		return t.Epoch < u.Epoch
	}
	return t.Round < u.Round
}

func (t Timestamp) String() string {
	return fmt.Sprintf("(%d, %d)", t.Epoch, t.Round)
}

// Clock is a monotonic epoch counter.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	epoch atomic.Int64
}

// NewClock creates a clock at epoch 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock at a specific epoch, used to resume a session
// from a store sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.epoch.Store(start)
	return c
}

// Next advances the clock and returns the new epoch.
func (c *Clock) Next() int64 {
	return c.epoch.Add(1)
}

// Current returns the current epoch.
func (c *Clock) Current() int64 {
	return c.epoch.Load()
}
