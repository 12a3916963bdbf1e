package pair

import "time"

// Clock supplies block time in unix seconds. The pair never reads wall
// time directly so that replays are deterministic.
type Clock interface {
	Now() uint64
}

// ManualClock is advanced explicitly by the host (the engine sets it to
// each command's timestamp).
type ManualClock struct {
	now uint64
}

func NewManualClock(now uint64) *ManualClock { return &ManualClock{now: now} }

func (c *ManualClock) Now() uint64 { return c.now }

// Set moves the clock forward; earlier timestamps are ignored so block
// time never runs backwards.
func (c *ManualClock) Set(now uint64) {
	if now > c.now {
		c.now = now
	}
}

func (c *ManualClock) Advance(d time.Duration) {
	c.now += uint64(d / time.Second)
}

// SystemClock reads wall time.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }
