package timex

import "time"

// WallClockFloor is the oldest wall-clock value a time sync may carry
// (2020-01-01T00:00:00Z). Anything below it is treated as implausible.
// Stored deadlines below the floor are raw durations, not absolute times.
const WallClockFloor int64 = 1577836800

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clock is the device time base: a monotonic uptime counter that is
// always available, plus an optional wall-clock offset established by an
// external time sync. Wall-clock time is absent at cold boot.
//
// Clock is not safe for concurrent use; the owning service loop is the
// only caller.
type Clock struct {
	// Now is the wall-time source, swappable in tests.
	Now func() time.Time

	start      time.Time
	wallOffset int64 // unix seconds at uptime zero; valid when wallKnown
	wallKnown  bool
}

func NewClock() *Clock {
	return NewClockAt(time.Now)
}

// NewClockAt builds a clock on an injected time source. Tests use it to
// drive uptime deterministically.
func NewClockAt(now func() time.Time) *Clock {
	c := &Clock{Now: now}
	c.start = c.Now()
	return c
}

// NowMono returns the uptime since the clock was created.
func (c *Clock) NowMono() time.Duration { return c.Now().Sub(c.start) }

// UptimeSeconds returns whole seconds since boot.
func (c *Clock) UptimeSeconds() int64 { return int64(c.NowMono() / time.Second) }

// WallKnown reports whether a time sync has been received.
func (c *Clock) WallKnown() bool { return c.wallKnown }

// SetWallClock records the offset between uptime and absolute time.
// Values below WallClockFloor are rejected.
func (c *Clock) SetWallClock(unixSec int64) bool {
	if unixSec < WallClockFloor {
		return false
	}
	c.wallOffset = unixSec - c.UptimeSeconds()
	c.wallKnown = true
	return true
}

// Best returns the best available timestamp in seconds and whether it is
// wall-clock accurate. Before a time sync it returns raw uptime seconds;
// the consumer must treat such values as needing correction.
func (c *Clock) Best() (int64, bool) {
	if c.wallKnown {
		return c.wallOffset + c.UptimeSeconds(), true
	}
	return c.UptimeSeconds(), false
}

// WallFromMono converts an uptime instant to absolute seconds.
// Only meaningful once WallKnown.
func (c *Clock) WallFromMono(d time.Duration) int64 {
	return c.wallOffset + int64(d/time.Second)
}

// MonoFromWall converts an absolute deadline to an uptime deadline.
// Deadlines already in the past map to a non-positive remainder relative
// to NowMono, never underflow.
func (c *Clock) MonoFromWall(unixSec int64) time.Duration {
	return time.Duration(unixSec-c.wallOffset) * time.Second
}
