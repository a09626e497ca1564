package model

import "time"

// Clock supplies the current time. All timestamping in the engine goes
// through a Clock so that tests can control time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns the time it was set to. Advance moves it
// forward manually.
type FixedClock struct {
	Time time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.Time
}

func (c *FixedClock) Advance(d time.Duration) {
	c.Time = c.Time.Add(d)
}
