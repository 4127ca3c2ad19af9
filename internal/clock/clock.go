// Package clock provides the wrapping millisecond tick the control loop runs
// on, with a monotonic source for the device and a manual one for tests.
package clock

import "time"

// Millis is a free-running millisecond tick counter. It wraps after ~49.7
// days; compare values only through Since.
type Millis uint32

// Since returns the elapsed milliseconds from then to now. Unsigned
// subtraction keeps the result correct across a single counter wrap.
func Since(now, then Millis) uint32 {
	return uint32(now - then)
}

// Add returns m advanced by d milliseconds.
func (m Millis) Add(d uint32) Millis {
	return m + Millis(d)
}

// Source provides the current tick.
type Source interface {
	Now() Millis
}

// Monotonic derives ticks from the process monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic starts a counter at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Now() Millis {
	return Millis(uint64(time.Since(m.start).Milliseconds()))
}

// Manual is a settable Source for simulation.
type Manual struct {
	T Millis
}

func (m *Manual) Now() Millis { return m.T }

// Advance moves the manual clock forward by d milliseconds.
func (m *Manual) Advance(d uint32) { m.T = m.T.Add(d) }

// After reports whether now is past deadline. Deadlines must lie within
// half the counter range of now.
func After(now, deadline Millis) bool {
	return int32(uint32(now-deadline)) > 0
}
