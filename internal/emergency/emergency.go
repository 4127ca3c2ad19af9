// Package emergency synthesizes a distance stream while satellite positioning
// is unavailable, so lubrication continues on a time basis.
package emergency

import (
	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

const (
	// SimSpeedKmh is the assumed riding speed.
	SimSpeedKmh = 50.0
	// DefaultTimeoutMs is how long the fix must be lost before extrapolation
	// starts.
	DefaultTimeoutMs = 31 * 60 * 1000
	// MaxStepMs bounds a single extrapolation step so a stalled caller cannot
	// inject a large distance at once.
	MaxStepMs = 1000
)

// Result is the outcome of one update.
type Result struct {
	Active     bool
	Entered    bool
	Exited     bool
	Paused     bool // active but no motion detected
	DistanceKm float64
	SpeedKmh   float64
}

// Extrapolator tracks fix loss and produces simulated distance.
type Extrapolator struct {
	timeoutMs uint32

	lossArmed bool
	lossStart clock.Millis

	active   bool
	stepped  bool
	lastStep clock.Millis
}

// New creates an extrapolator. A zero timeout selects DefaultTimeoutMs.
func New(timeoutMs uint32) *Extrapolator {
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}
	return &Extrapolator{timeoutMs: timeoutMs}
}

// SetTimeout changes the loss timeout.
func (e *Extrapolator) SetTimeout(ms uint32) {
	if ms > 0 {
		e.timeoutMs = ms
	}
}

// Active reports whether extrapolation is running.
func (e *Extrapolator) Active() bool { return e.active }

// LossMs returns how long the fix has been lost, or 0.
func (e *Extrapolator) LossMs(now clock.Millis) uint32 {
	if !e.lossArmed {
		return 0
	}
	return clock.Since(now, e.lossStart)
}

// Update is called once per GPS sample. forced treats the fix as invalid and
// skips the timeout. When motion is false the simulation holds without
// producing distance.
func (e *Extrapolator) Update(now clock.Millis, fixValid, forced, motion bool) Result {
	if fixValid && !forced {
		exited := e.active
		e.reset()
		return Result{Exited: exited}
	}

	if !e.lossArmed {
		e.lossArmed = true
		e.lossStart = now
	}

	if !forced && clock.Since(now, e.lossStart) <= e.timeoutMs {
		e.active = false
		e.stepped = false
		return Result{}
	}

	res := Result{Active: true, SpeedKmh: SimSpeedKmh, Entered: !e.active}
	e.active = true

	if !motion || !e.stepped {
		e.lastStep = now
		e.stepped = true
		res.Paused = !motion
		return res
	}

	dt := clock.Since(now, e.lastStep)
	e.lastStep = now
	if dt > MaxStepMs {
		dt = MaxStepMs
	}
	res.DistanceKm = SimSpeedKmh * float64(dt) / 3_600_000
	return res
}

func (e *Extrapolator) reset() {
	e.lossArmed = false
	e.active = false
	e.stepped = false
}
