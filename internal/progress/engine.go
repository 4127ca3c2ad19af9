// Package progress accumulates normalized progress toward the next
// lubrication event.
package progress

import (
	"github.com/shaunagostinho/chain-oiler/internal/interval"
)

const (
	smoothingKeep = 0.95
	smoothingNew  = 0.05

	// triggerEpsilon absorbs float drift from summing many small deltas so a
	// stream that adds up to exactly one interval fires on the last sample.
	triggerEpsilon = 1e-9
)

// DispenseRequest asks the pump for one oiling event.
type DispenseRequest struct {
	Pulses     int
	RangeIndex int
}

// Engine owns ProgressState and the event history.
type Engine struct {
	ranges []interval.SpeedRange
	lut    *interval.LUT

	progress          float64
	smoothedInterval  float64
	startupDelayKm    float64
	startupDistanceKm float64

	current []float64 // seconds per range since last dispense
	history History
}

// NewEngine builds an engine over ranges. startupDelayM is ridden distance,
// in meters, that must pass before progress accumulates.
func NewEngine(ranges []interval.SpeedRange, startupDelayM float64) *Engine {
	e := &Engine{
		startupDelayKm: startupDelayM / 1000,
		history:        NewHistory(),
	}
	e.SetRanges(ranges)
	return e
}

// SetRanges replaces the range set and rebuilds the LUT. Per-range time
// accounting is resized to match.
func (e *Engine) SetRanges(ranges []interval.SpeedRange) {
	e.ranges = append([]interval.SpeedRange(nil), ranges...)
	e.lut = interval.Build(e.ranges)
	if len(e.current) != len(e.ranges) {
		cur := make([]float64, len(e.ranges))
		copy(cur, e.current)
		e.current = cur
	}
}

// Ranges returns a copy of the active ranges.
func (e *Engine) Ranges() []interval.SpeedRange {
	return append([]interval.SpeedRange(nil), e.ranges...)
}

// LUT returns the current lookup table.
func (e *Engine) LUT() *interval.LUT { return e.lut }

// OnDistance advances progress by distanceKm ridden at speedKmh. The
// multiplier is 2 under Rain and 1 otherwise. It reports whether a dispense
// is due; the caller decides whether it may happen now and calls Fire.
func (e *Engine) OnDistance(distanceKm, speedKmh, multiplier float64) bool {
	if distanceKm <= 0 {
		return false
	}

	if e.startupDistanceKm < e.startupDelayKm {
		e.startupDistanceKm += distanceKm
		return false
	}

	if speedKmh > 0.1 {
		e.current[interval.ActiveIndex(e.ranges, speedKmh)] += distanceKm / speedKmh * 3600
	}

	target := e.lut.Lookup(speedKmh)
	if e.smoothedInterval <= 0 {
		e.smoothedInterval = target
	}
	e.smoothedInterval = e.smoothedInterval*smoothingKeep + target*smoothingNew
	if e.smoothedInterval <= 0 {
		return e.Due()
	}

	if multiplier <= 0 {
		multiplier = 1
	}
	e.progress += distanceKm / e.smoothedInterval * multiplier
	return e.Due()
}

// Due reports whether progress has reached a full interval.
func (e *Engine) Due() bool {
	return e.progress >= 1-triggerEpsilon
}

// Fire consumes one interval of progress, records a history entry with the
// per-range times accumulated so far, and returns the request for the range
// matching speedKmh. The remainder is carried forward.
func (e *Engine) Fire(speedKmh float64) DispenseRequest {
	idx := interval.ActiveIndex(e.ranges, speedKmh)

	seconds := make([]float64, len(e.current))
	copy(seconds, e.current)
	for i := range e.current {
		e.current[i] = 0
	}
	e.history.Push(Event{RangeIndex: idx, Seconds: seconds})

	e.progress -= 1
	if e.progress < 0 {
		e.progress = 0
	}

	pulses := interval.MinPulses
	if idx < len(e.ranges) {
		pulses = e.ranges[idx].Pulses
	}
	return DispenseRequest{Pulses: pulses, RangeIndex: idx}
}

// Progress returns the raw progress value (≥ 1 means due).
func (e *Engine) Progress() float64 { return e.progress }

// ProgressPercent returns progress scaled to percent.
func (e *Engine) ProgressPercent() float64 { return e.progress * 100 }

// SmoothedInterval returns the low-pass filtered target interval in km.
func (e *Engine) SmoothedInterval() float64 { return e.smoothedInterval }

// DistanceSinceLast estimates the km ridden toward the next event.
func (e *Engine) DistanceSinceLast() float64 { return e.progress * e.smoothedInterval }

// SetStartupDelay changes the startup delay. Distance already ridden toward
// it is kept.
func (e *Engine) SetStartupDelay(meters float64) {
	e.startupDelayKm = meters / 1000
}

// ResetProgress sets progress back to zero.
func (e *Engine) ResetProgress() {
	e.progress = 0
}

// ResetStats clears history and per-range times.
func (e *Engine) ResetStats() {
	for i := range e.current {
		e.current[i] = 0
	}
	e.history = NewHistory()
}

// State is the persisted part of the engine.
type State struct {
	Progress         float64   `yaml:"progress" json:"progress"`
	SmoothedInterval float64   `yaml:"smoothed_interval" json:"smoothedInterval"`
	CurrentSeconds   []float64 `yaml:"current_seconds" json:"currentSeconds"`
	History          History   `yaml:"history" json:"history"`
}

// Export copies the engine state for persistence.
func (e *Engine) Export() State {
	return State{
		Progress:         e.progress,
		SmoothedInterval: e.smoothedInterval,
		CurrentSeconds:   append([]float64(nil), e.current...),
		History:          e.history,
	}
}

// Restore loads persisted state. Negative or NaN progress restarts at zero.
func (e *Engine) Restore(s State) {
	e.progress = s.Progress
	if !(e.progress >= 0) {
		e.progress = 0
	}
	if s.SmoothedInterval > 0 {
		e.smoothedInterval = s.SmoothedInterval
	}
	for i := range e.current {
		e.current[i] = 0
		if i < len(s.CurrentSeconds) {
			e.current[i] = s.CurrentSeconds[i]
		}
	}
	e.history = s.History
	if e.history.Count == 0 && e.history.Head == 0 {
		e.history = NewHistory()
	}
}
