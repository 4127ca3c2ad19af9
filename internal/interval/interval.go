// Package interval maps riding speed to the distance between two chain
// lubrication events.
package interval

import "math"

const (
	// Step is the LUT bucket width in km/h.
	Step = 5
	// MaxSpeed is the highest plausible speed in km/h.
	MaxSpeed = 250
	// Size is the number of LUT cells.
	Size = MaxSpeed/Step + 1

	// MinIntervalKm and MinPulses are the lowest values accepted from config.
	MinIntervalKm = 0.1
	MinPulses     = 1

	lastAnchorOffset = 10.0
)

// SpeedRange is one operator-tunable speed band.
type SpeedRange struct {
	MinSpeed   float64 `yaml:"min_speed" json:"minSpeed"`     // km/h, inclusive
	MaxSpeed   float64 `yaml:"max_speed" json:"maxSpeed"`     // km/h, exclusive
	IntervalKm float64 `yaml:"interval_km" json:"intervalKm"` // distance between dispenses
	Pulses     int     `yaml:"pulses" json:"pulses"`          // pump pulses per dispense
}

// DefaultRanges is the alpine touring profile: shorter intervals at higher
// speed where centrifugal loss is larger.
func DefaultRanges() []SpeedRange {
	return []SpeedRange{
		{MinSpeed: 10, MaxSpeed: 45, IntervalKm: 6.0, Pulses: 2},
		{MinSpeed: 45, MaxSpeed: 75, IntervalKm: 5.0, Pulses: 2},
		{MinSpeed: 75, MaxSpeed: 105, IntervalKm: 4.4, Pulses: 2},
		{MinSpeed: 105, MaxSpeed: 135, IntervalKm: 3.8, Pulses: 2},
		{MinSpeed: 135, MaxSpeed: MaxSpeed, IntervalKm: 3.0, Pulses: 2},
	}
}

// Clamp raises intervals and pulse counts to their safe minimums in place and
// reports whether anything changed.
func Clamp(ranges []SpeedRange) bool {
	changed := false
	for i := range ranges {
		if ranges[i].IntervalKm < MinIntervalKm || math.IsNaN(ranges[i].IntervalKm) {
			ranges[i].IntervalKm = MinIntervalKm
			changed = true
		}
		if ranges[i].Pulses < MinPulses {
			ranges[i].Pulses = MinPulses
			changed = true
		}
	}
	return changed
}

// Index returns the first range containing speed, or -1.
func Index(ranges []SpeedRange, speed float64) int {
	for i, r := range ranges {
		if speed >= r.MinSpeed && speed < r.MaxSpeed {
			return i
		}
	}
	return -1
}

// ActiveIndex is Index with a fallback to the first range, which is how the
// pulse count of an out-of-band speed is chosen.
func ActiveIndex(ranges []SpeedRange, speed float64) int {
	if i := Index(ranges, speed); i >= 0 {
		return i
	}
	return 0
}

type anchor struct {
	speed    float64
	interval float64
}

// LUT holds interpolated intervals per speed bucket. It is immutable once
// built; rebuild it whenever the ranges change.
type LUT struct {
	cells [Size]float64
}

// Build interpolates between range anchors. Each anchor sits at the range
// midpoint, except the last which sits at MinSpeed+10 so an open-ended top
// range does not stretch the slope.
func Build(ranges []SpeedRange) *LUT {
	l := &LUT{}
	if len(ranges) == 0 {
		for i := range l.cells {
			l.cells[i] = MinIntervalKm
		}
		return l
	}

	anchors := make([]anchor, len(ranges))
	for i, r := range ranges {
		center := (r.MinSpeed + r.MaxSpeed) / 2
		if i == len(ranges)-1 {
			center = r.MinSpeed + lastAnchorOffset
		}
		anchors[i] = anchor{speed: center, interval: r.IntervalKm}
	}
	first, last := anchors[0], anchors[len(anchors)-1]

	for i := range l.cells {
		speed := float64(i * Step)
		switch {
		case speed <= first.speed:
			l.cells[i] = first.interval
		case speed >= last.speed:
			l.cells[i] = last.interval
		default:
			l.cells[i] = last.interval
			for j := 0; j < len(anchors)-1; j++ {
				a, b := anchors[j], anchors[j+1]
				if speed >= a.speed && speed < b.speed {
					slope := (b.interval - a.interval) / (b.speed - a.speed)
					l.cells[i] = a.interval + slope*(speed-a.speed)
					break
				}
			}
		}
	}
	return l
}

// Lookup returns the target interval for speed by direct bucket index.
func (l *LUT) Lookup(speed float64) float64 {
	return l.cells[cellIndex(speed)]
}

// Cells returns a copy of the table.
func (l *LUT) Cells() [Size]float64 {
	return l.cells
}

func cellIndex(speed float64) int {
	if math.IsNaN(speed) || speed < 0 {
		return 0
	}
	i := int(speed / Step)
	if i >= Size {
		i = Size - 1
	}
	return i
}
