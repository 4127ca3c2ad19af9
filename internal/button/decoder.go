// Package button turns debounced press/release edges of the handlebar button
// into mode actions.
package button

import (
	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

const (
	// A release counts as a click when the press lasted strictly between
	// ClickMinMs and ClickMaxMs.
	ClickMinMs = 50
	ClickMaxMs = 1500

	// ClickWindowMs is how long the decoder waits for another click before
	// committing the count.
	ClickWindowMs = 600

	FlushClicks   = 3
	OffroadClicks = 6

	// SessionHoldMs and BleedHoldMs are the long-hold thresholds.
	SessionHoldMs = 3000
	BleedHoldMs   = 10000

	// StandstillSpeed is the speed below which long holds are honored.
	StandstillSpeed = 7.0
)

// Action is a decoded user intent.
type Action int

const (
	ToggleRain Action = iota + 1
	ToggleFlush
	ToggleOffroad
	ConfigSession
	StartBleeding
)

func (a Action) String() string {
	switch a {
	case ToggleRain:
		return "toggle-rain"
	case ToggleFlush:
		return "toggle-flush"
	case ToggleOffroad:
		return "toggle-offroad"
	case ConfigSession:
		return "config-session"
	case StartBleeding:
		return "start-bleeding"
	default:
		return "none"
	}
}

// State of the click counter.
type State int

const (
	Idle State = iota
	Counting
)

func (s State) String() string {
	if s == Counting {
		return "counting"
	}
	return "idle"
}

// Decoder is advanced once per tick. It never blocks.
type Decoder struct {
	state    State
	clicks   int
	deadline clock.Millis

	held       bool
	pressStart clock.Millis
	sessionHit bool
	bleedHit   bool

	pending []Action
}

// NewDecoder returns an idle decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// State returns the counter state and the clicks counted so far.
func (d *Decoder) State() (State, int) { return d.state, d.clicks }

// Held reports whether the button is currently down.
func (d *Decoder) Held() bool { return d.held }

// Press records a press edge.
func (d *Decoder) Press(now clock.Millis) {
	if d.held {
		return
	}
	d.held = true
	d.pressStart = now
	d.sessionHit = false
	d.bleedHit = false
}

// Release records a release edge and counts a click if the press was short.
func (d *Decoder) Release(now clock.Millis) {
	if !d.held {
		return
	}
	d.held = false
	dur := clock.Since(now, d.pressStart)
	if dur <= ClickMinMs || dur >= ClickMaxMs {
		return
	}

	d.clicks++
	d.state = Counting
	d.deadline = now.Add(ClickWindowMs)
	if d.clicks == OffroadClicks {
		d.pending = append(d.pending, ToggleOffroad)
		d.reset()
	}
}

// Tick resolves expired click windows and long holds.
func (d *Decoder) Tick(now clock.Millis, speedKmh float64) []Action {
	out := d.pending
	d.pending = nil

	if d.state == Counting && clock.After(now, d.deadline) {
		switch d.clicks {
		case 1:
			out = append(out, ToggleRain)
		case FlushClicks:
			out = append(out, ToggleFlush)
		}
		d.reset()
	}

	if d.held && speedKmh < StandstillSpeed {
		held := clock.Since(now, d.pressStart)
		if held > SessionHoldMs && !d.sessionHit {
			d.sessionHit = true
			out = append(out, ConfigSession)
		}
		if held > BleedHoldMs && !d.bleedHit {
			d.bleedHit = true
			out = append(out, StartBleeding)
		}
	}
	return out
}

func (d *Decoder) reset() {
	d.state = Idle
	d.clicks = 0
}
