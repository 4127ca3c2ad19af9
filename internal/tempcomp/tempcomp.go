// Package tempcomp scales pump pulse and pause durations with oil viscosity,
// which follows temperature.
package tempcomp

import (
	"fmt"
	"math"
	"strings"
)

// Viscosity model ln(ν) = A + B/T(K), fitted to an ISO VG 85 chain oil.
const (
	arrheniusA = -8.122
	arrheniusB = 3931.8

	ReferenceC   = 25.0
	HysteresisC  = 3.0
	kelvinOffset = 273.15

	MinPulseMs = 50
	MaxPulseMs = 150
	MinPauseMs = 100

	DefaultBasePulseMs = 55
	DefaultBasePauseMs = 750

	// RefreshMs is how often the sensor is sampled.
	RefreshMs = 5000
)

// OilType selects how strongly durations follow viscosity.
type OilType int

const (
	Thin OilType = iota
	Normal
	Thick
)

func (o OilType) String() string {
	switch o {
	case Thin:
		return "thin"
	case Thick:
		return "thick"
	default:
		return "normal"
	}
}

func (o OilType) exponent() float64 {
	switch o {
	case Thin:
		return 0.15
	case Thick:
		return 0.35
	default:
		return 0.25
	}
}

// ParseOilType accepts "thin", "normal" or "thick".
func ParseOilType(s string) (OilType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "thin":
		return Thin, nil
	case "", "normal":
		return Normal, nil
	case "thick":
		return Thick, nil
	}
	return Normal, fmt.Errorf("tempcomp: unknown oil type %q", s)
}

func (o OilType) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OilType) UnmarshalText(b []byte) error {
	v, err := ParseOilType(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Profile holds the durations measured at 25 °C.
type Profile struct {
	BasePulseMs uint32  `yaml:"base_pulse_ms" json:"basePulseMs"`
	BasePauseMs uint32  `yaml:"base_pause_ms" json:"basePauseMs"`
	Oil         OilType `yaml:"oil_type" json:"oilType"`
}

// DefaultProfile returns 55 ms / 750 ms with normal oil.
func DefaultProfile() Profile {
	return Profile{BasePulseMs: DefaultBasePulseMs, BasePauseMs: DefaultBasePauseMs, Oil: Normal}
}

// Durations is the derived pulse/pause pair.
type Durations struct {
	PulseMs uint32 `json:"pulseMs"`
	PauseMs uint32 `json:"pauseMs"`
}

// Compensator owns the profile and its hysteresis memory.
type Compensator struct {
	profile  Profile
	rampUpMs uint32

	lastApplied float64
	displayC    float64
	connected   bool
	current     Durations
}

// New creates a compensator seeded at the reference temperature.
func New(p Profile, rampUpMs uint32) *Compensator {
	c := &Compensator{
		profile:     p,
		rampUpMs:    rampUpMs,
		lastApplied: ReferenceC,
		displayC:    ReferenceC,
	}
	c.current = c.base()
	return c
}

// SetProfile replaces the base profile and recomputes at the last applied
// temperature.
func (c *Compensator) SetProfile(p Profile) {
	c.profile = p
	if c.connected && c.lastApplied != ReferenceC {
		c.current = c.compute(c.lastApplied)
	} else {
		c.current = c.base()
	}
}

// Profile returns the base profile.
func (c *Compensator) Profile() Profile { return c.profile }

// OnSample updates from one reading. A disconnected sensor falls back to the
// unmodified base durations and reports 25 °C. Within the hysteresis band of
// the last applied temperature only the displayed value changes.
func (c *Compensator) OnSample(tempC float64, connected bool) Durations {
	if !connected || math.IsNaN(tempC) {
		c.connected = false
		c.displayC = ReferenceC
		c.lastApplied = ReferenceC
		c.current = c.base()
		return c.current
	}

	c.connected = true
	c.displayC = tempC
	if math.Abs(tempC-c.lastApplied) < HysteresisC {
		return c.current
	}

	c.lastApplied = tempC
	c.current = c.compute(tempC)
	return c.current
}

// Current returns the durations in use.
func (c *Compensator) Current() Durations { return c.current }

// TemperatureC returns the displayed temperature.
func (c *Compensator) TemperatureC() float64 { return c.displayC }

// Connected reports whether the last sample came from a working sensor.
func (c *Compensator) Connected() bool { return c.connected }

// Factor returns the viscosity scaling applied at tempC.
func (c *Compensator) Factor(tempC float64) float64 {
	ratio := viscosity(tempC) / viscosity(ReferenceC)
	return math.Pow(ratio, c.profile.Oil.exponent())
}

func (c *Compensator) compute(tempC float64) Durations {
	f := c.Factor(tempC)
	pulse := uint32(float64(c.profile.BasePulseMs) * f)
	pause := uint32(float64(c.profile.BasePauseMs) * f)

	if pulse > MaxPulseMs {
		pulse = MaxPulseMs
	}
	if pulse < MinPulseMs {
		pulse = MinPulseMs
	}
	if pause < MinPauseMs {
		pause = MinPauseMs
	}
	if pulse <= c.rampUpMs {
		pulse = c.rampUpMs + 5
	}
	return Durations{PulseMs: pulse, PauseMs: pause}
}

func (c *Compensator) base() Durations {
	return Durations{PulseMs: c.profile.BasePulseMs, PauseMs: c.profile.BasePauseMs}
}

func viscosity(tempC float64) float64 {
	return math.Exp(arrheniusA + arrheniusB/(tempC+kelvinOffset))
}
