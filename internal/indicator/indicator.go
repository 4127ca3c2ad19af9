// Package indicator derives the status LED pattern from the oiler state.
package indicator

import (
	"math"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

const (
	MinBrightness = 2
	MaxBrightness = 202

	blinkFastMs      = 100
	flushPeriodMs    = 500
	offroadPeriodMs  = 1000
	sessionPeriodMs  = 2000
	oilingPeriodMs   = 1500
	tankCycleMs      = 2000
	emergencyCycleMs = 1500
	searchPeriodMs   = 1000
)

// Color is an RGB triple.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

var (
	Off     = Color{}
	Red     = Color{255, 0, 0}
	White   = Color{255, 255, 255}
	Cyan    = Color{0, 255, 255}
	Magenta = Color{255, 0, 255}
	Yellow  = Color{255, 200, 0}
	Orange  = Color{255, 140, 0}
	Warning = Color{255, 69, 0}
	Green   = Color{0, 255, 0}
	Blue    = Color{0, 0, 255}
)

// Pattern is the resolved LED output at one instant.
type Pattern struct {
	Name       string `json:"name"`
	Color      Color  `json:"color"`
	Brightness uint8  `json:"brightness"`
}

// On reports whether the LED is lit.
func (p Pattern) On() bool { return p.Color != Off && p.Brightness > 0 }

// NightConfig dims the LED between StartHour and EndHour local time.
type NightConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	StartHour      int  `yaml:"start_hour" json:"startHour"`
	EndHour        int  `yaml:"end_hour" json:"endHour"`
	Brightness     int  `yaml:"brightness" json:"brightness"`
	BrightnessHigh int  `yaml:"brightness_high" json:"brightnessHigh"`
}

// Config holds the LED brightness levels.
type Config struct {
	Dim   int         `yaml:"dim" json:"dim"`
	High  int         `yaml:"high" json:"high"`
	Night NightConfig `yaml:"night" json:"night"`
}

func DefaultConfig() Config {
	return Config{
		Dim:  20,
		High: 150,
		Night: NightConfig{
			StartHour:      20,
			EndHour:        6,
			Brightness:     5,
			BrightnessHigh: 100,
		},
	}
}

// Clamp limits every brightness to [2, 202] and hours to [0, 23].
func (c *Config) Clamp() bool {
	changed := false
	for _, v := range []*int{&c.Dim, &c.High, &c.Night.Brightness, &c.Night.BrightnessHigh} {
		if n := ClampBrightness(*v); int(n) != *v {
			*v = int(n)
			changed = true
		}
	}
	for _, h := range []*int{&c.Night.StartHour, &c.Night.EndHour} {
		if *h < 0 || *h > 23 {
			*h = ((*h % 24) + 24) % 24
			changed = true
		}
	}
	return changed
}

// ClampBrightness limits b to [MinBrightness, MaxBrightness].
func ClampBrightness(b int) uint8 {
	if b < MinBrightness {
		return MinBrightness
	}
	if b > MaxBrightness {
		return MaxBrightness
	}
	return uint8(b)
}

// IsNight reports whether hour falls in the window. A window whose start is
// after its end crosses midnight.
func (n NightConfig) IsNight(hour int) bool {
	if !n.Enabled || hour < 0 {
		return false
	}
	if n.StartHour > n.EndHour {
		return hour >= n.StartHour || hour < n.EndHour
	}
	return hour >= n.StartHour && hour < n.EndHour
}

// Status is the input to Resolve.
type Status struct {
	Crashed         bool
	Bleeding        bool
	ChainFlush      bool
	Offroad         bool
	ConfigSession   bool
	Oiling          bool
	TankLow         bool
	HasFix          bool
	EmergencyForced bool
	Emergency       bool
	Rain            bool
	LocalHour       int // -1 when unknown
}

// Resolve picks the pattern by priority: crash, bleeding, chain flush,
// offroad, config session, oiling, tank low, emergency, rain, GPS search,
// ready.
func Resolve(cfg Config, s Status, now clock.Millis) Pattern {
	dim, high := cfg.levels(s.LocalHour)
	t := uint32(now)

	switch {
	case s.Crashed:
		if (t/blinkFastMs)%2 == 0 {
			return Pattern{"crash", Red, high}
		}
		return Pattern{"crash", White, high}
	case s.Bleeding:
		return blink("bleeding", Red, high, t, blinkFastMs)
	case s.ChainFlush:
		return blink("chain-flush", Cyan, high, t, flushPeriodMs)
	case s.Offroad:
		return blink("offroad", Magenta, high, t, offroadPeriodMs)
	case s.ConfigSession:
		b := breathe(t, sessionPeriodMs)*0.8 + 0.2
		return Pattern{"config-session", White, atLeast(uint8(b*float64(high)), 5)}
	case s.Oiling:
		return Pattern{"oiling", Yellow, atLeast(uint8(breathe(t, oilingPeriodMs)*float64(high)), 5)}
	case s.TankLow:
		phase := t % tankCycleMs
		if phase < 200 || (phase >= 400 && phase < 600) {
			return Pattern{"tank-low", Warning, high}
		}
		return Pattern{"tank-low", Off, high}
	case !s.HasFix && (s.Emergency || s.EmergencyForced):
		return Pattern{"emergency", Cyan, dim}
	case s.Emergency || s.EmergencyForced:
		phase := t % emergencyCycleMs
		if phase < 100 || (phase >= 200 && phase < 300) {
			return Pattern{"emergency", Orange, high}
		}
		return Pattern{"emergency", Green, dim}
	case s.Rain:
		return Pattern{"rain", Blue, dim}
	case !s.HasFix:
		return Pattern{"searching", Magenta, atLeast(uint8(breathe(t, searchPeriodMs)*float64(dim)), 5)}
	default:
		return Pattern{"ready", Green, dim}
	}
}

// levels returns the dim and high brightness for the local hour.
func (c Config) levels(hour int) (dim, high uint8) {
	if c.Night.IsNight(hour) {
		return ClampBrightness(c.Night.Brightness), ClampBrightness(c.Night.BrightnessHigh)
	}
	return ClampBrightness(c.Dim), ClampBrightness(c.High)
}

// AccessoryStatus is the input to ResolveAccessory.
type AccessoryStatus struct {
	Grips     bool // false for switched power
	Percent   int
	LocalHour int
}

// ResolveAccessory picks the second LED: off while the output is off, green
// for switched power, and blue, yellow, orange or red by grip level. It
// always uses the dim brightness.
func ResolveAccessory(cfg Config, s AccessoryStatus) Pattern {
	dim, _ := cfg.levels(s.LocalHour)
	switch {
	case s.Percent <= 0:
		return Pattern{"accessory-off", Off, dim}
	case !s.Grips:
		return Pattern{"accessory-power", Green, dim}
	case s.Percent < 30:
		return Pattern{"grips-low", Blue, dim}
	case s.Percent < 60:
		return Pattern{"grips-medium", Color{255, 255, 0}, dim}
	case s.Percent < 80:
		return Pattern{"grips-high", Orange, dim}
	default:
		return Pattern{"grips-max", Red, dim}
	}
}

func blink(name string, c Color, bri uint8, t, periodMs uint32) Pattern {
	if (t/periodMs)%2 == 0 {
		return Pattern{name, c, bri}
	}
	return Pattern{name, Off, bri}
}

// breathe is a sine wave in [0, 1].
func breathe(t, periodMs uint32) float64 {
	angle := float64(t%periodMs) * 2 * math.Pi / float64(periodMs)
	return (math.Sin(angle) + 1) / 2
}

func atLeast(b, lo uint8) uint8 {
	if b < lo {
		return lo
	}
	return b
}

// LocalHour converts a UTC hour to Central European time, applying summer
// time from the last Sunday of March to the last Sunday of October, both
// switching at 01:00 UTC.
func LocalHour(utcHour, day, month, year int) int {
	offset := 1
	if isSummerTime(utcHour, day, month, year) {
		offset = 2
	}
	return (utcHour + offset) % 24
}

func isSummerTime(utcHour, day, month, year int) bool {
	switch {
	case month > 3 && month < 10:
		return true
	case month == 3:
		lastSunday := 31 - (5*year/4+4)%7
		return day > lastSunday || (day == lastSunday && utcHour >= 1)
	case month == 10:
		lastSunday := 31 - (5*year/4+1)%7
		return day < lastSunday || (day == lastSunday && utcHour < 1)
	}
	return false
}
