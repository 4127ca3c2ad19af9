// Package accessory drives the auxiliary power output. In power mode it is a
// switched line for accessories; in grips mode it is a PWM level for heated
// grips that follows speed, air temperature and the rain flag.
package accessory

import (
	"math"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

// Mode selects what the output feeds.
type Mode string

const (
	Off   Mode = "off"
	Power Mode = "power"
	Grips Mode = "grips"
)

// Reaction is how fast the grip level follows its target.
type Reaction string

const (
	Slow   Reaction = "slow"
	Medium Reaction = "medium"
	Fast   Reaction = "fast"
)

// TimeConstant returns the low-pass time constant in milliseconds.
func (r Reaction) TimeConstant() float64 {
	switch r {
	case Fast:
		return 1000
	case Medium:
		return 5000
	default:
		return 10000
	}
}

// Config holds the output tunables. Levels are percent of full power.
type Config struct {
	Mode          Mode     `yaml:"mode" json:"mode"`
	StartDelaySec int      `yaml:"start_delay_sec" json:"startDelaySec"`
	MotionOffMin  int      `yaml:"motion_off_min" json:"motionOffMin"` // power mode; 0 never switches off
	BaseLevel     int      `yaml:"base_level" json:"baseLevel"`
	SpeedFactor   float64  `yaml:"speed_factor" json:"speedFactor"` // % per km/h
	TempFactor    float64  `yaml:"temp_factor" json:"tempFactor"`   // % per °C below StartTempC
	TempOffset    float64  `yaml:"temp_offset" json:"tempOffset"`   // sensor placement correction
	StartTempC    float64  `yaml:"start_temp_c" json:"startTempC"`
	RainBoost     int      `yaml:"rain_boost" json:"rainBoost"`
	BoostLevel    int      `yaml:"boost_level" json:"boostLevel"`
	BoostSec      int      `yaml:"boost_sec" json:"boostSec"`
	Reaction      Reaction `yaml:"reaction" json:"reaction"`
}

func DefaultConfig() Config {
	return Config{
		Mode:          Off,
		StartDelaySec: 15,
		BaseLevel:     25,
		SpeedFactor:   0.5,
		TempFactor:    2.0,
		StartTempC:    20,
		RainBoost:     10,
		BoostLevel:    100,
		BoostSec:      75,
		Reaction:      Slow,
	}
}

// Clamp limits every field to its usable range and reports whether anything
// changed. Unknown modes switch the output off.
func (c *Config) Clamp() bool {
	changed := false
	clampInt := func(v *int, lo, hi int) {
		if n := max(lo, min(*v, hi)); n != *v {
			*v = n
			changed = true
		}
	}
	clampFloat := func(v *float64, lo, hi float64) {
		if math.IsNaN(*v) {
			*v = lo
			changed = true
			return
		}
		if n := math.Max(lo, math.Min(*v, hi)); n != *v {
			*v = n
			changed = true
		}
	}

	switch c.Mode {
	case Off, Power, Grips:
	default:
		c.Mode = Off
		changed = true
	}
	switch c.Reaction {
	case Slow, Medium, Fast:
	default:
		c.Reaction = Slow
		changed = true
	}
	clampInt(&c.StartDelaySec, 0, 300)
	clampInt(&c.MotionOffMin, 0, 120)
	clampInt(&c.BaseLevel, 0, 100)
	clampInt(&c.RainBoost, 0, 100)
	clampInt(&c.BoostLevel, 0, 100)
	clampInt(&c.BoostSec, 0, 600)
	clampFloat(&c.SpeedFactor, 0, 5)
	clampFloat(&c.TempFactor, 0, 10)
	clampFloat(&c.TempOffset, -20, 20)
	clampFloat(&c.StartTempC, -20, 40)
	return changed
}

// Inputs are the readings the output level depends on.
type Inputs struct {
	SpeedKmh  float64
	TempC     float64
	TempValid bool
	Rain      bool
	Motion    bool
}

// Target returns the unsmoothed grip level for in, without the startup
// boost.
func (c Config) Target(in Inputs) float64 {
	t := float64(c.BaseLevel)
	if in.SpeedKmh > 0 {
		t += in.SpeedKmh * c.SpeedFactor
	}
	if in.TempValid {
		if eff := in.TempC + c.TempOffset; eff < c.StartTempC {
			t += (c.StartTempC - eff) * c.TempFactor
		}
	}
	if in.Rain {
		t += float64(c.RainBoost)
	}
	return math.Max(0, math.Min(t, 100))
}

// Status is the output state shown to the user.
type Status struct {
	Mode     Mode `json:"mode"`
	Enabled  bool `json:"enabled"`
	Percent  int  `json:"percent"`
	Powered  bool `json:"powered"`
	Boosting bool `json:"boosting"`
	Locked   bool `json:"locked"`
}

// Controller computes the output level once per tick. It is not safe for
// concurrent use.
type Controller struct {
	cfg   Config
	start clock.Millis
	ready bool

	enabled bool
	locked  bool

	boostArmed bool
	boostEnd   clock.Millis
	boosting   bool

	smoothed   float64
	percent    int
	lastUpdate clock.Millis
	updated    bool
	lastMotion clock.Millis
}

// New starts a controller at boot time now. The output is enabled and the
// startup boost is armed to run right after the start delay.
func New(cfg Config, now clock.Millis) *Controller {
	cfg.Clamp()
	c := &Controller{cfg: cfg, start: now, enabled: true, lastMotion: now}
	c.armBoost(now)
	return c
}

// Configure applies new tunables. The current level is kept so that the
// grips do not drop to zero on a settings change.
func (c *Controller) Configure(cfg Config) {
	cfg.Clamp()
	c.cfg = cfg
}

func (c *Controller) Config() Config { return c.cfg }

// SetEnabled is the rider's on/off switch. Switching on re-arms the startup
// boost.
func (c *Controller) SetEnabled(on bool, now clock.Millis) {
	if on && !c.enabled {
		c.armBoost(now)
	}
	c.enabled = on
}

func (c *Controller) Enabled() bool { return c.enabled }

// Lock switches the output off until restart.
func (c *Controller) Lock() {
	c.locked = true
	c.off()
}

// armBoost starts the boost now or, while the start delay still runs, when
// it ends.
func (c *Controller) armBoost(now clock.Millis) {
	from := now
	if delayEnd := c.start.Add(uint32(c.cfg.StartDelaySec) * 1000); !c.ready && clock.After(delayEnd, now) {
		from = delayEnd
	}
	c.boostEnd = from.Add(uint32(c.cfg.BoostSec) * 1000)
	c.boostArmed = c.cfg.BoostSec > 0
}

func (c *Controller) off() {
	c.smoothed = 0
	c.percent = 0
	c.boosting = false
}

// Update advances the controller to now and returns the output level in
// percent.
func (c *Controller) Update(now clock.Millis, in Inputs) int {
	var dt float64
	if c.updated {
		dt = float64(clock.Since(now, c.lastUpdate))
	}
	c.lastUpdate, c.updated = now, true
	if in.Motion {
		c.lastMotion = now
	}
	if !c.ready && clock.Since(now, c.start) >= uint32(c.cfg.StartDelaySec)*1000 {
		c.ready = true
	}
	if c.boostArmed && clock.After(now, c.boostEnd) {
		c.boostArmed = false
	}

	if c.locked || !c.enabled || c.cfg.Mode == Off || !c.ready {
		c.off()
		return 0
	}

	if c.cfg.Mode == Power {
		c.boosting = false
		c.smoothed = 0
		c.percent = 100
		idleMs := uint32(c.cfg.MotionOffMin) * 60 * 1000
		if idleMs > 0 && clock.Since(now, c.lastMotion) > idleMs {
			c.percent = 0
		}
		return c.percent
	}

	target := c.cfg.Target(in)
	c.boosting = false
	if c.boostArmed && target < float64(c.cfg.BoostLevel) {
		target = float64(c.cfg.BoostLevel)
		c.boosting = true
	}
	alpha := 1 - math.Exp(-dt/c.cfg.Reaction.TimeConstant())
	c.smoothed += (target - c.smoothed) * alpha
	c.percent = int(c.smoothed)
	return c.percent
}

// Percent is the level returned by the last Update.
func (c *Controller) Percent() int { return c.percent }

func (c *Controller) Status() Status {
	return Status{
		Mode:     c.cfg.Mode,
		Enabled:  c.enabled,
		Percent:  c.percent,
		Powered:  c.percent > 0,
		Boosting: c.boosting,
		Locked:   c.locked,
	}
}
