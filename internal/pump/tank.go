package pump

import "math"

// TankConfig describes the oil reservoir.
type TankConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	CapacityMl    float64 `yaml:"capacity_ml" json:"capacityMl"`
	DropsPerMl    int     `yaml:"drops_per_ml" json:"dropsPerMl"`
	DropsPerPulse int     `yaml:"drops_per_pulse" json:"dropsPerPulse"`
	WarnPct       float64 `yaml:"warn_pct" json:"warnPct"`
}

// DefaultTank is a 100 ml reservoir at 50 drops per ml, one drop per pulse.
func DefaultTank() TankConfig {
	return TankConfig{
		Enabled:       true,
		CapacityMl:    100,
		DropsPerMl:    50,
		DropsPerPulse: 1,
		WarnPct:       10,
	}
}

// Clamp fixes values that would break the volume math.
func (c *TankConfig) Clamp() bool {
	changed := false
	if !(c.CapacityMl > 0) {
		c.CapacityMl = 100
		changed = true
	}
	if c.DropsPerMl < 1 {
		c.DropsPerMl = 1
		changed = true
	}
	if c.DropsPerPulse < 1 {
		c.DropsPerPulse = 1
		changed = true
	}
	if c.WarnPct < 0 || c.WarnPct > 100 || math.IsNaN(c.WarnPct) {
		c.WarnPct = 10
		changed = true
	}
	return changed
}

// Tank tracks the remaining oil. The level never leaves [0, capacity].
type Tank struct {
	cfg   TankConfig
	level float64
}

// NewTank returns a full tank.
func NewTank(cfg TankConfig) *Tank {
	cfg.Clamp()
	return &Tank{cfg: cfg, level: cfg.CapacityMl}
}

// Configure replaces the tank parameters, keeping the level within the new
// capacity.
func (t *Tank) Configure(cfg TankConfig) {
	cfg.Clamp()
	t.cfg = cfg
	t.set(t.level)
}

// Config returns the current parameters.
func (t *Tank) Config() TankConfig { return t.cfg }

// Consume subtracts the volume of n pulses and returns the ml taken. A
// disabled tank consumes nothing.
func (t *Tank) Consume(n int) float64 {
	if !t.cfg.Enabled || n <= 0 {
		return 0
	}
	ml := float64(n*t.cfg.DropsPerPulse) / float64(t.cfg.DropsPerMl)
	before := t.level
	t.set(t.level - ml)
	return before - t.level
}

// Refill sets the level to ml.
func (t *Tank) Refill(ml float64) { t.set(ml) }

// Fill sets the level to capacity.
func (t *Tank) Fill() { t.level = t.cfg.CapacityMl }

// Level returns the remaining ml.
func (t *Tank) Level() float64 { return t.level }

// Percent returns the remaining fraction of capacity in percent.
func (t *Tank) Percent() float64 {
	return t.level / t.cfg.CapacityMl * 100
}

// Low reports whether a monitored tank is below its warning threshold.
func (t *Tank) Low() bool {
	return t.cfg.Enabled && t.Percent() <= t.cfg.WarnPct
}

func (t *Tank) set(ml float64) {
	switch {
	case math.IsNaN(ml) || ml < 0:
		t.level = 0
	case ml > t.cfg.CapacityMl:
		t.level = t.cfg.CapacityMl
	default:
		t.level = ml
	}
}
