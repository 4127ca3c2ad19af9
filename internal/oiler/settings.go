package oiler

import (
	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/emergency"
	"github.com/shaunagostinho/chain-oiler/internal/indicator"
	"github.com/shaunagostinho/chain-oiler/internal/interval"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
	"github.com/shaunagostinho/chain-oiler/internal/pump"
	"github.com/shaunagostinho/chain-oiler/internal/tempcomp"
)

// Settings are the user tunables. They are part of the service config and
// reach the oiler through New and Configure.
type Settings struct {
	Ranges              []interval.SpeedRange `yaml:"ranges" json:"ranges"`
	StartupDelayM       float64               `yaml:"startup_delay_m" json:"startupDelayM"`
	EmergencyTimeoutMin int                   `yaml:"emergency_timeout_min" json:"emergencyTimeoutMin"`
	Flush               mode.FlushConfig      `yaml:"flush" json:"flush"`
	Offroad             mode.OffroadConfig    `yaml:"offroad" json:"offroad"`
	Pump                pump.Config           `yaml:"pump" json:"pump"`
	Tank                pump.TankConfig       `yaml:"tank" json:"tank"`
	Temp                tempcomp.Profile      `yaml:"temp" json:"temp"`
	LED                 indicator.Config      `yaml:"led" json:"led"`
	Accessory           accessory.Config      `yaml:"accessory" json:"accessory"`
}

// DefaultSettings returns the factory configuration.
func DefaultSettings() Settings {
	return Settings{
		Ranges:              interval.DefaultRanges(),
		EmergencyTimeoutMin: emergency.DefaultTimeoutMs / 60000,
		Flush:               mode.DefaultFlush(),
		Offroad:             mode.DefaultOffroad(),
		Pump:                pump.DefaultConfig(),
		Tank:                pump.DefaultTank(),
		Temp:                tempcomp.DefaultProfile(),
		LED:                 indicator.DefaultConfig(),
		Accessory:           accessory.DefaultConfig(),
	}
}

// Validate clamps out-of-range values instead of rejecting them and logs a
// warning for each group it touched. It reports whether anything changed.
func (s *Settings) Validate(log *logger.Logger) bool {
	if log == nil {
		log = logger.Nop()
	}
	changed := false
	warn := func(group string, did bool) {
		if did {
			log.Warnf("settings: %s out of range, clamped", group)
			changed = true
		}
	}

	if len(s.Ranges) == 0 {
		s.Ranges = interval.DefaultRanges()
		warn("ranges (empty)", true)
	}
	warn("ranges", interval.Clamp(s.Ranges))

	if s.StartupDelayM < 0 {
		s.StartupDelayM = 0
		warn("startup delay", true)
	}
	if s.EmergencyTimeoutMin < 1 {
		s.EmergencyTimeoutMin = 1
		warn("emergency timeout", true)
	}
	warn("chain flush", s.Flush.Clamp())
	warn("offroad", s.Offroad.Clamp())
	warn("tank", s.Tank.Clamp())
	warn("led", s.LED.Clamp())
	warn("accessory", s.Accessory.Clamp())

	if s.Pump.SafetyCutoffMs < 1000 {
		s.Pump.SafetyCutoffMs = pump.DefaultSafetyCutoffMs
		warn("safety cutoff", true)
	}
	if s.Pump.RampUpMs > 100 || s.Pump.RampDownMs > 100 {
		s.Pump.RampUpMs = min(s.Pump.RampUpMs, 100)
		s.Pump.RampDownMs = min(s.Pump.RampDownMs, 100)
		warn("pump ramp", true)
	}

	if s.Temp.BasePulseMs < tempcomp.MinPulseMs || s.Temp.BasePulseMs > tempcomp.MaxPulseMs {
		s.Temp.BasePulseMs = max(tempcomp.MinPulseMs, min(s.Temp.BasePulseMs, tempcomp.MaxPulseMs))
		warn("base pulse", true)
	}
	if s.Temp.BasePauseMs < tempcomp.MinPauseMs {
		s.Temp.BasePauseMs = tempcomp.MinPauseMs
		warn("base pause", true)
	}
	return changed
}
