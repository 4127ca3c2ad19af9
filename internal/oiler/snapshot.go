package oiler

import (
	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/indicator"
	"github.com/shaunagostinho/chain-oiler/internal/interval"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
)

// RangeStatus is one speed range with its recent usage.
type RangeStatus struct {
	interval.SpeedRange
	UsagePercent  float64 `json:"usagePercent"`
	RecentCount   int     `json:"recentCount"`
	RecentSeconds float64 `json:"recentSeconds"`
}

// PumpStatus describes the actuator.
type PumpStatus struct {
	State       string `json:"state"`
	Remaining   int    `json:"remaining"`
	Cycles      int    `json:"cycles"`
	PulsesFired int    `json:"pulsesFired"`
	PulseMs     uint32 `json:"pulseMs"`
	PauseMs     uint32 `json:"pauseMs"`
	Locked      bool   `json:"locked"`
	LastFault   string `json:"lastFault,omitempty"`
}

// TankStatus describes the reservoir.
type TankStatus struct {
	Enabled bool    `json:"enabled"`
	LevelMl float64 `json:"levelMl"`
	Percent float64 `json:"percent"`
	Low     bool    `json:"low"`
}

// Snapshot is a read-only copy of everything the UI shows.
type Snapshot struct {
	Mode                string            `json:"mode"`
	Flags               mode.Flags        `json:"flags"`
	SpeedKmh            float64           `json:"speedKmh"`
	HasFix              bool              `json:"hasFix"`
	Satellites          int               `json:"satellites"`
	OdometerKm          float64           `json:"odometerKm"`
	ProgressPercent     float64           `json:"progressPercent"`
	DistanceSinceLastKm float64           `json:"distanceSinceLastKm"`
	SmoothedIntervalKm  float64           `json:"smoothedIntervalKm"`
	Ranges              []RangeStatus     `json:"ranges"`
	Pump                PumpStatus        `json:"pump"`
	Tank                TankStatus        `json:"tank"`
	TemperatureC        float64           `json:"temperatureC"`
	TempConnected       bool              `json:"tempConnected"`
	EmergencyLossSec    float64           `json:"emergencyLossSec"`
	Crashed             bool              `json:"crashed"`
	LeanDeferred        bool              `json:"leanDeferred"`
	Session             bool              `json:"session"`
	SessionRemainingSec float64           `json:"sessionRemainingSec"`
	LocalHour           int               `json:"localHour"`
	LED                 indicator.Pattern `json:"led"`
	Accessory           accessory.Status  `json:"accessory"`
	AccessoryLED        indicator.Pattern `json:"accessoryLed"`
}

// Snapshot copies the current state.
func (o *Oiler) Snapshot(now clock.Millis) Snapshot {
	ranges := o.engine.Ranges()
	rs := make([]RangeStatus, len(ranges))
	for i, r := range ranges {
		rs[i] = RangeStatus{
			SpeedRange:    r,
			UsagePercent:  o.engine.UsagePercent(i),
			RecentCount:   o.engine.RecentCount(i),
			RecentSeconds: o.engine.RecentSeconds(i),
		}
	}
	pulse, pause := o.pump.Durations()
	tankCfg := o.tank.Config()

	s := Snapshot{
		Mode:                o.arbiter.Active().String(),
		Flags:               o.arbiter.Flags(),
		SpeedKmh:            o.speed,
		HasFix:              o.hasFix,
		Satellites:          o.satellites,
		OdometerKm:          o.odometerKm,
		ProgressPercent:     o.engine.ProgressPercent(),
		DistanceSinceLastKm: o.engine.DistanceSinceLast(),
		SmoothedIntervalKm:  o.engine.SmoothedInterval(),
		Ranges:              rs,
		Pump: PumpStatus{
			State:       o.pump.State().String(),
			Remaining:   o.pump.Remaining(),
			Cycles:      o.pump.Cycles(),
			PulsesFired: o.pump.PulsesFired(),
			PulseMs:     pulse,
			PauseMs:     pause,
			Locked:      o.pump.Locked(),
			LastFault:   o.pump.LastFault(),
		},
		Tank: TankStatus{
			Enabled: tankCfg.Enabled,
			LevelMl: o.tank.Level(),
			Percent: o.tank.Percent(),
			Low:     o.tank.Low(),
		},
		TemperatureC:     o.temp.TemperatureC(),
		TempConnected:    o.temp.Connected(),
		EmergencyLossSec: float64(o.emerg.LossMs(now)) / 1000,
		Crashed:          o.arbiter.Locked(),
		LeanDeferred:     o.arbiter.Deferred(),
		Session:          o.session,
		LocalHour:        o.localHour,
	}
	if o.session && clock.After(o.sessionUntil, now) {
		s.SessionRemainingSec = float64(clock.Since(o.sessionUntil, now)) / 1000
	}
	s.LED = indicator.Resolve(o.settings.LED, o.indicatorStatus(now), now)
	s.Accessory = o.aux.Status()
	s.AccessoryLED = indicator.ResolveAccessory(o.settings.LED, indicator.AccessoryStatus{
		Grips:     s.Accessory.Mode == accessory.Grips,
		Percent:   s.Accessory.Percent,
		LocalHour: o.localHour,
	})
	return s
}

func (o *Oiler) indicatorStatus(now clock.Millis) indicator.Status {
	f := o.arbiter.Flags()
	return indicator.Status{
		Crashed:         o.arbiter.Locked(),
		Bleeding:        f.Bleeding,
		ChainFlush:      f.ChainFlush,
		Offroad:         f.Offroad,
		ConfigSession:   o.session,
		Oiling:          o.pump.Active() || (o.oilingLED && !clock.After(now, o.oilingUntil)),
		TankLow:         o.tank.Config().Enabled && o.tank.Low(),
		HasFix:          o.hasFix,
		EmergencyForced: f.EmergencyForced,
		Emergency:       f.EmergencyAuto,
		Rain:            f.Rain,
		LocalHour:       o.localHour,
	}
}
