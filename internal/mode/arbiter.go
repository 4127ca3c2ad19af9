package mode

import (
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
)

const (
	// RainTimeout switches Rain off after 30 minutes.
	RainTimeout = 30 * 60 * 1000

	// ParkedGuardSpeed is the speed below which a parked IMU blocks dispensing.
	ParkedGuardSpeed = 10.0

	// OffroadMinSpeed and FlushMinSpeed gate the time-based modes so nothing
	// is dispensed at standstill.
	OffroadMinSpeed = 7.0
	FlushMinSpeed   = 2.0

	// LeanArmDeg arms dispense deferral, LeanReleaseDeg releases it.
	LeanArmDeg     = 20.0
	LeanReleaseDeg = 5.0
)

// IMU is the safety view of the inertial sensor.
type IMU interface {
	IsParked() bool
	IsCrashed() bool
	IsMotionDetected() bool
	IsLeaningTowardTire(deg float64) bool
}

// FlushConfig parameterizes ChainFlush.
type FlushConfig struct {
	Events      int `yaml:"events" json:"events"`
	Pulses      int `yaml:"pulses" json:"pulses"`
	IntervalSec int `yaml:"interval_sec" json:"intervalSec"`
}

// OffroadConfig parameterizes Offroad. Pulses per event come from the first
// speed range.
type OffroadConfig struct {
	IntervalMin int `yaml:"interval_min" json:"intervalMin"`
}

// DefaultFlush returns 10 events of 4 pulses, one per minute.
func DefaultFlush() FlushConfig {
	return FlushConfig{Events: 10, Pulses: 4, IntervalSec: 60}
}

// DefaultOffroad returns one event every 10 minutes.
func DefaultOffroad() OffroadConfig {
	return OffroadConfig{IntervalMin: 10}
}

// Clamp raises every field to at least one.
func (c *FlushConfig) Clamp() bool {
	changed := false
	for _, v := range []*int{&c.Events, &c.Pulses, &c.IntervalSec} {
		if *v < 1 {
			*v = 1
			changed = true
		}
	}
	return changed
}

func (c *OffroadConfig) Clamp() bool {
	if c.IntervalMin < 1 {
		c.IntervalMin = 1
		return true
	}
	return false
}

// TimedRequest is a dispense emitted by a time-based mode.
type TimedRequest struct {
	Source Active
	Pulses int
}

// Arbiter owns the mode flags, their activation timestamps and the safety
// latches.
type Arbiter struct {
	flags Flags

	flush         FlushConfig
	offroad       OffroadConfig
	offroadPulses int

	rainSince    clock.Millis
	lastFlush    clock.Millis
	lastOffroad  clock.Millis
	crashLatched bool
	leanDeferred bool

	log *logger.Logger
}

// NewArbiter creates an arbiter with every mode off.
func NewArbiter(flush FlushConfig, offroad OffroadConfig, log *logger.Logger) *Arbiter {
	if log == nil {
		log = logger.Nop()
	}
	flush.Clamp()
	offroad.Clamp()
	return &Arbiter{flush: flush, offroad: offroad, offroadPulses: 1, log: log}
}

// Configure replaces the time-based mode parameters.
func (a *Arbiter) Configure(flush FlushConfig, offroad OffroadConfig) {
	flush.Clamp()
	offroad.Clamp()
	a.flush = flush
	a.offroad = offroad
}

// SetOffroadPulses sets the pulses fired per Offroad event.
func (a *Arbiter) SetOffroadPulses(n int) {
	if n < 1 {
		n = 1
	}
	a.offroadPulses = n
}

// Flags returns a copy of the current flags.
func (a *Arbiter) Flags() Flags { return a.flags }

// Active resolves the current flags.
func (a *Arbiter) Active() Active { return Resolve(a.flags) }

// SetRain toggles Rain. Activation is rejected while any Emergency is active.
// It reports the resulting state.
func (a *Arbiter) SetRain(on bool, now clock.Millis) bool {
	if on && a.flags.Emergency() {
		a.log.Infof("rain request rejected: emergency active")
		on = false
	}
	if on && !a.flags.Rain {
		a.rainSince = now
		a.log.Infof("rain ON")
	} else if !on && a.flags.Rain {
		a.log.Infof("rain OFF")
	}
	a.flags.Rain = on
	return on
}

// SetEmergencyForced toggles the operator-forced emergency. Activation clears
// Rain.
func (a *Arbiter) SetEmergencyForced(on bool) {
	if on == a.flags.EmergencyForced {
		return
	}
	a.flags.EmergencyForced = on
	if on {
		a.flags.Rain = false
		a.log.Warnf("emergency forced ON, rain cleared")
		return
	}
	a.log.Infof("emergency forced OFF")
}

// SetEmergencyAuto mirrors the extrapolator's state. Activation clears Rain.
func (a *Arbiter) SetEmergencyAuto(on bool) {
	if on == a.flags.EmergencyAuto {
		return
	}
	a.flags.EmergencyAuto = on
	if on {
		a.flags.Rain = false
		a.log.Warnf("GPS lost: emergency mode ON")
		return
	}
	a.log.Infof("GPS fix regained: emergency mode OFF")
}

// SetChainFlush toggles ChainFlush. Activation arms the event counter and
// restarts the interval timer.
func (a *Arbiter) SetChainFlush(on bool, now clock.Millis) {
	if on && !a.flags.ChainFlush {
		a.flags.FlushRemaining = a.flush.Events
		a.lastFlush = now
		a.log.Infof("chain flush ON: %d events x %d pulses every %ds",
			a.flush.Events, a.flush.Pulses, a.flush.IntervalSec)
	} else if !on && a.flags.ChainFlush {
		a.flags.FlushRemaining = 0
		a.log.Infof("chain flush OFF")
	}
	a.flags.ChainFlush = on
}

// SetOffroad toggles Offroad. Activation restarts its timer.
func (a *Arbiter) SetOffroad(on bool, now clock.Millis) {
	if on && !a.flags.Offroad {
		a.lastOffroad = now
		a.log.Infof("offroad ON: every %d min", a.offroad.IntervalMin)
	} else if !on && a.flags.Offroad {
		a.log.Infof("offroad OFF")
	}
	a.flags.Offroad = on
}

// SetBleeding mirrors the pump's bleeding state.
func (a *Arbiter) SetBleeding(on bool) {
	if on != a.flags.Bleeding {
		a.log.Infof("bleeding %s", onOff(on))
	}
	a.flags.Bleeding = on
}

// LatchCrash latches a crash. The latch never clears for the process
// lifetime; it reports whether this call latched it.
func (a *Arbiter) LatchCrash(crashed bool) bool {
	if !crashed || a.crashLatched {
		return false
	}
	a.crashLatched = true
	a.log.Errorf("CRASH detected: dispensing locked until restart")
	return true
}

// Locked reports the crash latch.
func (a *Arbiter) Locked() bool { return a.crashLatched }

// Blocked reports whether a distance sample must be discarded before it
// reaches the progress engine. A crash reported by imu latches here too.
func (a *Arbiter) Blocked(speedKmh float64, imu IMU) bool {
	if imu != nil {
		a.LatchCrash(imu.IsCrashed())
	}
	if a.crashLatched {
		return true
	}
	return speedKmh < ParkedGuardSpeed && imu != nil && imu.IsParked()
}

// DispenseAllowed applies lean deferral to a due dispense. A lean beyond
// LeanArmDeg toward the tire arms deferral, which holds until the lean drops
// below LeanReleaseDeg.
func (a *Arbiter) DispenseAllowed(imu IMU) bool {
	if imu != nil {
		a.LatchCrash(imu.IsCrashed())
	}
	if a.crashLatched {
		return false
	}
	if imu == nil {
		return true
	}
	if a.leanDeferred {
		if imu.IsLeaningTowardTire(LeanReleaseDeg) {
			return false
		}
		a.leanDeferred = false
		a.log.Debugf("lean deferral released")
		return true
	}
	if imu.IsLeaningTowardTire(LeanArmDeg) {
		a.leanDeferred = true
		a.log.Debugf("dispense deferred: leaning toward tire")
		return false
	}
	return true
}

// Deferred reports whether lean deferral is armed.
func (a *Arbiter) Deferred() bool { return a.leanDeferred }

// Tick advances the time-based modes and Rain auto-off.
func (a *Arbiter) Tick(now clock.Millis, speedKmh float64) []TimedRequest {
	var out []TimedRequest

	if a.flags.Rain && clock.Since(now, a.rainSince) > RainTimeout {
		a.flags.Rain = false
		a.log.Infof("rain auto-off after 30 min")
	}

	if a.crashLatched {
		return nil
	}

	active := Resolve(a.flags)
	if active.TimeBasedOffroad() {
		intervalMs := uint32(a.offroad.IntervalMin) * 60 * 1000
		if clock.Since(now, a.lastOffroad) > intervalMs && speedKmh >= OffroadMinSpeed {
			a.lastOffroad = now
			out = append(out, TimedRequest{Source: Offroad, Pulses: a.offroadPulses})
		}
	}

	if active.TimeBasedFlush() {
		intervalMs := uint32(a.flush.IntervalSec) * 1000
		if clock.Since(now, a.lastFlush) > intervalMs && speedKmh >= FlushMinSpeed {
			a.lastFlush = now
			a.flags.FlushRemaining--
			out = append(out, TimedRequest{Source: ChainFlush, Pulses: a.flush.Pulses})
			a.log.Infof("chain flush event, %d remaining", a.flags.FlushRemaining)
			if a.flags.FlushRemaining <= 0 {
				a.SetChainFlush(false, now)
			}
		}
	}
	return out
}

// RestoreRain re-applies a persisted Rain flag at boot.
func (a *Arbiter) RestoreRain(on bool, now clock.Millis) {
	if on {
		a.SetRain(true, now)
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
