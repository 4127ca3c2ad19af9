// Package pump turns dispense requests into a paced sequence of ramped
// solenoid pulses, with a hard cutoff on continuous activity.
package pump

import (
	"fmt"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
)

const (
	BleedDurationMs = 10000
	BleedPulseMs    = 65
	BleedPauseMs    = 300

	DefaultSafetyCutoffMs = 30000
	DefaultRampUpMs       = 20
	DefaultRampDownMs     = 20
)

// State of the actuator.
type State int

const (
	Idle State = iota
	Dispensing
	Bleeding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispensing:
		return "dispensing"
	case Bleeding:
		return "bleeding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the actuator timing limits.
type Config struct {
	SafetyCutoffMs uint32 `yaml:"safety_cutoff_ms" json:"safetyCutoffMs"`
	RampUpMs       uint32 `yaml:"ramp_up_ms" json:"rampUpMs"`
	RampDownMs     uint32 `yaml:"ramp_down_ms" json:"rampDownMs"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		SafetyCutoffMs: DefaultSafetyCutoffMs,
		RampUpMs:       DefaultRampUpMs,
		RampDownMs:     DefaultRampDownMs,
	}
}

// FaultRecorder receives safety-critical faults.
type FaultRecorder interface {
	Fault(source, message string)
}

// TickResult describes what one Tick did.
type TickResult struct {
	Fired     int  // pulses fired in this tick
	Finished  bool // a dispense job completed
	BleedDone bool
	CutOff    bool
	Deferred  bool // a due pulse waited for the lean to clear
}

// Actuator is the pump state machine. It owns the running job and the tank.
type Actuator struct {
	cfg    Config
	driver Driver
	tank   *Tank
	faults FaultRecorder
	log    *logger.Logger

	state      State
	remaining  int
	activity   clock.Millis
	bleedStart clock.Millis
	lastPulse  clock.Millis
	first      bool
	locked     bool

	pulseMs uint32
	pauseMs uint32

	cycles      int
	pulsesFired int
	lastFault   string
}

// New creates an idle actuator. faults may be nil.
func New(cfg Config, driver Driver, tank *Tank, faults FaultRecorder, log *logger.Logger) *Actuator {
	if cfg.SafetyCutoffMs == 0 {
		cfg.SafetyCutoffMs = DefaultSafetyCutoffMs
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Actuator{
		cfg:     cfg,
		driver:  driver,
		tank:    tank,
		faults:  faults,
		log:     log,
		pulseMs: 55,
		pauseMs: 750,
	}
}

// SetDurations sets the pulse/pause pair used by subsequent pulses.
func (a *Actuator) SetDurations(pulseMs, pauseMs uint32) {
	a.pulseMs = pulseMs
	a.pauseMs = pauseMs
}

// Durations returns the pulse/pause pair in use.
func (a *Actuator) Durations() (pulseMs, pauseMs uint32) { return a.pulseMs, a.pauseMs }

// Dispense starts a job of n pulses. A request arriving while a job runs adds
// its pulses to the remaining count without restarting the cutoff timer;
// requests during bleeding or after Lock are dropped.
func (a *Actuator) Dispense(n int, now clock.Millis) bool {
	if a.locked || n <= 0 {
		return false
	}
	switch a.state {
	case Bleeding:
		a.log.Debugf("dispense of %d pulses dropped while bleeding", n)
		return false
	case Dispensing:
		a.remaining += n
		a.log.Debugf("dispense merged: %d pulses remaining", a.remaining)
		return true
	}
	a.state = Dispensing
	a.remaining = n
	a.activity = now
	a.first = true
	a.cycles++
	a.log.Infof("oiling start: %d pulses (%d/%d ms)", n, a.pulseMs, a.pauseMs)
	return true
}

// StartBleeding runs the fast maintenance sequence. A running job is
// abandoned.
func (a *Actuator) StartBleeding(now clock.Millis) bool {
	if a.locked {
		return false
	}
	a.state = Bleeding
	a.remaining = 0
	a.activity = now
	a.bleedStart = now
	a.first = true
	a.log.Infof("bleeding started")
	return true
}

// Halt stops any activity and switches the pump off.
func (a *Actuator) Halt(reason string) {
	if a.state != Idle {
		a.log.Infof("pump halted: %s", reason)
	}
	a.state = Idle
	a.remaining = 0
	a.off()
}

// Lock halts the pump for the rest of the process lifetime.
func (a *Actuator) Lock(reason string) {
	a.locked = true
	a.Halt(reason)
}

// Locked reports whether Lock was called.
func (a *Actuator) Locked() bool { return a.locked }

// Tick advances the state machine. leanUnsafe holds due dispense pulses; it
// never interrupts bleeding.
func (a *Actuator) Tick(now clock.Millis, leanUnsafe bool) TickResult {
	var res TickResult
	if a.state == Idle {
		return res
	}

	if clock.Since(now, a.activity) > a.cfg.SafetyCutoffMs {
		msg := fmt.Sprintf("safety cutoff: pump %s for more than %d ms, %d pulses abandoned",
			a.state, a.cfg.SafetyCutoffMs, a.remaining)
		a.state = Idle
		a.remaining = 0
		a.off()
		a.lastFault = msg
		a.log.Errorf("CRITICAL %s", msg)
		if a.faults != nil {
			a.faults.Fault("pump", msg)
		}
		res.CutOff = true
		return res
	}

	pulse, pause := a.pulseMs, a.pauseMs
	if a.state == Bleeding {
		if clock.Since(now, a.bleedStart) > BleedDurationMs {
			a.state = Idle
			a.off()
			a.log.Infof("bleeding finished")
			res.BleedDone = true
			return res
		}
		pulse, pause = BleedPulseMs, BleedPauseMs
	}

	if !a.first && clock.After(a.lastPulse.Add(pause), now) {
		return res
	}
	if a.state == Dispensing && leanUnsafe {
		res.Deferred = true
		return res
	}

	if err := a.driver.FireRampedPulse(pulse); err != nil {
		a.log.Warnf("%v", err)
	}
	a.lastPulse = now.Add(pulse)
	a.first = false
	a.pulsesFired++
	if a.tank != nil {
		a.tank.Consume(1)
	}
	res.Fired = 1

	if a.state == Bleeding {
		a.cycles++
		return res
	}
	a.remaining--
	if a.remaining <= 0 {
		a.state = Idle
		a.remaining = 0
		res.Finished = true
		a.log.Infof("oiling done")
	}
	return res
}

func (a *Actuator) off() {
	if err := a.driver.Off(); err != nil {
		a.log.Errorf("pump off failed: %v", err)
	}
}

// State returns the current state.
func (a *Actuator) State() State { return a.state }

// Active reports Dispensing or Bleeding.
func (a *Actuator) Active() bool { return a.state != Idle }

// Remaining returns the pulses left in the running job.
func (a *Actuator) Remaining() int { return a.remaining }

// Cycles counts dispense jobs plus bleeding pulses.
func (a *Actuator) Cycles() int { return a.cycles }

// PulsesFired counts every pulse sent to the driver.
func (a *Actuator) PulsesFired() int { return a.pulsesFired }

// RestoreCounters loads persisted statistics.
func (a *Actuator) RestoreCounters(cycles, pulses int) {
	a.cycles = cycles
	a.pulsesFired = pulses
}

// ResetCounters zeroes the statistics.
func (a *Actuator) ResetCounters() {
	a.cycles = 0
	a.pulsesFired = 0
}

// LastFault returns the most recent cutoff message.
func (a *Actuator) LastFault() string { return a.lastFault }

// Tank returns the reservoir model.
func (a *Actuator) Tank() *Tank { return a.tank }
