// Package oiler wires the control core together. An Oiler is not safe for
// concurrent use: the service owns it from a single tick goroutine and feeds
// it GPS samples, button edges and commands.
package oiler

import (
	"math"

	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/button"
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/emergency"
	"github.com/shaunagostinho/chain-oiler/internal/gps"
	"github.com/shaunagostinho/chain-oiler/internal/imu"
	"github.com/shaunagostinho/chain-oiler/internal/indicator"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
	"github.com/shaunagostinho/chain-oiler/internal/progress"
	"github.com/shaunagostinho/chain-oiler/internal/pump"
	"github.com/shaunagostinho/chain-oiler/internal/store"
	"github.com/shaunagostinho/chain-oiler/internal/tempcomp"
)

const (
	// MinSpeed is the standstill threshold.
	MinSpeed = 7.0

	SaveIntervalMs       = 5 * 60 * 1000
	StandstillSaveMs     = 2 * 60 * 1000
	SessionTimeoutMs     = 5 * 60 * 1000
	SessionCloseSpeedKmh = 10.0
	oilingLEDMs          = 3000
)

// Deps are the collaborators. Zero values select harmless defaults: no IMU,
// no fault log, a simulated accessory output and a discarding logger.
// Driver is required.
type Deps struct {
	Clock     clock.Source
	Driver    pump.Driver
	Accessory accessory.Output
	IMU       mode.IMU
	Faults    pump.FaultRecorder
	Log       *logger.Logger
}

// Oiler is the control core.
type Oiler struct {
	settings Settings
	clk      clock.Source
	imu      mode.IMU
	faults   pump.FaultRecorder
	log      *logger.Logger

	engine  *progress.Engine
	arbiter *mode.Arbiter
	decoder *button.Decoder
	emerg   *emergency.Extrapolator
	pump    *pump.Actuator
	tank    *pump.Tank
	temp    *tempcomp.Compensator
	aux     *accessory.Controller
	auxOut  accessory.Output

	smoother   gps.SpeedSmoother
	odo        gps.Odometer
	speed      float64
	hasFix     bool
	satellites int
	localHour  int
	odometerKm float64

	auxDuty  int
	auxFault bool

	tempC         float64
	tempConnected bool
	tempSeen      bool
	tempApplied   bool
	lastTemp      clock.Millis

	session      bool
	sessionUntil clock.Millis
	oilingUntil  clock.Millis
	oilingLED    bool

	crashPending   bool
	dirty          bool
	saveNow        bool
	lastSave       clock.Millis
	lastStandstill clock.Millis
}

// New builds an oiler. Settings are validated first.
func New(s Settings, d Deps) *Oiler {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.NewMonotonic()
	}
	if d.IMU == nil {
		d.IMU = imu.Unavailable{}
	}
	if d.Accessory == nil {
		d.Accessory = &accessory.SimOutput{}
	}
	s.Validate(d.Log.WithTag("oiler"))

	tank := pump.NewTank(s.Tank)
	o := &Oiler{
		settings:  s,
		clk:       d.Clock,
		imu:       d.IMU,
		faults:    d.Faults,
		log:       d.Log.WithTag("oiler"),
		engine:    progress.NewEngine(s.Ranges, s.StartupDelayM),
		arbiter:   mode.NewArbiter(s.Flush, s.Offroad, d.Log.WithTag("mode")),
		decoder:   button.NewDecoder(),
		emerg:     emergency.New(uint32(s.EmergencyTimeoutMin) * 60 * 1000),
		pump:      pump.New(s.Pump, d.Driver, tank, d.Faults, d.Log.WithTag("pump")),
		tank:      tank,
		temp:      tempcomp.New(s.Temp, s.Pump.RampUpMs),
		auxOut:    d.Accessory,
		localHour: -1,
		tempC:     tempcomp.ReferenceC,
	}
	o.arbiter.SetOffroadPulses(s.Ranges[0].Pulses)
	cur := o.temp.Current()
	o.pump.SetDurations(cur.PulseMs, cur.PauseMs)
	now := o.clk.Now()
	o.aux = accessory.New(s.Accessory, now)
	o.lastSave = now
	o.lastStandstill = now
	return o
}

// Settings returns the validated settings in use.
func (o *Oiler) Settings() Settings { return o.settings }

// Configure applies new settings at runtime. Pump timing limits only take
// effect at the next start.
func (o *Oiler) Configure(s Settings) {
	s.Validate(o.log)
	s.Pump = o.settings.Pump
	o.settings = s
	o.engine.SetRanges(s.Ranges)
	o.engine.SetStartupDelay(s.StartupDelayM)
	o.arbiter.Configure(s.Flush, s.Offroad)
	o.arbiter.SetOffroadPulses(s.Ranges[0].Pulses)
	o.emerg.SetTimeout(uint32(s.EmergencyTimeoutMin) * 60 * 1000)
	o.tank.Configure(s.Tank)
	o.temp.SetProfile(s.Temp)
	o.tempApplied = false
	o.aux.Configure(s.Accessory)
	o.log.Infof("settings applied")
}

// Restore loads persisted state. Forced emergency is not part of State and
// always boots off.
func (o *Oiler) Restore(s store.State) {
	now := o.clk.Now()
	o.engine.Restore(s.Progress)
	if s.OdometerKm > 0 && !math.IsInf(s.OdometerKm, 0) {
		o.odometerKm = s.OdometerKm
	}
	o.pump.RestoreCounters(s.PumpCycles, s.PulsesFired)
	if o.tank.Config().Enabled {
		o.tank.Refill(s.TankLevelMl)
	}
	o.arbiter.RestoreRain(s.Rain, now)
	o.aux.SetEnabled(!s.AccessoryOff, now)
	o.log.Infof("restored: progress %.1f%%, odometer %.1f km, tank %.1f ml",
		o.engine.ProgressPercent(), o.odometerKm, o.tank.Level())
}

// State copies everything that is persisted.
func (o *Oiler) State() store.State {
	return store.State{
		Version:      store.Version,
		Progress:     o.engine.Export(),
		OdometerKm:   o.odometerKm,
		PumpCycles:   o.pump.Cycles(),
		PulsesFired:  o.pump.PulsesFired(),
		TankLevelMl:  o.tank.Level(),
		Rain:         o.arbiter.Flags().Rain,
		AccessoryOff: !o.aux.Enabled(),
	}
}

// OnGPS ingests one GPS sample.
func (o *Oiler) OnGPS(d gps.Data, now clock.Millis) {
	forced := o.arbiter.Flags().EmergencyForced
	valid := d.Valid && !forced

	raw := 0.0
	if d.Valid {
		raw = d.Speed
	}
	o.speed = o.smoother.Add(raw)
	o.satellites = d.Satellites
	if h, day, month, year, ok := d.UTC(); ok && d.Valid {
		o.localHour = indicator.LocalHour(h, day, month, year)
	}

	res := o.emerg.Update(now, d.Valid, forced, o.imu.IsMotionDetected())
	o.arbiter.SetEmergencyAuto(res.Active && !forced)
	if res.Entered {
		o.log.Warnf("extrapolating at %.0f km/h", res.SpeedKmh)
	}

	if !valid {
		if o.hasFix {
			o.log.Warnf("GPS fix lost")
		}
		o.hasFix = false
		o.odo.Reset()
		if res.DistanceKm > 0 {
			o.processDistance(res.DistanceKm, res.SpeedKmh, now)
		}
		return
	}

	if !o.hasFix {
		o.hasFix = true
		o.odo.Reset()
		o.log.Infof("GPS fix acquired (%d satellites)", d.Satellites)
	}
	if dist := o.odo.Step(d.Latitude, d.Longitude, o.speed); dist > 0 {
		o.processDistance(dist, o.speed, now)
	}
}

// processDistance runs one distance step through the safety checks and the
// progress engine.
func (o *Oiler) processDistance(distKm, speedKmh float64, now clock.Millis) {
	o.checkCrash()
	if o.arbiter.Blocked(speedKmh, o.imu) {
		return
	}
	o.odometerKm += distKm
	o.dirty = true

	active := o.arbiter.Active()
	if !active.DistanceBased() {
		return
	}
	if !o.engine.OnDistance(distKm, speedKmh, active.ProgressMultiplier()) {
		return
	}
	if !o.arbiter.DispenseAllowed(o.imu) {
		return
	}
	req := o.engine.Fire(speedKmh)
	o.log.Infof("interval reached at %.0f km/h: %d pulses (range %d)", speedKmh, req.Pulses, req.RangeIndex)
	o.dispense(req.Pulses, now)
}

func (o *Oiler) dispense(pulses int, now clock.Millis) {
	if !o.pump.Dispense(pulses, now) {
		return
	}
	o.oilingLED = true
	o.oilingUntil = now.Add(oilingLEDMs)
	o.saveNow = true
}

// checkCrash latches a crash reported by the IMU and locks the pump. Both
// the distance path and Tick call it, so no sample reaches the progress
// engine after the IMU reports a crash.
func (o *Oiler) checkCrash() {
	if !o.arbiter.LatchCrash(o.imu.IsCrashed()) {
		return
	}
	o.pump.Lock("crash")
	o.aux.Lock()
	o.driveAccessory()
	o.arbiter.SetBleeding(false)
	o.recordFault("imu", "crash detected, dispensing locked until restart")
	o.crashPending = true
	o.saveNow = true
}

// Button feeds a debounced edge to the decoder.
func (o *Oiler) Button(e button.Edge) {
	if e.Pressed {
		o.decoder.Press(e.At)
		return
	}
	o.decoder.Release(e.At)
}

// TickResult summarizes one Tick for the caller.
type TickResult struct {
	Actions []button.Action
	Pump    pump.TickResult
	Crashed bool // the crash latch engaged since the previous tick
}

// Tick advances everything that is time driven. Call it every few tens of
// milliseconds; a pulse blocks it for the pulse duration.
func (o *Oiler) Tick(now clock.Millis) TickResult {
	var res TickResult

	o.checkCrash()
	res.Crashed, o.crashPending = o.crashPending, false

	res.Actions = o.decoder.Tick(now, o.speed)
	for _, a := range res.Actions {
		o.handleAction(a, now)
	}

	if o.session && (clock.After(now, o.sessionUntil) || o.speed > SessionCloseSpeedKmh) {
		o.closeSession("timeout or riding")
	}

	total := 0
	for _, r := range o.arbiter.Tick(now, o.speed) {
		o.log.Infof("%s event: %d pulses", r.Source, r.Pulses)
		total += r.Pulses
	}
	if total > 0 {
		o.dispense(total, now)
	}

	res.Pump = o.pump.Tick(now, o.imu.IsLeaningTowardTire(mode.LeanArmDeg))
	o.arbiter.SetBleeding(o.pump.State() == pump.Bleeding)
	if res.Pump.BleedDone || res.Pump.CutOff {
		o.saveNow = true
	}
	if res.Pump.Fired > 0 {
		o.dirty = true
	}

	if !o.tempApplied || clock.Since(now, o.lastTemp) > tempcomp.RefreshMs {
		o.applyTemperature(now)
	}

	o.aux.Update(now, accessory.Inputs{
		SpeedKmh:  o.speed,
		TempC:     o.tempC,
		TempValid: o.tempSeen && o.tempConnected,
		Rain:      o.arbiter.Flags().Rain,
		Motion:    o.imu.IsMotionDetected(),
	})
	o.driveAccessory()

	if o.oilingLED && clock.After(now, o.oilingUntil) {
		o.oilingLED = false
	}
	return res
}

// driveAccessory writes the controller level to the output when it changed.
// A failed write is recorded once and retried on the next tick.
func (o *Oiler) driveAccessory() {
	pct := o.aux.Percent()
	if pct == o.auxDuty {
		return
	}
	if err := o.auxOut.SetDuty(pct); err != nil {
		if !o.auxFault {
			o.recordFault("accessory", err.Error())
			o.auxFault = true
		}
		return
	}
	o.auxFault = false
	o.auxDuty = pct
}

func (o *Oiler) handleAction(a button.Action, now clock.Millis) {
	o.log.Infof("button: %s", a)
	switch a {
	case button.ToggleRain:
		o.arbiter.SetRain(!o.arbiter.Flags().Rain, now)
		o.saveNow = true
	case button.ToggleFlush:
		o.arbiter.SetChainFlush(!o.arbiter.Flags().ChainFlush, now)
	case button.ToggleOffroad:
		o.arbiter.SetOffroad(!o.arbiter.Flags().Offroad, now)
	case button.ConfigSession:
		o.OpenSession(now)
	case button.StartBleeding:
		o.startBleeding(now)
	}
}

func (o *Oiler) startBleeding(now clock.Millis) bool {
	if o.speed >= MinSpeed {
		o.log.Warnf("bleeding rejected at %.1f km/h", o.speed)
		return false
	}
	if !o.pump.StartBleeding(now) {
		return false
	}
	o.arbiter.SetBleeding(true)
	return true
}

// OnTemperature stores the latest sensor reading. It is applied on the next
// refresh.
func (o *Oiler) OnTemperature(tempC float64, connected bool) {
	if o.tempSeen && o.tempConnected && !connected {
		o.log.Warnf("temperature sensor lost, using base durations")
		o.recordFault("thermo", "temperature sensor disconnected")
	}
	o.tempC = tempC
	o.tempConnected = connected
	o.tempSeen = true
}

func (o *Oiler) applyTemperature(now clock.Millis) {
	o.lastTemp = now
	o.tempApplied = true
	before := o.temp.Current()
	d := o.temp.OnSample(o.tempC, o.tempConnected && o.tempSeen)
	o.pump.SetDurations(d.PulseMs, d.PauseMs)
	if d != before {
		o.log.Infof("temperature %.1f °C: pulse %d ms, pause %d ms", o.temp.TemperatureC(), d.PulseMs, d.PauseMs)
	}
}

// OpenSession opens the configuration session. It is only honored at
// standstill.
func (o *Oiler) OpenSession(now clock.Millis) bool {
	if o.speed >= MinSpeed {
		return false
	}
	if !o.session {
		o.log.Infof("config session open for %d min", SessionTimeoutMs/60000)
	}
	o.session = true
	o.sessionUntil = now.Add(SessionTimeoutMs)
	return true
}

// TouchSession extends an open session.
func (o *Oiler) TouchSession(now clock.Millis) bool {
	if !o.session {
		return false
	}
	o.sessionUntil = now.Add(SessionTimeoutMs)
	return true
}

func (o *Oiler) closeSession(reason string) {
	o.session = false
	o.log.Infof("config session closed (%s)", reason)
}

// SessionOpen reports whether configuration writes are allowed.
func (o *Oiler) SessionOpen() bool { return o.session }

// PersistDue reports whether the state should be saved now. A true result
// restarts the save timers, so the caller is expected to save State().
func (o *Oiler) PersistDue(now clock.Millis) bool {
	due := false
	switch {
	case o.saveNow:
		due = true
	case clock.Since(now, o.lastSave) > SaveIntervalMs:
		due = true
	case o.dirty && o.speed < MinSpeed && clock.Since(now, o.lastStandstill) > StandstillSaveMs:
		due = true
		o.lastStandstill = now
	}
	if due {
		o.saveNow = false
		o.dirty = false
		o.lastSave = now
	}
	return due
}

func (o *Oiler) recordFault(source, msg string) {
	o.log.Errorf("CRITICAL %s: %s", source, msg)
	if o.faults != nil {
		o.faults.Fault(source, msg)
	}
}

// Accessors.

func (o *Oiler) SpeedKmh() float64             { return o.speed }
func (o *Oiler) HasFix() bool                  { return o.hasFix }
func (o *Oiler) OdometerKm() float64           { return o.odometerKm }
func (o *Oiler) ProgressPercent() float64      { return o.engine.ProgressPercent() }
func (o *Oiler) Flags() mode.Flags             { return o.arbiter.Flags() }
func (o *Oiler) ActiveMode() mode.Active       { return o.arbiter.Active() }
func (o *Oiler) PumpState() pump.State         { return o.pump.State() }
func (o *Oiler) PumpCycles() int               { return o.pump.Cycles() }
func (o *Oiler) PulsesFired() int              { return o.pump.PulsesFired() }
func (o *Oiler) TankPercent() float64          { return o.tank.Percent() }
func (o *Oiler) Durations() tempcomp.Durations { return o.temp.Current() }
func (o *Oiler) Crashed() bool                 { return o.arbiter.Locked() }
