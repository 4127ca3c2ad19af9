package oiler

import (
	"errors"
	"math"
	"testing"

	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/button"
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/gps"
	"github.com/shaunagostinho/chain-oiler/internal/interval"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
	"github.com/shaunagostinho/chain-oiler/internal/pump"
)

type fakeIMU struct {
	parked   bool
	crashed  bool
	noMotion bool
	leanDeg  float64
}

func (f *fakeIMU) IsParked() bool                       { return f.parked }
func (f *fakeIMU) IsCrashed() bool                      { return f.crashed }
func (f *fakeIMU) IsMotionDetected() bool               { return !f.noMotion }
func (f *fakeIMU) IsLeaningTowardTire(deg float64) bool { return f.leanDeg > deg }

type recordingFaults struct {
	faults []string
}

func (r *recordingFaults) Fault(source, message string) {
	r.faults = append(r.faults, source+": "+message)
}

type harness struct {
	o      *Oiler
	clk    *clock.Manual
	drv    *pump.SimDriver
	aux    *accessory.SimOutput
	imu    *fakeIMU
	faults *recordingFaults
	lat    float64
}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	h := &harness{
		clk:    &clock.Manual{},
		drv:    &pump.SimDriver{},
		aux:    &accessory.SimOutput{},
		imu:    &fakeIMU{},
		faults: &recordingFaults{},
	}
	h.o = New(s, Deps{Clock: h.clk, Driver: h.drv, Accessory: h.aux, IMU: h.imu, Faults: h.faults})
	return h
}

func (h *harness) sample(valid bool, speed float64) {
	h.o.OnGPS(gps.Data{Valid: valid, Latitude: h.lat, Speed: speed, Satellites: 9}, h.clk.T)
}

// advance ticks the oiler every 100 ms for ms milliseconds.
func (h *harness) advance(ms uint32) {
	for ms > 0 {
		step := min(ms, uint32(100))
		h.clk.Advance(step)
		h.o.Tick(h.clk.T)
		ms -= step
	}
}

// ride moves north by stepKm per GPS sample at speed. The first sample after
// a fix loss only seeds the odometer.
func (h *harness) ride(steps int, stepKm, speed float64) {
	if !h.o.HasFix() {
		h.sample(true, speed)
	}
	dt := uint32(stepKm / speed * 3600 * 1000)
	for i := 0; i < steps; i++ {
		h.advance(dt)
		h.lat += stepKm / 6371 * 180 / math.Pi
		h.sample(true, speed)
	}
}

func singleRange() Settings {
	s := DefaultSettings()
	s.Ranges = []interval.SpeedRange{{MinSpeed: 10, MaxSpeed: 35, IntervalKm: 15, Pulses: 2}}
	return s
}

func TestScenarioConstantSpeed(t *testing.T) {
	h := newHarness(t, singleRange())

	h.ride(149, 0.1, 35)
	if h.o.PumpCycles() != 0 {
		t.Fatalf("dispensed after 14.9 km")
	}
	h.ride(1, 0.1, 35)
	if h.o.PumpCycles() != 1 {
		t.Fatalf("cycles after 15 km = %d, want 1", h.o.PumpCycles())
	}
	h.advance(5000)
	if len(h.drv.Pulses) != 2 {
		t.Errorf("pulses = %d, want 2", len(h.drv.Pulses))
	}
	if p := h.o.ProgressPercent(); p > 0.01 {
		t.Errorf("progress after dispense = %.4f%%, want ~0", p)
	}
	if math.Abs(h.o.OdometerKm()-15) > 1e-6 {
		t.Errorf("odometer = %v, want 15", h.o.OdometerKm())
	}
}

func TestScenarioRainDoublesProgress(t *testing.T) {
	h := newHarness(t, singleRange())
	if err := h.o.Command(Command{Name: CmdRain, On: true}, h.clk.T); err != nil {
		t.Fatal(err)
	}

	h.ride(74, 0.1, 35)
	if h.o.PumpCycles() != 0 {
		t.Fatalf("dispensed before 7.5 km")
	}
	h.ride(1, 0.1, 35)
	if h.o.PumpCycles() != 1 {
		t.Errorf("cycles at 7.5 km = %d, want 1", h.o.PumpCycles())
	}
}

func TestScenarioEmergencyExtrapolation(t *testing.T) {
	s := DefaultSettings()
	s.EmergencyTimeoutMin = 3
	h := newHarness(t, s)

	for now := clock.Millis(0); now <= 240000; now += 200 {
		h.clk.T = now
		h.o.OnGPS(gps.Data{}, now)
		h.o.Tick(now)
		if now == 180000 && h.o.OdometerKm() != 0 {
			t.Fatalf("odometer moved before the timeout: %v", h.o.OdometerKm())
		}
	}

	if got := h.o.ActiveMode(); got != mode.Emergency {
		t.Errorf("mode = %v, want emergency", got)
	}
	// 299 steps of 200 ms at 50 km/h.
	want := 50 * 59.8 / 3600
	if math.Abs(h.o.OdometerKm()-want) > 1e-6 {
		t.Errorf("odometer = %v, want %v", h.o.OdometerKm(), want)
	}

	h.sample(true, 50)
	if h.o.Flags().EmergencyAuto {
		t.Error("valid fix should end emergency immediately")
	}
}

func TestForcedEmergencyIgnoresFix(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	if err := h.o.Command(Command{Name: CmdEmergency, On: true}, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		h.clk.T = clock.Millis(i * 200)
		h.sample(true, 0)
	}
	if h.o.ActiveMode() != mode.EmergencyForced {
		t.Errorf("mode = %v", h.o.ActiveMode())
	}
	if h.o.HasFix() {
		t.Error("forced emergency must treat the fix as invalid")
	}
	want := 50 * 9.8 / 3600
	if math.Abs(h.o.OdometerKm()-want) > 1e-6 {
		t.Errorf("odometer = %v, want %v", h.o.OdometerKm(), want)
	}
}

func TestRainRejectedDuringEmergency(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.o.Command(Command{Name: CmdRain, On: true}, 0)
	h.o.Command(Command{Name: CmdEmergency, On: true}, 0)
	if h.o.Flags().Rain {
		t.Fatal("forced emergency should clear rain")
	}
	err := h.o.Command(Command{Name: CmdRain, On: true}, 0)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("rain under emergency: err = %v, want ErrRejected", err)
	}
	if h.o.Flags().Rain || h.o.ActiveMode() != mode.EmergencyForced {
		t.Errorf("flags = %+v, mode = %v", h.o.Flags(), h.o.ActiveMode())
	}
}

func TestCrashLatchBlocksEverything(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ride(10, 0.1, 50)
	odo := h.o.OdometerKm()

	h.imu.crashed = true
	if res := h.o.Tick(h.clk.T); !res.Crashed {
		t.Fatal("crash not latched")
	}
	h.imu.crashed = false
	h.o.Tick(h.clk.T)

	if !h.o.Crashed() || h.o.PumpState() != pump.Idle {
		t.Error("pump must be idle and locked after a crash")
	}
	if len(h.faults.faults) != 1 {
		t.Errorf("faults = %v, want exactly one", h.faults.faults)
	}

	h.ride(200, 0.1, 50)
	if h.o.OdometerKm() != odo {
		t.Errorf("distance accepted after crash: %v -> %v", odo, h.o.OdometerKm())
	}
	if len(h.drv.Pulses) != 0 {
		t.Errorf("pump fired %d pulses after crash", len(h.drv.Pulses))
	}
	if err := h.o.Command(Command{Name: CmdBleed, On: true}, h.clk.T); !errors.Is(err, ErrRejected) {
		t.Errorf("bleeding after crash: err = %v", err)
	}
}

func TestCrashLatchesOnDistancePath(t *testing.T) {
	h := newHarness(t, singleRange())
	h.imu.crashed = true

	// GPS samples arrive before the control loop ticks for the first time.
	h.sample(true, 35)
	stepKm, speed := 0.1, 35.0
	dt := uint32(stepKm / speed * 3600 * 1000)
	for i := 0; i < 200; i++ {
		h.clk.Advance(dt)
		h.lat += 0.1 / 6371 * 180 / math.Pi
		h.sample(true, 35)
	}

	if !h.o.Crashed() {
		t.Fatal("crash not latched from GPS samples")
	}
	if h.o.OdometerKm() != 0 || h.o.PumpCycles() != 0 {
		t.Errorf("odometer %v km, %d dispenses while crashed", h.o.OdometerKm(), h.o.PumpCycles())
	}
	if len(h.faults.faults) != 1 {
		t.Errorf("faults = %v, want exactly one", h.faults.faults)
	}

	if res := h.o.Tick(h.clk.T); !res.Crashed {
		t.Error("first tick must report the latch engaged on the distance path")
	}
	if res := h.o.Tick(h.clk.T); res.Crashed {
		t.Error("latch reported twice")
	}
	if len(h.drv.Pulses) != 0 {
		t.Errorf("pump fired %d pulses after crash", len(h.drv.Pulses))
	}
}

func TestParkedGuard(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.imu.parked = true
	h.ride(5, 0.01, 8)
	if h.o.OdometerKm() != 0 {
		t.Errorf("parked drift counted: %v km", h.o.OdometerKm())
	}
	h.ride(5, 0.1, 60)
	if h.o.OdometerKm() == 0 {
		t.Error("parked guard must not apply above 10 km/h")
	}
}

func TestLeanDefersDispense(t *testing.T) {
	h := newHarness(t, singleRange())
	h.ride(149, 0.1, 35)
	h.imu.leanDeg = 30
	h.ride(2, 0.1, 35)
	if h.o.PumpCycles() != 0 {
		t.Fatal("dispensed while leaning toward the tire")
	}
	h.imu.leanDeg = 10
	h.ride(1, 0.1, 35)
	if h.o.PumpCycles() != 0 {
		t.Fatal("deferral released above the release angle")
	}
	h.imu.leanDeg = 0
	h.ride(1, 0.1, 35)
	if h.o.PumpCycles() != 1 {
		t.Errorf("cycles after upright = %d, want 1", h.o.PumpCycles())
	}
}

func TestButtonClickTogglesRain(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.o.Button(button.Edge{Pressed: true, At: 1000})
	h.o.Button(button.Edge{Pressed: false, At: 1100})
	h.clk.T = 1000
	h.advance(800)
	if !h.o.Flags().Rain {
		t.Error("single click should enable rain")
	}
}

func TestLongHoldBleeding(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.o.Button(button.Edge{Pressed: true, At: 0})
	h.advance(3200)
	if !h.o.SessionOpen() {
		t.Error("3 s hold should open the config session")
	}
	h.advance(7000)
	if h.o.PumpState() != pump.Bleeding || !h.o.Flags().Bleeding {
		t.Fatalf("state = %v, flags = %+v", h.o.PumpState(), h.o.Flags())
	}
	h.o.Button(button.Edge{Pressed: false, At: h.clk.T})
	h.advance(11000)
	if h.o.PumpState() != pump.Idle || h.o.Flags().Bleeding {
		t.Errorf("bleeding should end after 10 s: %v", h.o.PumpState())
	}
	if len(h.drv.Pulses) == 0 {
		t.Error("no bleeding pulses fired")
	}
}

func TestBleedingRejectedWhileRiding(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.ride(10, 0.1, 50)
	if err := h.o.Command(Command{Name: CmdBleed, On: true}, h.clk.T); !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
}

func TestChainFlushIsTimeBased(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	for i := 0; i < 5; i++ {
		h.sample(true, 30)
	}
	h.o.Command(Command{Name: CmdFlush, On: true}, h.clk.T)
	h.advance(60000)
	if h.o.PumpCycles() != 0 {
		t.Fatal("flush fired before its interval")
	}
	h.advance(200)
	if h.o.PumpCycles() != 1 {
		t.Fatalf("cycles = %d, want 1", h.o.PumpCycles())
	}
	if f := h.o.Flags(); f.FlushRemaining != mode.DefaultFlush().Events-1 {
		t.Errorf("remaining = %d", f.FlushRemaining)
	}
	h.advance(5000)
	if len(h.drv.Pulses) != mode.DefaultFlush().Pulses {
		t.Errorf("pulses = %d, want %d", len(h.drv.Pulses), mode.DefaultFlush().Pulses)
	}
}

func TestTemperatureRefresh(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.o.OnTemperature(-10, true)
	h.advance(100)
	if d := h.o.Durations(); d.PulseMs <= 55 {
		t.Errorf("cold pulse = %d ms, want longer than base", d.PulseMs)
	}

	h.o.OnTemperature(-127, false)
	if len(h.faults.faults) != 1 {
		t.Errorf("sensor loss faults = %v", h.faults.faults)
	}
	h.advance(5100)
	if d := h.o.Durations(); d.PulseMs != 55 || d.PauseMs != 750 {
		t.Errorf("disconnected durations = %+v, want base", d)
	}
}

func TestPersistCadence(t *testing.T) {
	h := newHarness(t, singleRange())
	if h.o.PersistDue(0) {
		t.Fatal("nothing to save at boot")
	}
	h.ride(150, 0.1, 35)
	if !h.o.PersistDue(h.clk.T) {
		t.Error("dispense should request a save")
	}
	if h.o.PersistDue(h.clk.T) {
		t.Error("save request must clear once reported")
	}
	if !h.o.PersistDue(h.clk.T.Add(SaveIntervalMs + 1)) {
		t.Error("regular save after 5 min")
	}
}

func TestStateRoundTrip(t *testing.T) {
	h := newHarness(t, singleRange())
	h.ride(160, 0.1, 35)
	h.advance(5000)
	h.o.Command(Command{Name: CmdRain, On: true}, h.clk.T)
	st := h.o.State()

	other := newHarness(t, singleRange())
	other.o.Restore(st)
	if other.o.OdometerKm() != h.o.OdometerKm() || other.o.PumpCycles() != 1 || other.o.PulsesFired() != 2 {
		t.Errorf("restored = odo %v cycles %d pulses %d", other.o.OdometerKm(), other.o.PumpCycles(), other.o.PulsesFired())
	}
	if math.Abs(other.o.ProgressPercent()-h.o.ProgressPercent()) > 1e-9 || !other.o.Flags().Rain {
		t.Errorf("progress %v vs %v, rain %v", other.o.ProgressPercent(), h.o.ProgressPercent(), other.o.Flags().Rain)
	}
	if other.o.TankPercent() != h.o.TankPercent() {
		t.Errorf("tank %v vs %v", other.o.TankPercent(), h.o.TankPercent())
	}
}

func TestSnapshotIndicator(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	if got := h.o.Snapshot(0).LED.Name; got != "searching" {
		t.Errorf("LED at boot = %q, want searching", got)
	}
	h.ride(1, 0.1, 50)
	snap := h.o.Snapshot(h.clk.T)
	if snap.LED.Name != "ready" || !snap.HasFix || snap.Mode != "normal" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Ranges) != len(interval.DefaultRanges()) {
		t.Errorf("ranges = %d", len(snap.Ranges))
	}
}

func TestSettingsValidateClamps(t *testing.T) {
	s := DefaultSettings()
	s.Ranges = []interval.SpeedRange{{MinSpeed: 10, MaxSpeed: 50, IntervalKm: 0, Pulses: 0}}
	s.Flush.Events = 0
	s.EmergencyTimeoutMin = 0
	s.LED.High = 255
	s.Temp.BasePulseMs = 10
	if !s.Validate(nil) {
		t.Fatal("expected changes")
	}
	if s.Ranges[0].IntervalKm < interval.MinIntervalKm || s.Ranges[0].Pulses < 1 {
		t.Errorf("range not clamped: %+v", s.Ranges[0])
	}
	if s.Flush.Events != 1 || s.EmergencyTimeoutMin != 1 || s.LED.High != 202 || s.Temp.BasePulseMs != 50 {
		t.Errorf("settings = %+v", s)
	}
	d := DefaultSettings()
	if d.Validate(nil) {
		t.Error("defaults should validate unchanged")
	}
}

func gripSettings() Settings {
	s := DefaultSettings()
	s.Accessory.Mode = accessory.Grips
	s.Accessory.StartDelaySec = 0
	s.Accessory.BoostSec = 0
	s.Accessory.Reaction = accessory.Fast
	return s
}

func TestAccessoryGripsFollowTemperatureAndRain(t *testing.T) {
	h := newHarness(t, gripSettings())
	h.o.OnTemperature(10, true)
	h.advance(10_000)

	// 25 % base plus 2 % per degree below 20 °C
	if h.aux.Duty < 43 || h.aux.Duty > 45 {
		t.Fatalf("grip duty = %d%%, want ~45", h.aux.Duty)
	}
	cold := h.aux.Duty

	if err := h.o.Command(Command{Name: CmdRain, On: true}, h.clk.T); err != nil {
		t.Fatal(err)
	}
	h.advance(10_000)
	if h.aux.Duty < cold+8 {
		t.Errorf("rain boost: %d%% -> %d%%", cold, h.aux.Duty)
	}

	snap := h.o.Snapshot(h.clk.T)
	if !snap.Accessory.Powered || snap.Accessory.Percent != h.aux.Duty {
		t.Errorf("accessory status = %+v", snap.Accessory)
	}
	if snap.AccessoryLED.Name != "grips-medium" {
		t.Errorf("accessory LED = %q", snap.AccessoryLED.Name)
	}
}

func TestAccessorySwitchPersists(t *testing.T) {
	h := newHarness(t, gripSettings())
	h.advance(5000)
	if h.aux.Duty == 0 {
		t.Fatal("grips should be on")
	}

	if err := h.o.Command(Command{Name: CmdAccessory, On: false}, h.clk.T); err != nil {
		t.Fatal(err)
	}
	h.advance(100)
	if h.aux.Duty != 0 {
		t.Errorf("duty after switch-off = %d%%", h.aux.Duty)
	}
	st := h.o.State()
	if !st.AccessoryOff {
		t.Fatal("switch-off not persisted")
	}

	r := newHarness(t, gripSettings())
	r.o.Restore(st)
	r.advance(5000)
	if r.aux.Duty != 0 || r.o.Snapshot(r.clk.T).Accessory.Enabled {
		t.Errorf("restored accessory runs at %d%%", r.aux.Duty)
	}
}

func TestCrashSwitchesAccessoryOff(t *testing.T) {
	h := newHarness(t, gripSettings())
	h.advance(5000)
	if h.aux.Duty == 0 {
		t.Fatal("grips should be on")
	}

	h.imu.crashed = true
	h.o.Tick(h.clk.T)
	if h.aux.Duty != 0 {
		t.Errorf("duty after crash = %d%%", h.aux.Duty)
	}
	h.imu.crashed = false
	h.advance(5000)
	if h.aux.Duty != 0 {
		t.Errorf("accessory came back after crash: %d%%", h.aux.Duty)
	}
	if err := h.o.Command(Command{Name: CmdAccessory, On: true}, h.clk.T); !errors.Is(err, ErrRejected) {
		t.Errorf("accessory on after crash: err = %v", err)
	}
}
