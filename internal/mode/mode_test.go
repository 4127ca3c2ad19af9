package mode

import (
	"testing"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

type mockIMU struct {
	parked  bool
	crashed bool
	motion  bool
	leanDeg float64
}

func (m *mockIMU) IsParked() bool         { return m.parked }
func (m *mockIMU) IsCrashed() bool        { return m.crashed }
func (m *mockIMU) IsMotionDetected() bool { return m.motion }
func (m *mockIMU) IsLeaningTowardTire(deg float64) bool {
	return m.leanDeg > deg
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  Active
	}{
		{"nothing", Flags{}, Normal},
		{"rain", Flags{Rain: true}, Rain},
		{"emergency suppresses rain", Flags{Rain: true, EmergencyAuto: true}, Emergency},
		{"forced over auto", Flags{EmergencyAuto: true, EmergencyForced: true}, EmergencyForced},
		{"offroad over emergency", Flags{Offroad: true, EmergencyForced: true}, Offroad},
		{"flush over offroad alone", Flags{ChainFlush: true}, ChainFlush},
		{"flush and offroad together", Flags{ChainFlush: true, Offroad: true, Rain: true}, FlushOffroad},
		{"bleeding wins", Flags{Bleeding: true, ChainFlush: true, Offroad: true, EmergencyForced: true}, Bleeding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.flags); got != tt.want {
				t.Errorf("Resolve(%+v) = %v, want %v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestActiveProperties(t *testing.T) {
	if Rain.ProgressMultiplier() != 2 || Normal.ProgressMultiplier() != 1 || Emergency.ProgressMultiplier() != 1 {
		t.Error("only Rain doubles progress")
	}
	for _, a := range []Active{Offroad, ChainFlush, FlushOffroad, Bleeding} {
		if a.DistanceBased() {
			t.Errorf("%v must not be distance based", a)
		}
	}
	for _, a := range []Active{Normal, Rain, Emergency, EmergencyForced} {
		if !a.DistanceBased() {
			t.Errorf("%v must be distance based", a)
		}
	}
	if !FlushOffroad.TimeBasedFlush() || !FlushOffroad.TimeBasedOffroad() {
		t.Error("FlushOffroad runs both timers")
	}
}

func TestEmergencyForcedClearsRain(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	a.SetRain(true, 0)
	a.SetEmergencyForced(true)
	if a.Flags().Rain {
		t.Fatal("forcing emergency must clear rain")
	}
	if a.SetRain(true, 10) {
		t.Fatal("rain accepted while emergency forced")
	}
	if a.Flags().Rain {
		t.Fatal("rain flag set while emergency forced")
	}

	a.SetEmergencyForced(false)
	if !a.SetRain(true, 20) {
		t.Error("rain should be accepted once emergency is off")
	}
}

func TestEmergencyAutoClearsRain(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	a.SetRain(true, 0)
	a.SetEmergencyAuto(true)
	if a.Flags().Rain {
		t.Error("auto emergency must clear rain")
	}
	if a.SetRain(true, 5) {
		t.Error("rain accepted during auto emergency")
	}
}

func TestRainAutoOff(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	start := clock.Millis(1000)
	a.SetRain(true, start)

	a.Tick(start.Add(RainTimeout), 50)
	if !a.Flags().Rain {
		t.Fatal("rain cleared too early")
	}
	a.Tick(start.Add(RainTimeout+1), 50)
	if a.Flags().Rain {
		t.Error("rain should clear after 30 minutes")
	}
}

func TestRainAutoOffAcrossWrap(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	start := clock.Millis(^uint32(0) - 1000)
	a.SetRain(true, start)
	a.Tick(start.Add(60_000), 50)
	if !a.Flags().Rain {
		t.Fatal("wrap must not count as elapsed timeout")
	}
	a.Tick(start.Add(RainTimeout+1), 50)
	if a.Flags().Rain {
		t.Error("rain should clear after wrap plus timeout")
	}
}

func TestChainFlushCountdown(t *testing.T) {
	a := NewArbiter(FlushConfig{Events: 3, Pulses: 4, IntervalSec: 60}, DefaultOffroad(), nil)
	now := clock.Millis(0)
	a.SetChainFlush(true, now)
	if a.Flags().FlushRemaining != 3 {
		t.Fatalf("remaining = %d, want 3", a.Flags().FlushRemaining)
	}

	var fired []TimedRequest
	for i := 0; i < 5*60; i++ {
		now = now.Add(1000)
		fired = append(fired, a.Tick(now, 20)...)
	}
	if len(fired) != 3 {
		t.Fatalf("fired %d flush events, want 3", len(fired))
	}
	for _, r := range fired {
		if r.Source != ChainFlush || r.Pulses != 4 {
			t.Errorf("unexpected request %+v", r)
		}
	}
	if a.Flags().ChainFlush {
		t.Error("chain flush should turn off after last event")
	}
}

func TestChainFlushNeedsMovement(t *testing.T) {
	a := NewArbiter(FlushConfig{Events: 3, Pulses: 4, IntervalSec: 60}, DefaultOffroad(), nil)
	a.SetChainFlush(true, 0)
	if got := a.Tick(120_000, 1.5); len(got) != 0 {
		t.Fatalf("flush fired at standstill: %+v", got)
	}
	if got := a.Tick(121_000, 2); len(got) != 1 {
		t.Errorf("flush should fire once moving, got %d", len(got))
	}
}

func TestOffroadInterval(t *testing.T) {
	a := NewArbiter(DefaultFlush(), OffroadConfig{IntervalMin: 10}, nil)
	a.SetOffroadPulses(3)
	a.SetOffroad(true, 0)

	if got := a.Tick(10*60*1000, 30); len(got) != 0 {
		t.Fatal("offroad fired at exactly the interval")
	}
	if got := a.Tick(10*60*1000+1, 5); len(got) != 0 {
		t.Fatal("offroad fired below 7 km/h")
	}
	got := a.Tick(10*60*1000+2, 7)
	if len(got) != 1 || got[0].Pulses != 3 || got[0].Source != Offroad {
		t.Fatalf("offroad request = %+v", got)
	}
	if got := a.Tick(15*60*1000, 30); len(got) != 0 {
		t.Error("offroad timer should restart after firing")
	}
}

func TestBleedingPausesTimedModes(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	a.SetOffroadPulses(2)
	a.SetOffroad(true, 0)
	a.SetChainFlush(true, 0)
	a.SetBleeding(true)

	if got := a.Tick(11*60*1000, 30); len(got) != 0 {
		t.Fatalf("timed request while bleeding: %+v", got)
	}
	a.SetBleeding(false)
	got := a.Tick(11*60*1000+1, 30)
	if len(got) != 2 || got[0].Source != Offroad || got[1].Source != ChainFlush {
		t.Errorf("after bleeding = %+v, want offroad then flush", got)
	}
}

func TestCrashLatchIsPermanent(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	imu := &mockIMU{}

	if !a.LatchCrash(true) {
		t.Fatal("first crash should latch")
	}
	if a.LatchCrash(true) {
		t.Error("second latch should report no change")
	}
	a.LatchCrash(false)

	a.SetOffroad(true, 0)
	a.SetChainFlush(true, 0)
	a.SetEmergencyForced(true)
	for now := clock.Millis(0); now < 3_600_000; now += 30_000 {
		if got := a.Tick(now, 80); len(got) != 0 {
			t.Fatalf("timed request after crash: %+v", got)
		}
		if !a.Blocked(80, imu) || a.DispenseAllowed(imu) {
			t.Fatal("crash latch must block dispensing")
		}
	}
	if !a.Locked() {
		t.Error("Locked should report the latch")
	}
}

func TestBlockedLatchesReportedCrash(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	imu := &mockIMU{crashed: true}
	if !a.Blocked(80, imu) {
		t.Fatal("sample must be blocked while the IMU reports a crash")
	}
	imu.crashed = false
	if !a.Locked() || !a.Blocked(80, imu) || a.DispenseAllowed(imu) {
		t.Error("crash must stay latched after the IMU clears")
	}

	b := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	if b.DispenseAllowed(&mockIMU{crashed: true}) || !b.Locked() {
		t.Error("DispenseAllowed must latch a reported crash")
	}
}

func TestParkedGuardOnlyAtLowSpeed(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	imu := &mockIMU{parked: true}
	if !a.Blocked(9.9, imu) {
		t.Error("parked below 10 km/h must block")
	}
	if a.Blocked(10, imu) {
		t.Error("parked signal ignored at riding speed")
	}
	if a.Blocked(5, nil) {
		t.Error("missing IMU never blocks")
	}
}

func TestLeanDeferralHysteresis(t *testing.T) {
	a := NewArbiter(DefaultFlush(), DefaultOffroad(), nil)
	imu := &mockIMU{leanDeg: 15}

	if !a.DispenseAllowed(imu) {
		t.Fatal("15° is below the arming threshold")
	}
	imu.leanDeg = 25
	if a.DispenseAllowed(imu) {
		t.Fatal("25° toward the tire must defer")
	}
	imu.leanDeg = 10
	if a.DispenseAllowed(imu) {
		t.Fatal("deferral must hold until lean drops below 5°")
	}
	imu.leanDeg = 4
	if !a.DispenseAllowed(imu) {
		t.Fatal("deferral should release below 5°")
	}
	imu.leanDeg = 10
	if !a.DispenseAllowed(imu) {
		t.Error("after release, 10° is allowed again")
	}
}
