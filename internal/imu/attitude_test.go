package imu

import (
	"testing"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
)

var _ mode.IMU = (*Attitude)(nil)
var _ mode.IMU = Unavailable{}

func TestParked(t *testing.T) {
	a := NewAttitude(DefaultCalibration(), &clock.Manual{})
	a.Update(Reading{RollDeg: 3})
	if a.IsParked() {
		t.Fatal("3° upright is not parked")
	}
	a.Update(Reading{RollDeg: -12})
	if !a.IsParked() {
		t.Fatal("12° lean at rest is parked")
	}

	a.Update(Reading{RollDeg: -8})
	a.CalibrateSideStand()
	a.Update(Reading{RollDeg: -6})
	if !a.IsParked() {
		t.Error("within 5° of the side stand is parked")
	}
	a.Update(Reading{RollDeg: -2})
	if a.IsParked() {
		t.Error("6° from the side stand is not parked")
	}
}

func TestCrash(t *testing.T) {
	a := NewAttitude(DefaultCalibration(), &clock.Manual{})
	for _, r := range []Reading{{RollDeg: 71}, {RollDeg: -80}, {PitchDeg: 75}} {
		a.Update(r)
		if !a.IsCrashed() {
			t.Errorf("%+v should read as crashed", r)
		}
	}
	a.Update(Reading{RollDeg: 50, PitchDeg: 20})
	if a.IsCrashed() {
		t.Error("50° lean is not a crash")
	}
}

func TestCalibrateZero(t *testing.T) {
	a := NewAttitude(DefaultCalibration(), &clock.Manual{})
	a.Update(Reading{RollDeg: 4, PitchDeg: -3})
	cal := a.CalibrateZero()
	if cal.OffsetRoll != 4 || cal.OffsetPitch != -3 {
		t.Fatalf("offsets = %+v", cal)
	}
	a.Update(Reading{RollDeg: 4, PitchDeg: -3})
	if a.Roll() != 0 || a.Pitch() != 0 {
		t.Errorf("calibrated attitude = %v/%v", a.Roll(), a.Pitch())
	}
}

func TestMotionWindow(t *testing.T) {
	clk := &clock.Manual{T: 1000}
	a := NewAttitude(DefaultCalibration(), clk)
	if a.IsMotionDetected() {
		t.Fatal("no motion seen yet")
	}
	a.Update(Reading{LinearAccel: [3]float64{0.6, 0, 0}})
	clk.Advance(4999)
	if !a.IsMotionDetected() {
		t.Fatal("motion within 5 s")
	}
	a.Update(Reading{LinearAccel: [3]float64{0.1, 0.1, 0.1}})
	clk.Advance(1)
	if a.IsMotionDetected() {
		t.Error("motion older than 5 s must expire")
	}
}

func TestLeanTowardTire(t *testing.T) {
	tests := []struct {
		name string
		cal  Calibration
		roll float64
		want bool
	}{
		{"chain right, lean left (negative)", Calibration{ChainOnRight: true}, -25, true},
		{"chain right, lean right", Calibration{ChainOnRight: true}, 25, false},
		{"chain left, lean right", Calibration{ChainOnRight: false}, 25, true},
		{"stand positive flips sign", Calibration{ChainOnRight: true, SideStandRoll: 12}, 25, true},
		{"below threshold", Calibration{ChainOnRight: true}, -15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttitude(tt.cal, &clock.Manual{})
			a.Update(Reading{RollDeg: tt.roll})
			if got := a.IsLeaningTowardTire(20); got != tt.want {
				t.Errorf("IsLeaningTowardTire(20) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	var u Unavailable
	if u.IsParked() || u.IsCrashed() || u.IsLeaningTowardTire(0) || !u.IsMotionDetected() {
		t.Error("missing IMU must defer to GPS")
	}
}
