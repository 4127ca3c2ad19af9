// Package imu evaluates bike attitude for the oiler's safety checks.
package imu

import (
	"math"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

const (
	ParkedRollDeg    = 10.0
	SideStandBandDeg = 5.0
	CrashDeg         = 70.0
	MotionWindowMs   = 5000
	// MotionAccel is the linear acceleration magnitude (m/s²) that counts as
	// motion.
	MotionAccel = 0.5
)

// Calibration is persisted with the rest of the settings.
type Calibration struct {
	OffsetRoll          float64 `yaml:"offset_roll" json:"offsetRoll"`
	OffsetPitch         float64 `yaml:"offset_pitch" json:"offsetPitch"`
	SideStandRoll       float64 `yaml:"side_stand_roll" json:"sideStandRoll"`
	SideStandCalibrated bool    `yaml:"side_stand_calibrated" json:"sideStandCalibrated"`
	ChainOnRight        bool    `yaml:"chain_on_right" json:"chainOnRight"`
}

// DefaultCalibration assumes a chain on the right and no side stand
// reference.
func DefaultCalibration() Calibration {
	return Calibration{ChainOnRight: true}
}

// Attitude holds the latest calibrated roll and pitch and the motion
// timestamp.
type Attitude struct {
	cal Calibration
	clk clock.Source

	roll, pitch float64
	motionSeen  bool
	lastMotion  clock.Millis
}

// NewAttitude creates an evaluator. clk supplies the time for motion checks.
func NewAttitude(cal Calibration, clk clock.Source) *Attitude {
	return &Attitude{cal: cal, clk: clk}
}

// Update applies one sensor reading.
func (a *Attitude) Update(r Reading) {
	a.roll = r.RollDeg - a.cal.OffsetRoll
	a.pitch = r.PitchDeg - a.cal.OffsetPitch
	ax, ay, az := r.LinearAccel[0], r.LinearAccel[1], r.LinearAccel[2]
	if ax*ax+ay*ay+az*az > MotionAccel*MotionAccel {
		a.motionSeen = true
		a.lastMotion = a.clk.Now()
	}
}

// Roll and Pitch return calibrated angles in degrees.
func (a *Attitude) Roll() float64  { return a.roll }
func (a *Attitude) Pitch() float64 { return a.pitch }

// Calibration returns the current calibration.
func (a *Attitude) Calibration() Calibration { return a.cal }

// CalibrateZero takes the current attitude as upright.
func (a *Attitude) CalibrateZero() Calibration {
	a.cal.OffsetRoll += a.roll
	a.cal.OffsetPitch += a.pitch
	a.roll, a.pitch = 0, 0
	return a.cal
}

// CalibrateSideStand records the current roll as the side stand position.
func (a *Attitude) CalibrateSideStand() Calibration {
	a.cal.SideStandRoll = a.roll
	a.cal.SideStandCalibrated = true
	return a.cal
}

// SetChainSide selects which side the chain runs on.
func (a *Attitude) SetChainSide(right bool) Calibration {
	a.cal.ChainOnRight = right
	return a.cal
}

// IsParked reports a roll beyond 10° or within 5° of the calibrated side
// stand.
func (a *Attitude) IsParked() bool {
	if math.Abs(a.roll) > ParkedRollDeg {
		return true
	}
	return a.cal.SideStandCalibrated && math.Abs(a.roll-a.cal.SideStandRoll) < SideStandBandDeg
}

// IsCrashed reports roll or pitch beyond 70°. The caller latches it.
func (a *Attitude) IsCrashed() bool {
	return math.Abs(a.roll) > CrashDeg || math.Abs(a.pitch) > CrashDeg
}

// IsMotionDetected reports acceleration within the last 5 s.
func (a *Attitude) IsMotionDetected() bool {
	return a.motionSeen && clock.Since(a.clk.Now(), a.lastMotion) < MotionWindowMs
}

// IsLeaningTowardTire reports a lean beyond deg toward the side where oil
// would reach the tire. The left direction's roll sign comes from the side
// stand, which is always on the left; without a clear reference, left is
// negative.
func (a *Attitude) IsLeaningTowardTire(deg float64) bool {
	leftSign := -1.0
	if math.Abs(a.cal.SideStandRoll) > 1 && a.cal.SideStandRoll > 0 {
		leftSign = 1
	}
	leaningLeft := a.roll*leftSign > deg
	leaningRight := -a.roll*leftSign > deg
	if a.cal.ChainOnRight {
		return leaningLeft
	}
	return leaningRight
}

// Unavailable answers the safety queries when no IMU is fitted: never
// parked, crashed or leaning, always in motion so GPS alone decides.
type Unavailable struct{}

func (Unavailable) IsParked() bool                   { return false }
func (Unavailable) IsCrashed() bool                  { return false }
func (Unavailable) IsMotionDetected() bool           { return true }
func (Unavailable) IsLeaningTowardTire(float64) bool { return false }
