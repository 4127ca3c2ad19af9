package pump

import "time"

const (
	rampDutyStep = 15
	maxDuty      = 255
)

// Step is one segment of a ramped pulse at constant duty.
type Step struct {
	Duty     uint8
	Duration time.Duration
}

// RampProfile splits a pulse of durationMs into a linear soft start from 0 to
// full duty over upMs, a hold at full duty for durationMs-upMs, and a linear
// soft stop over downMs. The hold is zero when the pulse is shorter than the
// ramp.
func RampProfile(durationMs, upMs, downMs uint32) []Step {
	upStep := time.Duration(upMs) * time.Millisecond * rampDutyStep / maxDuty
	downStep := time.Duration(downMs) * time.Millisecond * rampDutyStep / maxDuty

	steps := make([]Step, 0, 2*(maxDuty/rampDutyStep+1)+1)
	for duty := 0; duty <= maxDuty; duty += rampDutyStep {
		steps = append(steps, Step{Duty: uint8(duty), Duration: upStep})
	}

	var hold time.Duration
	if durationMs > upMs {
		hold = time.Duration(durationMs-upMs) * time.Millisecond
	}
	steps = append(steps, Step{Duty: maxDuty, Duration: hold})

	for duty := maxDuty; duty >= 0; duty -= rampDutyStep {
		steps = append(steps, Step{Duty: uint8(duty), Duration: downStep})
	}
	return steps
}

