package pump

import (
	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

// Driver switches the pump solenoid. FireRampedPulse blocks for the whole
// pulse and always completes its ramp-down.
type Driver interface {
	Name() string
	FireRampedPulse(durationMs uint32) error
	Off() error
	Close() error
}

// SimDriver records pulses instead of driving hardware. When Clock is set,
// every pulse advances it by the pulse duration.
type SimDriver struct {
	Clock  *clock.Manual
	Pulses []uint32
	Offs   int
}

func (s *SimDriver) Name() string { return "sim" }

func (s *SimDriver) FireRampedPulse(durationMs uint32) error {
	s.Pulses = append(s.Pulses, durationMs)
	if s.Clock != nil {
		s.Clock.Advance(durationMs)
	}
	return nil
}

func (s *SimDriver) Off() error {
	s.Offs++
	return nil
}

func (s *SimDriver) Close() error { return nil }
