// Package mode arbitrates the operating modes of the oiler and the safety
// vetoes that sit above them.
package mode

// Flags is the raw set of independently toggled modes.
type Flags struct {
	Rain            bool `json:"rain"`
	ChainFlush      bool `json:"chainFlush"`
	FlushRemaining  int  `json:"flushRemaining"`
	Offroad         bool `json:"offroad"`
	EmergencyAuto   bool `json:"emergencyAuto"`
	EmergencyForced bool `json:"emergencyForced"`
	Bleeding        bool `json:"bleeding"`
}

// Emergency reports whether either emergency flag is set.
func (f Flags) Emergency() bool {
	return f.EmergencyAuto || f.EmergencyForced
}

// Active is the single mode that controls dispensing cadence and volume.
type Active int

const (
	Normal Active = iota
	Rain
	Emergency
	EmergencyForced
	Offroad
	ChainFlush
	FlushOffroad // ChainFlush and Offroad concurrently
	Bleeding
)

func (a Active) String() string {
	switch a {
	case Normal:
		return "normal"
	case Rain:
		return "rain"
	case Emergency:
		return "emergency"
	case EmergencyForced:
		return "emergency-forced"
	case Offroad:
		return "offroad"
	case ChainFlush:
		return "chain-flush"
	case FlushOffroad:
		return "chain-flush+offroad"
	case Bleeding:
		return "bleeding"
	default:
		return "unknown"
	}
}

// Resolve applies the priority table. Bleeding wins over everything; the two
// time-based modes run together; Emergency suppresses Rain; Rain is last.
func Resolve(f Flags) Active {
	switch {
	case f.Bleeding:
		return Bleeding
	case f.ChainFlush && f.Offroad:
		return FlushOffroad
	case f.ChainFlush:
		return ChainFlush
	case f.Offroad:
		return Offroad
	case f.EmergencyForced:
		return EmergencyForced
	case f.EmergencyAuto:
		return Emergency
	case f.Rain:
		return Rain
	default:
		return Normal
	}
}

// DistanceBased reports whether progress accumulated from distance may
// trigger dispenses in this mode.
func (a Active) DistanceBased() bool {
	switch a {
	case Normal, Rain, Emergency, EmergencyForced:
		return true
	default:
		return false
	}
}

// ProgressMultiplier is applied to every progress delta. Rain doubles wear.
func (a Active) ProgressMultiplier() float64 {
	if a == Rain {
		return 2
	}
	return 1
}

// TimeBasedFlush and TimeBasedOffroad report which timers run.
func (a Active) TimeBasedFlush() bool {
	return a == ChainFlush || a == FlushOffroad
}

func (a Active) TimeBasedOffroad() bool {
	return a == Offroad || a == FlushOffroad
}
