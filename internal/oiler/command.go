package oiler

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

// Command names accepted by Command.
const (
	CmdRain          = "rain"
	CmdFlush         = "flush"
	CmdOffroad       = "offroad"
	CmdEmergency     = "emergency"
	CmdBleed         = "bleed"
	CmdRefill        = "refill"
	CmdResetProgress = "reset-progress"
	CmdResetStats    = "reset-stats"
	CmdSession       = "session"
	CmdSessionTouch  = "session-touch"
	CmdAccessory     = "accessory"
)

// ErrRejected is returned when a command is valid but not allowed now.
var ErrRejected = errors.New("oiler: command rejected")

// Command is a remote request, typically from the status server.
type Command struct {
	Name  string  `json:"name"`
	On    bool    `json:"on"`
	Value float64 `json:"value"` // refill amount in ml; 0 fills the tank
}

// Command applies cmd. A wrapped ErrRejected means the current state forbids
// it.
func (o *Oiler) Command(cmd Command, now clock.Millis) error {
	switch cmd.Name {
	case CmdRain:
		if got := o.arbiter.SetRain(cmd.On, now); got != cmd.On {
			return fmt.Errorf("%w: rain is unavailable during emergency", ErrRejected)
		}
		o.saveNow = true
	case CmdFlush:
		o.arbiter.SetChainFlush(cmd.On, now)
	case CmdOffroad:
		o.arbiter.SetOffroad(cmd.On, now)
	case CmdEmergency:
		o.arbiter.SetEmergencyForced(cmd.On)
	case CmdBleed:
		if !cmd.On {
			o.pump.Halt("bleeding stopped by user")
			o.arbiter.SetBleeding(false)
			return nil
		}
		if !o.startBleeding(now) {
			return fmt.Errorf("%w: bleeding needs standstill and an unlocked pump", ErrRejected)
		}
	case CmdRefill:
		if !o.tank.Config().Enabled {
			return fmt.Errorf("%w: tank monitor disabled", ErrRejected)
		}
		if cmd.Value > 0 {
			o.tank.Refill(o.tank.Level() + cmd.Value)
		} else {
			o.tank.Fill()
		}
		o.log.Infof("tank refilled: %.1f ml", o.tank.Level())
		o.saveNow = true
	case CmdResetProgress:
		o.engine.ResetProgress()
		o.saveNow = true
	case CmdResetStats:
		o.engine.ResetStats()
		o.pump.ResetCounters()
		o.saveNow = true
	case CmdSession:
		if !cmd.On {
			if o.session {
				o.closeSession("closed by user")
			}
			return nil
		}
		if !o.OpenSession(now) {
			return fmt.Errorf("%w: config session needs standstill", ErrRejected)
		}
	case CmdSessionTouch:
		if !o.TouchSession(now) {
			return fmt.Errorf("%w: no config session", ErrRejected)
		}
	case CmdAccessory:
		if o.arbiter.Locked() && cmd.On {
			return fmt.Errorf("%w: accessory output locked after crash", ErrRejected)
		}
		o.aux.SetEnabled(cmd.On, now)
		o.log.Infof("accessory output %s", onOff(cmd.On))
		o.saveNow = true
	default:
		return fmt.Errorf("oiler: unknown command %q", cmd.Name)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
