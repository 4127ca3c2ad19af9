package pump

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOConfig selects the MOSFET gate line and the soft-PWM parameters.
type GPIOConfig struct {
	Chip        string `yaml:"chip" json:"chip"`
	Line        int    `yaml:"line" json:"line"`
	PWMPeriodUs int    `yaml:"pwm_period_us" json:"pwmPeriodUs"`
}

// GPIODriver drives the pump gate through the GPIO character device with
// software PWM during the ramps. The default period is 1 ms.
type GPIODriver struct {
	line     *gpiocdev.Line
	period   time.Duration
	rampUp   uint32
	rampDown uint32
}

// OpenGPIO requests the gate line driven low.
func OpenGPIO(cfg GPIOConfig, rampUpMs, rampDownMs uint32) (*GPIODriver, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.PWMPeriodUs <= 0 {
		cfg.PWMPeriodUs = 1000
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("chainoiler-pump"))
	if err != nil {
		return nil, fmt.Errorf("pump: request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	return &GPIODriver{
		line:     line,
		period:   time.Duration(cfg.PWMPeriodUs) * time.Microsecond,
		rampUp:   rampUpMs,
		rampDown: rampDownMs,
	}, nil
}

func (d *GPIODriver) Name() string { return "gpio" }

// FireRampedPulse runs the ramp profile and leaves the gate low, also when a
// line write fails midway.
func (d *GPIODriver) FireRampedPulse(durationMs uint32) error {
	var firstErr error
	for _, s := range RampProfile(durationMs, d.rampUp, d.rampDown) {
		if err := d.drive(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.line.SetValue(0); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("pump: pulse: %w", firstErr)
	}
	return nil
}

func (d *GPIODriver) drive(s Step) error {
	switch s.Duty {
	case 0:
		if err := d.line.SetValue(0); err != nil {
			return err
		}
		time.Sleep(s.Duration)
		return nil
	case maxDuty:
		if err := d.line.SetValue(1); err != nil {
			return err
		}
		time.Sleep(s.Duration)
		return nil
	}

	on := d.period * time.Duration(s.Duty) / maxDuty
	off := d.period - on
	for end := time.Now().Add(s.Duration); time.Now().Before(end); {
		if err := d.line.SetValue(1); err != nil {
			return err
		}
		time.Sleep(on)
		if err := d.line.SetValue(0); err != nil {
			return err
		}
		time.Sleep(off)
	}
	return nil
}

// Off drives the gate low.
func (d *GPIODriver) Off() error {
	if err := d.line.SetValue(0); err != nil {
		return fmt.Errorf("pump: off: %w", err)
	}
	return nil
}

// Close drives the gate low and releases the line.
func (d *GPIODriver) Close() error {
	d.line.SetValue(0)
	return d.line.Close()
}
