package accessory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Output switches the accessory MOSFET. SetDuty must not block.
type Output interface {
	Name() string
	SetDuty(percent int) error
	Close() error
}

// SimOutput records the last duty instead of driving hardware.
type SimOutput struct {
	Duty   int
	Writes int
}

func (s *SimOutput) Name() string { return "sim" }

func (s *SimOutput) SetDuty(percent int) error {
	s.Duty = percent
	s.Writes++
	return nil
}

func (s *SimOutput) Close() error { return nil }

// GPIOConfig selects the accessory gate line and the soft-PWM period.
type GPIOConfig struct {
	Chip     string `yaml:"chip" json:"chip"`
	Line     int    `yaml:"line" json:"line"`
	PeriodMs int    `yaml:"period_ms" json:"periodMs"`
}

// GPIOOutput runs software PWM on a GPIO line from its own goroutine. Grip
// elements are slow, so the default period is 20 ms.
type GPIOOutput struct {
	line   *gpiocdev.Line
	period time.Duration
	duty   atomic.Int32

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// OpenGPIO requests the gate line driven low and starts the PWM goroutine.
func OpenGPIO(cfg GPIOConfig) (*GPIOOutput, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.PeriodMs <= 0 {
		cfg.PeriodMs = 20
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("chainoiler-accessory"))
	if err != nil {
		return nil, fmt.Errorf("accessory: request %s line %d: %w", cfg.Chip, cfg.Line, err)
	}
	o := &GPIOOutput{
		line:   line,
		period: time.Duration(cfg.PeriodMs) * time.Millisecond,
		stop:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	return o, nil
}

func (o *GPIOOutput) Name() string { return "gpio" }

// SetDuty takes effect at the start of the next period.
func (o *GPIOOutput) SetDuty(percent int) error {
	o.duty.Store(int32(max(0, min(percent, 100))))
	return nil
}

func (o *GPIOOutput) run() {
	defer o.wg.Done()
	level := -1
	set := func(v int) {
		if v != level && o.line.SetValue(v) == nil {
			level = v
		}
	}
	for {
		d := time.Duration(o.duty.Load())
		switch {
		case d <= 0:
			set(0)
			if !o.wait(o.period) {
				return
			}
		case d >= 100:
			set(1)
			if !o.wait(o.period) {
				return
			}
		default:
			on := o.period * d / 100
			set(1)
			if !o.wait(on) {
				return
			}
			set(0)
			if !o.wait(o.period - on) {
				return
			}
		}
	}
}

// wait sleeps for d and reports false once Close was called.
func (o *GPIOOutput) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-o.stop:
		return false
	case <-t.C:
		return true
	}
}

// Close stops the PWM, drives the gate low and releases the line.
func (o *GPIOOutput) Close() error {
	var err error
	o.once.Do(func() {
		close(o.stop)
		o.wg.Wait()
		o.line.SetValue(0)
		err = o.line.Close()
	})
	return err
}
