package imu

import (
	"math"
	"sync"
)

// Sensor is an attitude source.
type Sensor interface {
	Name() string
	Connect() error
	Close() error
	// Read returns the latest reading. May block briefly.
	Read() (*Reading, error)
}

// Reading is one orientation plus linear acceleration sample.
type Reading struct {
	RollDeg     float64    `json:"rollDeg"`
	PitchDeg    float64    `json:"pitchDeg"`
	LinearAccel [3]float64 `json:"linearAccel"` // m/s², gravity removed
}

// Demo simulates a ride through alternating bends.
type Demo struct {
	mu sync.Mutex
	t  float64
}

func NewDemo() *Demo { return &Demo{} }

func (d *Demo) Name() string   { return "Demo IMU (Simulated)" }
func (d *Demo) Connect() error { return nil }
func (d *Demo) Close() error   { return nil }

func (d *Demo) Read() (*Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1

	return &Reading{
		RollDeg:     25 * math.Sin(d.t*0.2),
		PitchDeg:    2 * math.Sin(d.t*0.05),
		LinearAccel: [3]float64{0.8 * math.Cos(d.t), 0.3, 0.1},
	}, nil
}
