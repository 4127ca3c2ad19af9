package gps

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DemoGPS simulates a ride around a loop. Each Read advances the simulation
// by 100 ms. When LossEvery is set, the fix drops for LossFor reads out of
// every LossEvery, which exercises the emergency path.
type DemoGPS struct {
	mu    sync.Mutex
	t     float64
	step  int
	lat   float64
	lon   float64
	Start time.Time

	LossEvery int
	LossFor   int
}

func NewDemoGPS() *DemoGPS {
	return &DemoGPS{lat: 48.1372, lon: 11.5756, Start: time.Now().UTC()}
}

func (d *DemoGPS) Name() string   { return "Demo GPS (Simulated)" }
func (d *DemoGPS) Connect() error { return nil }
func (d *DemoGPS) Close() error   { return nil }

func (d *DemoGPS) Read() (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1
	d.step++

	speed := 60 + 35*math.Sin(d.t*0.02) + rand.Float64()*3
	heading := math.Mod(d.t*3, 360)

	// Advance along the heading by the distance covered in 100 ms.
	distKm := speed / 3600 * 0.1
	rad := heading * math.Pi / 180
	d.lat += distKm / 111.32 * math.Cos(rad)
	d.lon += distKm / (111.32 * math.Cos(d.lat*math.Pi/180)) * math.Sin(rad)

	now := d.Start.Add(time.Duration(d.t * float64(time.Second)))
	data := &Data{
		Valid:      true,
		Latitude:   d.lat,
		Longitude:  d.lon,
		Speed:      speed,
		Heading:    heading,
		Altitude:   520,
		Satellites: 11,
		FixQuality: 1,
		HDOP:       0.9,
		Timestamp:  now.Format("150405.00"),
		Date:       now.Format("020106"),
	}
	if d.LossEvery > 0 && d.step%d.LossEvery < d.LossFor {
		data.Valid = false
		data.Speed = 0
		data.Satellites = 0
		data.FixQuality = 0
	}
	return data, nil
}
