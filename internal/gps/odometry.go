package gps

import "math"

const (
	// NoiseFloorKm is the smallest step accepted by the odometer.
	NoiseFloorKm = 0.005
	// GlitchKm is the largest plausible step between two fixes.
	GlitchKm = 0.5
	// MinOdometerSpeed and MaxPlausibleSpeed bound the speeds at which
	// movement counts.
	MinOdometerSpeed  = 5.0
	MaxPlausibleSpeed = 300.0

	smootherSize = 5
)

// HaversineKm calculates the great-circle distance between two lat/lon points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// SpeedSmoother is a 5-sample moving average. Unfilled slots count as zero,
// so speed ramps up over the first samples after boot.
type SpeedSmoother struct {
	buf [smootherSize]float64
	idx int
}

// Add records a raw speed and returns the smoothed value.
func (s *SpeedSmoother) Add(kmh float64) float64 {
	s.buf[s.idx] = kmh
	s.idx = (s.idx + 1) % smootherSize
	return s.Value()
}

// Value returns the current average.
func (s *SpeedSmoother) Value() float64 {
	sum := 0.0
	for _, v := range s.buf {
		sum += v
	}
	return sum / smootherSize
}

// Odometer turns consecutive fixes into distance steps.
type Odometer struct {
	lat, lon float64
	seeded   bool
}

// Seeded reports whether a reference position exists.
func (o *Odometer) Seeded() bool { return o.seeded }

// Reset forgets the reference position. The next fix seeds it again.
func (o *Odometer) Reset() { o.seeded = false }

// Step returns the distance in km from the reference position to (lat, lon)
// when it is accepted, or 0. The first fix after a Reset only seeds. Jumps
// beyond GlitchKm reseed without counting. Steps under the noise floor keep
// the reference so slow movement accumulates.
func (o *Odometer) Step(lat, lon, speedKmh float64) float64 {
	if !o.seeded {
		o.lat, o.lon, o.seeded = lat, lon, true
		return 0
	}
	dist := HaversineKm(o.lat, o.lon, lat, lon)
	if dist > GlitchKm {
		o.lat, o.lon = lat, lon
		return 0
	}
	if dist <= NoiseFloorKm || speedKmh <= MinOdometerSpeed || speedKmh >= MaxPlausibleSpeed {
		return 0
	}
	o.lat, o.lon = lat, lon
	return dist
}
