// Package gps provides position and speed sources for the oiler.
package gps

// Provider is the interface for GPS data sources.
type Provider interface {
	Name() string
	Connect() error
	Close() error
	// Read returns the latest GPS fix. May block briefly.
	Read() (*Data, error)
}

// Data holds a single GPS fix.
type Data struct {
	Valid      bool    `json:"valid"`      // Fix is valid
	Latitude   float64 `json:"latitude"`   // Decimal degrees
	Longitude  float64 `json:"longitude"`  // Decimal degrees
	Speed      float64 `json:"speed"`      // km/h
	Heading    float64 `json:"heading"`    // Degrees true
	Altitude   float64 `json:"altitude"`   // Meters
	Satellites int     `json:"satellites"` // Sats in use
	FixQuality int     `json:"fixQuality"` // 0=none, 1=GPS, 2=DGPS
	HDOP       float64 `json:"hdop"`       // Horizontal dilution
	Timestamp  string  `json:"timestamp"`  // UTC hhmmss.ss
	Date       string  `json:"date"`       // UTC ddmmyy
}

// UTC returns hour, day, month and full year from the RMC time and date
// fields. ok is false until both have been received.
func (d *Data) UTC() (hour, day, month, year int, ok bool) {
	if len(d.Timestamp) < 2 || len(d.Date) != 6 {
		return 0, 0, 0, 0, false
	}
	hour = atoi2(d.Timestamp[0:2])
	day = atoi2(d.Date[0:2])
	month = atoi2(d.Date[2:4])
	year = 2000 + atoi2(d.Date[4:6])
	if hour < 0 || day < 1 || month < 1 || month > 12 || year < 2000 {
		return 0, 0, 0, 0, false
	}
	return hour, day, month, year, true
}

func atoi2(s string) int {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return -1
	}
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
