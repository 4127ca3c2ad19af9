package gps

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/chain-oiler/internal/logger"
)

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type NMEAProvider struct {
	portPath string
	baudRate int
	port     serial.Port
	scanner  *bufio.Scanner
	mu       sync.Mutex
	last     *Data
	log      *logger.Logger
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig, log *logger.Logger) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		last:     &Data{},
		log:      log.WithTag("gps"),
	}
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

func (n *NMEAProvider) Connect() error {
	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("gps: failed to open %s: %w", n.portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("gps: set read timeout: %w", err)
	}
	n.mu.Lock()
	n.port = port
	n.scanner = bufio.NewScanner(port)
	n.mu.Unlock()
	n.log.Infof("connected to %s at %d baud", n.portPath, n.baudRate)
	return nil
}

func (n *NMEAProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		return n.port.Close()
	}
	return nil
}

// Read reads NMEA sentences until it has both RMC and GGA, or gives up after
// 20 lines. The returned Data is a copy.
func (n *NMEAProvider) Read() (*Data, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.scanner == nil {
		snap := *n.last
		return &snap, fmt.Errorf("gps: not connected")
	}

	gotRMC := false
	gotGGA := false
	for i := 0; i < 20 && !(gotRMC && gotGGA); i++ {
		if !n.scanner.Scan() {
			if err := n.scanner.Err(); err != nil {
				n.log.Warnf("read failed: %v", err)
			}
			break
		}
		line := strings.TrimSpace(n.scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		if !validateNMEAChecksum(line) {
			n.log.Debugf("bad checksum: %q", line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "$GPRMC"), strings.HasPrefix(line, "$GNRMC"):
			wasValid := n.last.Valid
			parseRMC(line, n.last)
			gotRMC = true
			if wasValid != n.last.Valid {
				n.log.Infof("fix valid=%v", n.last.Valid)
			}
		case strings.HasPrefix(line, "$GPGGA"), strings.HasPrefix(line, "$GNGGA"):
			parseGGA(line, n.last)
			gotGGA = true
		}
	}

	snap := *n.last
	return &snap, nil
}

// parseRMC updates d from a recommended-minimum sentence.
func parseRMC(line string, d *Data) {
	// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
	parts := splitNMEA(line)
	if len(parts) < 10 {
		return
	}

	d.Timestamp = parts[1]
	d.Valid = parts[2] == "A"
	d.Date = parts[9]

	if !d.Valid {
		d.Speed = 0
		return
	}
	d.Latitude = parseNMEACoord(parts[3], parts[4])
	d.Longitude = parseNMEACoord(parts[5], parts[6])

	if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
		d.Speed = spd * 1.852 // Knots to km/h
	}
	if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
		d.Heading = hdg
	}
}

func parseGGA(line string, d *Data) {
	// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
	parts := splitNMEA(line)
	if len(parts) < 11 {
		return
	}

	if fix, err := strconv.Atoi(parts[6]); err == nil {
		d.FixQuality = fix
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		d.Satellites = sats
	}
	if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
		d.HDOP = hdop
	}
	if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
		d.Altitude = alt
	}
}

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// parseNMEACoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseNMEACoord(raw, dir string) float64 {
	if raw == "" || dir == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	minutes := val - deg*100
	result := deg + minutes/60

	if dir == "S" || dir == "W" {
		result = -result
	}
	return result
}

// validateNMEAChecksum checks the XOR checksum after *.
func validateNMEAChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 1 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx] // Between $ and *
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}
