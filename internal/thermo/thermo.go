// Package thermo reads the oil temperature sensor.
package thermo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DisconnectedC is the sentinel reading of a missing sensor.
const DisconnectedC = -127.0

// Sensor is a temperature source. Read reports connected=false instead of an
// error when the device is absent, so callers keep a single fallback path.
type Sensor interface {
	Name() string
	Read() (tempC float64, connected bool)
}

// Config selects the sensor.
type Config struct {
	Type     string `yaml:"type" json:"type"` // "w1", "demo" or "none"
	DeviceID string `yaml:"device_id" json:"deviceId"`
	BusPath  string `yaml:"bus_path" json:"busPath"`
}

// W1 reads a DS18B20 through the Linux 1-Wire sysfs interface.
type W1 struct {
	busPath  string
	deviceID string
}

// NewW1 creates a 1-Wire sensor. An empty DeviceID selects the first 28-*
// device on the bus.
func NewW1(cfg Config) *W1 {
	if cfg.BusPath == "" {
		cfg.BusPath = "/sys/bus/w1/devices"
	}
	return &W1{busPath: cfg.BusPath, deviceID: cfg.DeviceID}
}

func (w *W1) Name() string { return "DS18B20 (1-Wire)" }

func (w *W1) Read() (float64, bool) {
	id := w.deviceID
	if id == "" {
		matches, _ := filepath.Glob(filepath.Join(w.busPath, "28-*"))
		if len(matches) == 0 {
			return DisconnectedC, false
		}
		id = filepath.Base(matches[0])
	}
	data, err := os.ReadFile(filepath.Join(w.busPath, id, "w1_slave"))
	if err != nil {
		return DisconnectedC, false
	}
	t, err := ParseW1Slave(string(data))
	if err != nil {
		return DisconnectedC, false
	}
	return t, true
}

// ParseW1Slave decodes the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(s string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("thermo: short w1_slave output")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("thermo: crc check failed")
	}
	idx := strings.Index(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("thermo: missing temperature field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("thermo: parse temperature: %w", err)
	}
	// 85 °C is the DS18B20 power-on value, read before a conversion finished.
	if milli == 85000 {
		return 0, fmt.Errorf("thermo: conversion not ready")
	}
	return float64(milli) / 1000, nil
}

// Demo follows a slow daily swing between 5 and 25 °C.
type Demo struct {
	mu sync.Mutex
	t  float64
}

func NewDemo() *Demo { return &Demo{} }

func (d *Demo) Name() string { return "Demo thermometer (Simulated)" }

func (d *Demo) Read() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.05
	return 15 + 10*math.Sin(d.t), true
}

// None is used when no sensor is fitted.
type None struct{}

func (None) Name() string          { return "none" }
func (None) Read() (float64, bool) { return DisconnectedC, false }

// New builds the configured sensor.
func New(cfg Config) Sensor {
	switch cfg.Type {
	case "w1":
		return NewW1(cfg)
	case "demo":
		return NewDemo()
	default:
		return None{}
	}
}
