package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/button"
	"github.com/shaunagostinho/chain-oiler/internal/faultlog"
	"github.com/shaunagostinho/chain-oiler/internal/imu"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
	"github.com/shaunagostinho/chain-oiler/internal/oiler"
	"github.com/shaunagostinho/chain-oiler/internal/pump"
	"github.com/shaunagostinho/chain-oiler/internal/store"
	"github.com/shaunagostinho/chain-oiler/internal/thermo"
)

// DefaultConfigPath is used by Save when the config was not loaded from a
// file.
const DefaultConfigPath = "/etc/chainoiler/config.yaml"

// Config holds the service configuration. Oiler carries the user tunables;
// everything else selects and wires hardware.
type Config struct {
	mu sync.RWMutex

	// Collaborators
	GPS       GPSConfig       `yaml:"gps" json:"gps"`
	Pump      PumpConfig      `yaml:"pump" json:"pump"`
	Accessory AccessoryConfig `yaml:"accessory_output" json:"accessoryOutput"`
	Button    ButtonConfig    `yaml:"button" json:"button"`
	IMU       IMUConfig       `yaml:"imu" json:"imu"`
	Temp      thermo.Config   `yaml:"temp_sensor" json:"tempSensor"`

	// Persistence
	Store    store.Config    `yaml:"store" json:"store"`
	FaultLog faultlog.Config `yaml:"fault_log" json:"faultLog"`

	// Oiling behaviour
	Oiler oiler.Settings `yaml:"oiler" json:"oiler"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GPSConfig struct {
	Type     string `yaml:"type" json:"type"`          // "nmea", "demo" or "disabled"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	// Demo only: drop the fix for LossFor of every LossEvery samples.
	LossEvery int `yaml:"loss_every" json:"lossEvery"`
	LossFor   int `yaml:"loss_for" json:"lossFor"`
}

type PumpConfig struct {
	Type string          `yaml:"type" json:"type"` // "gpio" or "sim"
	GPIO pump.GPIOConfig `yaml:"gpio" json:"gpio"`
}

type AccessoryConfig struct {
	Type string               `yaml:"type" json:"type"` // "gpio" or "sim"
	GPIO accessory.GPIOConfig `yaml:"gpio" json:"gpio"`
}

type ButtonConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	GPIO    button.Config `yaml:"gpio" json:"gpio"`
}

type IMUConfig struct {
	Type        string          `yaml:"type" json:"type"` // "demo" or "none"
	PollHz      int             `yaml:"poll_hz" json:"pollHz"`
	Calibration imu.Calibration `yaml:"calibration" json:"calibration"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	// BroadcastMs is the websocket status period.
	BroadcastMs int `yaml:"broadcast_ms" json:"broadcastMs"`
}

// DefaultConfig returns a config that runs without any hardware attached.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Type:     "demo",
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
		},
		Pump: PumpConfig{
			Type: "sim",
			GPIO: pump.GPIOConfig{Chip: "gpiochip0", Line: 17, PWMPeriodUs: 1000},
		},
		Accessory: AccessoryConfig{
			Type: "sim",
			GPIO: accessory.GPIOConfig{Chip: "gpiochip0", Line: 22, PeriodMs: 20},
		},
		Button: ButtonConfig{
			Enabled: false,
			GPIO:    button.Config{Chip: "gpiochip0", Line: 27, DebounceMs: 50},
		},
		IMU: IMUConfig{
			Type:        "none",
			PollHz:      20,
			Calibration: imu.DefaultCalibration(),
		},
		Temp: thermo.Config{Type: "none"},
		Store: store.Config{
			Type: "file",
			Path: "/var/lib/chainoiler/state.yaml",
		},
		FaultLog: faultlog.Config{
			Enabled: true,
			Path:    "/var/log/chainoiler",
			MaxRows: 10_000,
		},
		Oiler:   oiler.DefaultSettings(),
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			ListenAddr:  ":8080",
			BroadcastMs: 250,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found. The oiler
// settings are clamped before returning.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	cfg.Validate(nil)
	return cfg
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath()
}

// filePath is Path for callers that already hold mu.
func (c *Config) filePath() string {
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GPS_TYPE, GPS_PORT, GPS_BAUD, PUMP_TYPE, PUMP_CHIP, PUMP_LINE,
// ACCESSORY_TYPE, ACCESSORY_LINE, BUTTON_ENABLED, BUTTON_LINE, IMU_TYPE, TEMP_TYPE, STORE_TYPE, STORE_PATH,
// REDIS_ADDR, REDIS_DB, FAULT_LOG_ENABLED, FAULT_LOG_PATH, LISTEN_ADDR,
// LOG_LEVEL
func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true" || v == "yes"
		}
	}

	str("GPS_TYPE", &c.GPS.Type)
	str("GPS_PORT", &c.GPS.PortPath)
	num("GPS_BAUD", &c.GPS.BaudRate)

	str("PUMP_TYPE", &c.Pump.Type)
	str("PUMP_CHIP", &c.Pump.GPIO.Chip)
	num("PUMP_LINE", &c.Pump.GPIO.Line)

	str("ACCESSORY_TYPE", &c.Accessory.Type)
	num("ACCESSORY_LINE", &c.Accessory.GPIO.Line)

	flag("BUTTON_ENABLED", &c.Button.Enabled)
	num("BUTTON_LINE", &c.Button.GPIO.Line)

	str("IMU_TYPE", &c.IMU.Type)
	str("TEMP_TYPE", &c.Temp.Type)

	str("STORE_TYPE", &c.Store.Type)
	str("STORE_PATH", &c.Store.Path)
	str("REDIS_ADDR", &c.Store.RedisAddr)
	num("REDIS_DB", &c.Store.RedisDB)

	flag("FAULT_LOG_ENABLED", &c.FaultLog.Enabled)
	str("FAULT_LOG_PATH", &c.FaultLog.Path)

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("LOG_LEVEL", &c.Logging.Level)
}

// Validate clamps the oiler settings and fixes service values that cannot
// work. It reports whether anything changed.
func (c *Config) Validate(l *logger.Logger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == nil {
		l = logger.New(log.Default(), logger.LevelInfo).WithTag("config")
	}
	changed := c.Oiler.Validate(l)
	if c.Server.BroadcastMs < 50 {
		c.Server.BroadcastMs = 250
		changed = true
	}
	if c.IMU.PollHz <= 0 {
		c.IMU.PollHz = 20
		changed = true
	}
	return changed
}

// Settings returns a copy of the oiler settings.
func (c *Config) Settings() oiler.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Oiler
	s.Ranges = append(s.Ranges[:0:0], s.Ranges...)
	return s
}

// SetCalibration stores a new IMU calibration.
func (c *Config) SetCalibration(cal imu.Calibration) {
	c.mu.Lock()
	c.IMU.Calibration = cal
	c.mu.Unlock()
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.filePath()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
