// Package store persists the oiler state across power cycles.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaunagostinho/chain-oiler/internal/progress"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("store: no saved state")

// Version is bumped when State changes incompatibly.
const Version = 1

// State is everything the oiler keeps between boots. Forced emergency is
// never part of it.
type State struct {
	Version      int            `yaml:"version" json:"version"`
	Progress     progress.State `yaml:"progress" json:"progress"`
	OdometerKm   float64        `yaml:"odometer_km" json:"odometerKm"`
	PumpCycles   int            `yaml:"pump_cycles" json:"pumpCycles"`
	PulsesFired  int            `yaml:"pulses_fired" json:"pulsesFired"`
	TankLevelMl  float64        `yaml:"tank_level_ml" json:"tankLevelMl"`
	Rain         bool           `yaml:"rain" json:"rain"`
	AccessoryOff bool           `yaml:"accessory_off" json:"accessoryOff"` // rider switched the accessory output off
}

// Store loads and saves State.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	// Clear removes the saved state (factory reset).
	Clear(ctx context.Context) error
	Close() error
}

// Config selects the backend.
type Config struct {
	Type      string `yaml:"type" json:"type"` // "file" or "redis"
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redisAddr"`
	RedisDB   int    `yaml:"redis_db" json:"redisDb"`
	RedisKey  string `yaml:"redis_key" json:"redisKey"`
}

// New opens the configured backend.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "file":
		return NewFile(cfg.Path), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("store: unknown type %q", cfg.Type)
	}
}

func checkVersion(s State) error {
	if s.Version != Version {
		return fmt.Errorf("store: state version %d, want %d", s.Version, Version)
	}
	return nil
}
