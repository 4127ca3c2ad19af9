package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// RedisStore keeps State in a Redis hash. The full state is one YAML field;
// a few scalars are mirrored as plain fields for other services to read, and
// every save is announced on a channel named after the hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedis(addr string, db int, key string) *RedisStore {
	if addr == "" {
		addr = "localhost:6379"
	}
	if key == "" {
		key = "chainoiler"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		key:    key,
	}
}

func (r *RedisStore) Load(ctx context.Context) (State, error) {
	raw, err := r.client.HGet(ctx, r.key, "state").Result()
	if err == redis.Nil {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("store: redis hget %s: %w", r.key, err)
	}
	var s State
	if err := yaml.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, fmt.Errorf("store: parse redis state: %w", err)
	}
	if err := checkVersion(s); err != nil {
		return State{}, err
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s State) error {
	s.Version = Version
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.key, "state", string(data))
	pipe.HSet(ctx, r.key, "odometer", strconv.FormatFloat(s.OdometerKm, 'f', 3, 64))
	pipe.HSet(ctx, r.key, "tank:ml", strconv.FormatFloat(s.TankLevelMl, 'f', 2, 64))
	pipe.HSet(ctx, r.key, "pump:cycles", s.PumpCycles)
	pipe.HSet(ctx, r.key, "state:timestamp", time.Now().Format(time.RFC3339))
	pipe.Publish(ctx, r.key, "state")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis save: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("store: redis del %s: %w", r.key, err)
	}
	return nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis connection failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
