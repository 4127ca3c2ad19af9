package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/shaunagostinho/chain-oiler/internal/progress"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := NewRedis(mr.Addr(), 0, "oiler-test")
	t.Cleanup(func() { rs.Close() })
	return mr, rs
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rs := newTestRedis(t)

	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("Ping = %v", err)
	}
	if _, err := rs.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty hash = %v, want ErrNotFound", err)
	}

	want := State{
		Progress: progress.State{
			Progress:         0.3,
			SmoothedInterval: 4.2,
			CurrentSeconds:   []float64{0, 12, 0, 0, 0},
			History:          progress.NewHistory(),
		},
		OdometerKm:  812.25,
		PumpCycles:  9,
		PulsesFired: 21,
		TankLevelMl: 40.5,
		Rain:        true,
	}
	if err := rs.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := rs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.OdometerKm != want.OdometerKm || got.PumpCycles != 9 || got.PulsesFired != 21 ||
		got.TankLevelMl != 40.5 || !got.Rain || got.Version != Version {
		t.Errorf("scalars = %+v", got)
	}
	if got.Progress.Progress != 0.3 || got.Progress.SmoothedInterval != 4.2 {
		t.Errorf("progress = %+v", got.Progress)
	}

	if v := mr.HGet("oiler-test", "odometer"); v != "812.250" {
		t.Errorf("mirrored odometer = %q", v)
	}
	if v := mr.HGet("oiler-test", "pump:cycles"); v != "9" {
		t.Errorf("mirrored pump cycles = %q", v)
	}

	if err := rs.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := rs.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Clear = %v", err)
	}
}

func TestRedisStoreRejectsBadState(t *testing.T) {
	ctx := context.Background()
	mr, rs := newTestRedis(t)

	mr.HSet("oiler-test", "state", "version: 99\n")
	if _, err := rs.Load(ctx); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want version error", err)
	}
	mr.HSet("oiler-test", "state", "{not yaml")
	if _, err := rs.Load(ctx); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want parse error", err)
	}
}

func TestRedisStorePingUnreachable(t *testing.T) {
	mr, rs := newTestRedis(t)
	mr.Close()
	if err := rs.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded against a closed server")
	}
}
