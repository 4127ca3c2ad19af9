package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaunagostinho/chain-oiler/internal/progress"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFile(filepath.Join(t.TempDir(), "sub", "state.yaml"))

	if _, err := fs.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty store = %v, want ErrNotFound", err)
	}

	hist := progress.NewHistory()
	hist.Push(progress.Event{RangeIndex: 2, Seconds: []float64{1, 2, 3, 4, 5}})
	want := State{
		Progress: progress.State{
			Progress:         0.42,
			SmoothedInterval: 5.5,
			CurrentSeconds:   []float64{10, 0, 0, 0, 0},
			History:          hist,
		},
		OdometerKm:  1234.5,
		PumpCycles:  17,
		PulsesFired: 40,
		TankLevelMl: 61.25,
		Rain:        true,
	}
	if err := fs.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.OdometerKm != want.OdometerKm || got.PumpCycles != 17 || got.PulsesFired != 40 ||
		got.TankLevelMl != 61.25 || !got.Rain || got.Version != Version {
		t.Errorf("scalars = %+v", got)
	}
	if got.Progress.Progress != 0.42 || got.Progress.SmoothedInterval != 5.5 {
		t.Errorf("progress = %+v", got.Progress)
	}
	if got.Progress.History.Count != 1 || got.Progress.History.Entries[0].RangeIndex != 2 {
		t.Errorf("history = %+v", got.Progress.History.Entries[0])
	}
	if _, err := os.Stat(fs.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	if err := fs.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Clear = %v", err)
	}
	if err := fs.Clear(ctx); err != nil {
		t.Errorf("second Clear = %v", err)
	}
}

func TestFileStoreRejectsOtherVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("version: 99\nodometer_km: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Load(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Load = %v, want version error", err)
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New(Config{Type: "sqlite"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
