package emergency

import (
	"math"
	"testing"

	"github.com/shaunagostinho/chain-oiler/internal/clock"
)

func TestTimeoutThenExtrapolate(t *testing.T) {
	const timeout = 3 * 60 * 1000
	e := New(timeout)

	var dist float64
	var entered int
	var activeAt clock.Millis
	for now := clock.Millis(0); now <= 4*60*1000; now += 200 {
		r := e.Update(now, false, false, true)
		if r.Entered {
			entered++
			activeAt = now
		}
		if now <= timeout && r.Active {
			t.Fatalf("active at %d ms, before timeout", now)
		}
		dist += r.DistanceKm
	}

	if entered != 1 {
		t.Fatalf("entered %d times, want 1", entered)
	}
	if activeAt <= timeout || activeAt > timeout+200 {
		t.Errorf("activated at %d ms", activeAt)
	}
	want := SimSpeedKmh * float64(4*60*1000-activeAt) / 3_600_000
	if math.Abs(dist-want) > 1e-9 {
		t.Errorf("extrapolated %v km, want %v", dist, want)
	}
	if math.Abs(dist-50.0/60) > 0.01 {
		t.Errorf("one minute at 50 km/h should be ~0.83 km, got %v", dist)
	}
}

func TestForcedIsImmediate(t *testing.T) {
	e := New(0)
	r := e.Update(0, true, true, true)
	if !r.Active || !r.Entered {
		t.Fatalf("forced should activate immediately: %+v", r)
	}
	r = e.Update(500, true, true, true)
	if math.Abs(r.DistanceKm-50*0.5/3600) > 1e-12 {
		t.Errorf("distance = %v", r.DistanceKm)
	}
}

func TestStepClamped(t *testing.T) {
	e := New(1000)
	e.Update(0, false, false, true)
	e.Update(1001, false, false, true) // activates
	r := e.Update(60_000, false, false, true)
	if math.Abs(r.DistanceKm-50.0/3600) > 1e-12 {
		t.Errorf("stalled step produced %v km, want one second worth", r.DistanceKm)
	}
}

func TestNoMotionPauses(t *testing.T) {
	e := New(0)
	e.Update(0, false, true, true)
	for now := clock.Millis(100); now < 10_000; now += 100 {
		r := e.Update(now, false, true, false)
		if !r.Paused || r.DistanceKm != 0 {
			t.Fatalf("no-motion update produced %+v", r)
		}
	}
	// Resuming after the pause must not credit the paused time.
	r := e.Update(10_000, false, true, true)
	if math.Abs(r.DistanceKm-50*0.1/3600) > 1e-12 {
		t.Errorf("resume step = %v km", r.DistanceKm)
	}
}

func TestValidFixClearsImmediately(t *testing.T) {
	e := New(1000)
	e.Update(0, false, false, true)
	e.Update(2000, false, false, true)
	if !e.Active() {
		t.Fatal("expected active")
	}
	r := e.Update(2100, true, false, true)
	if r.Active || !r.Exited {
		t.Fatalf("valid fix should exit: %+v", r)
	}
	if e.LossMs(3000) != 0 {
		t.Error("loss timer should be cleared")
	}
	// The next loss starts a fresh timer.
	if r := e.Update(2200, false, false, true); r.Active {
		t.Error("fresh loss must wait for the timeout again")
	}
}
