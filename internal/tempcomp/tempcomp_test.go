package tempcomp

import (
	"math"
	"testing"
)

func TestReferenceKeepsBase(t *testing.T) {
	c := New(DefaultProfile(), 20)
	d := c.OnSample(24, true)
	if d.PulseMs != DefaultBasePulseMs || d.PauseMs != DefaultBasePauseMs {
		t.Errorf("24 °C changed durations: %+v", d)
	}
	if c.TemperatureC() != 24 {
		t.Errorf("display = %v, want 24", c.TemperatureC())
	}
}

func TestColdLengthensDurations(t *testing.T) {
	c := New(DefaultProfile(), 20)
	f := c.Factor(0)
	if f < 1.3 || f > 1.4 {
		t.Fatalf("factor at 0 °C = %v, want about 1.35", f)
	}
	d := c.OnSample(0, true)
	if want := uint32(55 * f); d.PulseMs != want {
		t.Errorf("pulse = %d, want %d", d.PulseMs, want)
	}
	if want := uint32(750 * f); d.PauseMs != want {
		t.Errorf("pause = %d, want %d", d.PauseMs, want)
	}
}

func TestOilTypeSensitivity(t *testing.T) {
	thin := New(Profile{55, 750, Thin}, 20)
	normal := New(Profile{55, 750, Normal}, 20)
	thick := New(Profile{55, 750, Thick}, 20)
	if !(thin.Factor(0) < normal.Factor(0) && normal.Factor(0) < thick.Factor(0)) {
		t.Error("thicker oil must react more strongly to cold")
	}
	if math.Abs(normal.Factor(ReferenceC)-1) > 1e-12 {
		t.Errorf("factor at reference = %v, want 1", normal.Factor(ReferenceC))
	}
}

func TestClamps(t *testing.T) {
	hot := New(Profile{BasePulseMs: 55, BasePauseMs: 120, Oil: Normal}, 20)
	d := hot.OnSample(60, true)
	if d.PulseMs != MinPulseMs {
		t.Errorf("hot pulse = %d, want %d", d.PulseMs, MinPulseMs)
	}
	if d.PauseMs != MinPauseMs {
		t.Errorf("hot pause = %d, want %d", d.PauseMs, MinPauseMs)
	}

	cold := New(Profile{BasePulseMs: 55, BasePauseMs: 750, Oil: Thick}, 20)
	if d := cold.OnSample(-40, true); d.PulseMs != MaxPulseMs {
		t.Errorf("cold pulse = %d, want %d", d.PulseMs, MaxPulseMs)
	}

	ramp := New(DefaultProfile(), 60)
	if d := ramp.OnSample(60, true); d.PulseMs != 65 {
		t.Errorf("pulse within ramp = %d, want ramp+5", d.PulseMs)
	}
}

func TestHysteresis(t *testing.T) {
	c := New(DefaultProfile(), 20)
	applied := c.OnSample(10, true)
	held := c.OnSample(12.5, true)
	if held != applied {
		t.Errorf("2.5 °C change recomputed: %+v -> %+v", applied, held)
	}
	if c.TemperatureC() != 12.5 {
		t.Errorf("display should follow the sensor, got %v", c.TemperatureC())
	}
	moved := c.OnSample(7, true)
	if moved.PulseMs <= applied.PulseMs && moved.PauseMs <= applied.PauseMs {
		t.Errorf("3 °C drop should lengthen durations: %+v -> %+v", applied, moved)
	}
}

func TestDisconnectedFallsBack(t *testing.T) {
	c := New(DefaultProfile(), 20)
	c.OnSample(-5, true)
	d := c.OnSample(-127, false)
	if d.PulseMs != DefaultBasePulseMs || d.PauseMs != DefaultBasePauseMs {
		t.Errorf("disconnected durations = %+v", d)
	}
	if c.TemperatureC() != ReferenceC || c.Connected() {
		t.Errorf("display=%v connected=%v", c.TemperatureC(), c.Connected())
	}
}

func TestParseOilType(t *testing.T) {
	for in, want := range map[string]OilType{"thin": Thin, "Normal": Normal, " THICK ": Thick, "": Normal} {
		got, err := ParseOilType(in)
		if err != nil || got != want {
			t.Errorf("ParseOilType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOilType("olive"); err == nil {
		t.Error("expected error for unknown oil")
	}
}
