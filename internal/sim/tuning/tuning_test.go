package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ConfigsTuningYAML(t *testing.T) {
	tune, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tune.FrameRateHz != 60 {
		t.Fatalf("frame_rate_hz=%d want 60", tune.FrameRateHz)
	}
	if tune.MoveDuration() != 1500*time.Millisecond || tune.IdleDelay() != 800*time.Millisecond {
		t.Fatalf("durations: move=%v idle=%v", tune.MoveDuration(), tune.IdleDelay())
	}
	if tune.SpinRadPerSec != [3]float64{0.15, 0.25, 0.10} {
		t.Fatalf("spin=%v", tune.SpinRadPerSec)
	}
	if got := tune.Spacing(); got < 0.7099 || got > 0.7101 {
		t.Fatalf("spacing=%v want 0.71", got)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("frame_rate_hz: 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tune, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Defaults()
	if tune.FrameRateHz != 30 {
		t.Fatalf("frame_rate_hz=%d want 30", tune.FrameRateHz)
	}
	if tune.MoveDurationMs != def.MoveDurationMs || tune.Observer != def.Observer {
		t.Fatalf("defaults lost: %+v", tune)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("move_duration_ms: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("zero move duration accepted")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}
