package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	FrameRateHz    int        `yaml:"frame_rate_hz" json:"frame_rate_hz"`
	MoveDurationMs int        `yaml:"move_duration_ms" json:"move_duration_ms"`
	IdleDelayMs    int        `yaml:"idle_delay_ms" json:"idle_delay_ms"`
	SpinRadPerSec  [3]float64 `yaml:"spin_rad_per_sec" json:"spin_rad_per_sec"`

	CubeletSize         float64 `yaml:"cubelet_size" json:"cubelet_size"`
	CubeletGap          float64 `yaml:"cubelet_gap" json:"cubelet_gap"`
	CubeletCornerRadius float64 `yaml:"cubelet_corner_radius" json:"cubelet_corner_radius"`

	SnapshotEveryMoves    int  `yaml:"snapshot_every_moves" json:"snapshot_every_moves"`
	PauseWithoutObservers bool `yaml:"pause_without_observers" json:"pause_without_observers"`

	Observer ObserverLimits `yaml:"observer" json:"observer"`
}

type ObserverLimits struct {
	MaxObservers   int `yaml:"max_observers" json:"max_observers"`
	MaxEveryFrames int `yaml:"max_every_n_frames" json:"max_every_n_frames"`
	QueueDepth     int `yaml:"queue_depth" json:"queue_depth"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		FrameRateHz:         60,
		MoveDurationMs:      1500,
		IdleDelayMs:         800,
		SpinRadPerSec:       [3]float64{0.15, 0.25, 0.10},
		CubeletSize:         0.7,
		CubeletGap:          0.01,
		CubeletCornerRadius: 0.075,
		SnapshotEveryMoves:  50,
		Observer: ObserverLimits{
			MaxObservers:   64,
			MaxEveryFrames: 60,
			QueueDepth:     4,
		},
	}
}

// Load reads a tuning file over the defaults, so a file may set only the
// fields it cares about.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.FrameRateHz <= 0 || t.FrameRateHz > 240 {
		return fmt.Errorf("frame_rate_hz must be in 1..240, got %d", t.FrameRateHz)
	}
	if t.MoveDurationMs <= 0 {
		return fmt.Errorf("move_duration_ms must be positive, got %d", t.MoveDurationMs)
	}
	if t.IdleDelayMs <= 0 {
		return fmt.Errorf("idle_delay_ms must be positive, got %d", t.IdleDelayMs)
	}
	if t.CubeletSize <= 0 {
		return fmt.Errorf("cubelet_size must be positive, got %v", t.CubeletSize)
	}
	if t.CubeletGap < 0 {
		return fmt.Errorf("cubelet_gap must not be negative, got %v", t.CubeletGap)
	}
	if t.SnapshotEveryMoves < 0 {
		return fmt.Errorf("snapshot_every_moves must not be negative, got %d", t.SnapshotEveryMoves)
	}
	if t.Observer.MaxObservers <= 0 || t.Observer.QueueDepth <= 0 || t.Observer.MaxEveryFrames <= 0 {
		return fmt.Errorf("observer limits must be positive: %+v", t.Observer)
	}
	return nil
}

func (t Tuning) MoveDuration() time.Duration {
	return time.Duration(t.MoveDurationMs) * time.Millisecond
}

func (t Tuning) IdleDelay() time.Duration {
	return time.Duration(t.IdleDelayMs) * time.Millisecond
}

// Spacing is the distance between neighbouring cubelet centres.
func (t Tuning) Spacing() float64 { return t.CubeletSize + t.CubeletGap }
