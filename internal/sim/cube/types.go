package cube

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// SweepAngle is the angle every layer move turns through.
const SweepAngle = math.Pi / 2

// LayerTolerance bounds how far a coordinate may sit from a layer value and
// still count as part of that layer.
const LayerTolerance = 0.1

// SnapTolerance is the largest deviation from the lattice tolerated at rest.
const SnapTolerance = 1e-3

// CubeletCount is the number of cubelets in a 3x3x3 assembly.
const CubeletCount = 27

type Axis uint8

const (
	AxisNone Axis = iota
	AxisX
	AxisY
	AxisZ
)

var axes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return ""
	}
}

func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z":
		return AxisZ, nil
	case "":
		return AxisNone, nil
	}
	return AxisNone, fmt.Errorf("unknown axis %q", s)
}

func (a Axis) index() int { return int(a) - 1 }

func (a Axis) unit() mgl64.Vec3 {
	var v mgl64.Vec3
	if a != AxisNone {
		v[a.index()] = 1
	}
	return v
}

// Move is a single quarter turn of one layer.
type Move struct {
	Axis      Axis
	Layer     int
	Direction int

	// Progress is the linear fraction of the sweep completed, in [0,1].
	Progress float64
	// Swept is the signed angle applied so far, in radians.
	Swept float64
	// Seq numbers moves from 1 since the engine was built or reset.
	Seq        uint64
	StartFrame uint64
}

func (m Move) String() string {
	return fmt.Sprintf("%s%+d/%+d", m.Axis, m.Layer, m.Direction)
}

func validMove(axis Axis, layer, direction int) bool {
	if axis < AxisX || axis > AxisZ {
		return false
	}
	if layer < -1 || layer > 1 {
		return false
	}
	return direction == 1 || direction == -1
}

// Cubelet is one unit cube of the assembly.
type Cubelet struct {
	ID     string
	Origin [3]int
	Grid   [3]int
	Pos    mgl64.Vec3
	Orient mgl64.Mat3
}

func newCubelet(x, y, z int) Cubelet {
	return Cubelet{
		ID:     fmt.Sprintf("cube-%d-%d-%d", x, y, z),
		Origin: [3]int{x, y, z},
		Grid:   [3]int{x, y, z},
		Pos:    mgl64.Vec3{float64(x), float64(y), float64(z)},
		Orient: mgl64.Ident3(),
	}
}

// Pose is the per-frame placement of one cubelet. Position and Orientation
// include the ambient spin of the whole assembly and the lattice spacing;
// the Local variants do not.
type Pose struct {
	ID               string
	Position         mgl64.Vec3
	Orientation      mgl64.Quat
	LocalPosition    mgl64.Vec3
	LocalOrientation mgl64.Quat
}

// MoveRecord describes a completed move.
type MoveRecord struct {
	Seq        uint64
	Axis       Axis
	Layer      int
	Direction  int
	StartFrame uint64
	EndFrame   uint64
	Swept      float64
	Digest     string
}

type Config struct {
	MoveDuration time.Duration
	IdleDelay    time.Duration
	// Spin holds the ambient angular velocities about x, y and z in rad/s.
	Spin mgl64.Vec3
	// Spacing is the distance between neighbouring cubelet centres.
	Spacing float64
}

func DefaultConfig() Config {
	return Config{
		MoveDuration: 1500 * time.Millisecond,
		IdleDelay:    800 * time.Millisecond,
		Spin:         mgl64.Vec3{0.15, 0.25, 0.10},
		Spacing:      0.71,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MoveDuration <= 0 {
		c.MoveDuration = d.MoveDuration
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = d.IdleDelay
	}
	if c.Spacing <= 0 {
		c.Spacing = d.Spacing
	}
}

// Rand is the random source used for move selection. *math/rand.Rand
// satisfies it.
type Rand interface {
	Intn(n int) int
}
