package cube

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Ease is the symmetric quadratic ease-in-ease-out curve.
func Ease(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	u := 1 - t
	return 1 - 2*u*u
}

func rotation(axis Axis, angle float64) mgl64.Mat3 {
	switch axis {
	case AxisX:
		return mgl64.Rotate3DX(angle)
	case AxisY:
		return mgl64.Rotate3DY(angle)
	case AxisZ:
		return mgl64.Rotate3DZ(angle)
	default:
		return mgl64.Ident3()
	}
}

func inLayer(p mgl64.Vec3, axis Axis, layer int) bool {
	if axis == AxisNone {
		return false
	}
	return math.Abs(p[axis.index()]-float64(layer)) < LayerTolerance
}

// roundZero rounds to the nearest integer and folds -0 into +0.
func roundZero(v float64) float64 {
	r := math.Round(v)
	if r == 0 {
		return 0
	}
	return r
}

func snapGrid(p mgl64.Vec3) [3]int {
	return [3]int{int(roundZero(p[0])), int(roundZero(p[1])), int(roundZero(p[2]))}
}

func gridVec(g [3]int) mgl64.Vec3 {
	return mgl64.Vec3{float64(g[0]), float64(g[1]), float64(g[2])}
}

// offLattice reports whether p deviates from its nearest lattice point by
// more than SnapTolerance on any axis.
func offLattice(p mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(p[i]-math.Round(p[i])) > SnapTolerance {
			return true
		}
	}
	return false
}

// snapOrient rounds a product of quarter turns back to its exact signed
// permutation matrix.
func snapOrient(m mgl64.Mat3) mgl64.Mat3 {
	for i := range m {
		m[i] = roundZero(m[i])
	}
	return m
}

// quarterTurns reports whether m is within SnapTolerance of a signed
// permutation matrix.
func quarterTurns(m mgl64.Mat3) bool {
	var rows, cols [3]int
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			v := m.At(row, col)
			r := math.Round(v)
			if math.Abs(v-r) > SnapTolerance || math.Abs(r) > 1 {
				return false
			}
			if r != 0 {
				rows[row]++
				cols[col]++
			}
		}
	}
	for i := 0; i < 3; i++ {
		if rows[i] != 1 || cols[i] != 1 {
			return false
		}
	}
	return true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// spinQuat converts accumulated XYZ Euler angles into a quaternion,
// applying the x rotation outermost.
func spinQuat(e mgl64.Vec3) mgl64.Quat {
	qx := mgl64.QuatRotate(e[0], AxisX.unit())
	qy := mgl64.QuatRotate(e[1], AxisY.unit())
	qz := mgl64.QuatRotate(e[2], AxisZ.unit())
	return qx.Mul(qy).Mul(qz)
}

func orientQuat(m mgl64.Mat3) mgl64.Quat {
	return mgl64.Mat4ToQuat(m.Mat4()).Normalize()
}
