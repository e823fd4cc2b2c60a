package cube

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Digest hashes the lattice state: grid slot and snapped orientation of every
// cubelet in construction order. Two engines at rest with the same digest
// render identically apart from ambient spin.
func (e *Engine) Digest() string {
	h := sha256.New()
	var buf [8]byte
	for i := range e.cubelets {
		c := &e.cubelets[i]
		for _, g := range c.Grid {
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(g)))
			h.Write(buf[:])
		}
		o := snapOrient(c.Orient)
		for _, v := range o {
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// State is a serializable copy of the engine's mutable fields.
type State struct {
	Cubelets []Cubelet
	Active   *Move
	PrevAxis Axis
	Spin     mgl64.Vec3
	Frame    uint64
	MoveSeq  uint64
}

func (e *Engine) State() State {
	st := State{
		Cubelets: e.Cubelets(),
		PrevAxis: e.prevAxis,
		Spin:     e.spin,
		Frame:    e.frame,
		MoveSeq:  e.moveSeq,
	}
	if e.active != nil {
		m := *e.active
		st.Active = &m
	}
	return st
}

// Restore replaces the engine's state with st. The lattice must be intact:
// 27 cubelets with distinct grid slots in {-1,0,1}^3, each resting on its
// slot with a quarter-turn orientation. Cubelets in the layer of the move in
// flight must sit exactly Swept radians past their slot about the move axis.
func (e *Engine) Restore(st State) error {
	if !e.live {
		return fmt.Errorf("engine torn down")
	}
	if len(st.Cubelets) != CubeletCount {
		return fmt.Errorf("want %d cubelets, got %d", CubeletCount, len(st.Cubelets))
	}
	if st.Active != nil {
		m := st.Active
		if !validMove(m.Axis, m.Layer, m.Direction) {
			return fmt.Errorf("bad active move %s", m)
		}
		if !finite(m.Progress, m.Swept) || m.Progress < 0 || m.Progress > 1 {
			return fmt.Errorf("active move progress %v out of range", m.Progress)
		}
		if math.Abs(m.Swept) > SweepAngle+SnapTolerance {
			return fmt.Errorf("active move swept %v past a quarter turn", m.Swept)
		}
	}
	if st.PrevAxis > AxisZ {
		return fmt.Errorf("bad previous axis %d", st.PrevAxis)
	}

	seen := map[[3]int]string{}
	ids := map[string]struct{}{}
	for _, c := range st.Cubelets {
		if c.ID == "" {
			return fmt.Errorf("cubelet with empty id")
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("duplicate cubelet id %s", c.ID)
		}
		ids[c.ID] = struct{}{}
		for _, g := range c.Grid {
			if g < -1 || g > 1 {
				return fmt.Errorf("cubelet %s grid %v outside lattice", c.ID, c.Grid)
			}
		}
		if other, dup := seen[c.Grid]; dup {
			return fmt.Errorf("cubelets %s and %s share grid slot %v", other, c.ID, c.Grid)
		}
		seen[c.Grid] = c.ID

		if !finite(c.Pos[:]...) || !finite(c.Orient[:]...) {
			return fmt.Errorf("cubelet %s has a non-finite pose", c.ID)
		}

		rest, orient := c.Pos, c.Orient
		if m := st.Active; m != nil && inLayer(gridVec(c.Grid), m.Axis, m.Layer) {
			if !inLayer(c.Pos, m.Axis, m.Layer) {
				return fmt.Errorf("cubelet %s at %v left layer %s", c.ID, c.Pos, m)
			}
			undo := rotation(m.Axis, -m.Swept)
			rest = undo.Mul3x1(c.Pos)
			orient = undo.Mul3(c.Orient)
		}
		if offLattice(rest) || snapGrid(rest) != c.Grid {
			return fmt.Errorf("cubelet %s at %v is off its slot %v", c.ID, c.Pos, c.Grid)
		}
		if !quarterTurns(orient) {
			return fmt.Errorf("cubelet %s orientation is not a quarter-turn rotation", c.ID)
		}
	}

	e.cancelPending()
	copy(e.cubelets[:], st.Cubelets)
	e.active = nil
	if st.Active != nil {
		m := *st.Active
		e.active = &m
	}
	e.prevAxis = st.PrevAxis
	e.spin = st.Spin
	e.frame = st.Frame
	e.moveSeq = st.MoveSeq
	if e.started {
		e.scheduleNext()
	}
	return nil
}
