// Package cube animates a 3x3x3 rotating-layer puzzle without user input:
// one randomly chosen layer turns a quarter at a time, eased in and out,
// while the whole assembly spins slowly.
//
// An Engine is not safe for concurrent use. It is driven from a single
// goroutine through a Scheduler (timers plus per-frame callbacks), or by
// calling Tick directly.
package cube

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"flipd.io/internal/sim/sched"
)

// Scheduler is the host's timer and frame-callback facility.
// *sched.Loop satisfies it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) sched.Handle
	OnFrame(fn func(dt time.Duration)) sched.Handle
}

type Engine struct {
	cfg   Config
	rng   Rand
	sched Scheduler

	cubelets [CubeletCount]Cubelet
	active   *Move
	prevAxis Axis
	spin     mgl64.Vec3
	frame    uint64
	moveSeq  uint64

	live    bool
	visible bool
	started bool
	pending sched.Handle
	frameH  sched.Handle

	onComplete func(MoveRecord)
}

// New builds an engine in its initial state. s may be nil when the caller
// drives the engine with Tick and SelectNext.
func New(cfg Config, rng Rand, s Scheduler) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		rng:     rng,
		sched:   s,
		live:    true,
		visible: true,
	}
	e.initState()
	return e
}

func (e *Engine) initState() {
	i := 0
	for _, x := range [3]int{-1, 0, 1} {
		for _, y := range [3]int{-1, 0, 1} {
			for _, z := range [3]int{-1, 0, 1} {
				e.cubelets[i] = newCubelet(x, y, z)
				i++
			}
		}
	}
	e.active = nil
	e.prevAxis = AxisNone
	e.spin = mgl64.Vec3{}
	e.moveSeq = 0
}

func (e *Engine) Config() Config { return e.cfg }

// SetRand replaces the move-selection source.
func (e *Engine) SetRand(r Rand) { e.rng = r }

// OnMoveComplete registers fn to be called after each completed move, once
// the cubelets have been snapped back onto the lattice.
func (e *Engine) OnMoveComplete(fn func(MoveRecord)) { e.onComplete = fn }

// Start subscribes the engine to frame callbacks and schedules the first
// move selection. It is a no-op without a Scheduler, after Teardown, or when
// already started.
func (e *Engine) Start() {
	if e.sched == nil || !e.live || e.started {
		return
	}
	e.started = true
	e.frameH = e.sched.OnFrame(func(dt time.Duration) {
		if !e.live {
			return
		}
		e.Tick(dt)
	})
	e.scheduleNext()
}

// Teardown cancels the pending selection and the frame subscription. Any
// callback that still reaches the engine afterwards does nothing.
func (e *Engine) Teardown() {
	if !e.live {
		return
	}
	e.live = false
	e.cancelPending()
	if e.frameH != nil {
		e.frameH.Stop()
		e.frameH = nil
	}
}

func (e *Engine) Live() bool { return e.live }

// Reset restores the construction state, abandoning any move in flight and
// any pending selection. A started engine schedules selection again from
// scratch.
func (e *Engine) Reset() {
	if !e.live {
		return
	}
	e.cancelPending()
	e.initState()
	if e.started && e.visible {
		e.scheduleNext()
	}
}

// SetVisible pauses (false) or resumes (true) the animation. While hidden,
// frames are ignored and no move is selected.
func (e *Engine) SetVisible(v bool) {
	if !e.live || e.visible == v {
		return
	}
	e.visible = v
	if !v {
		e.cancelPending()
		return
	}
	if e.started {
		e.scheduleNext()
	}
}

func (e *Engine) Visible() bool { return e.visible }

func (e *Engine) cancelPending() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

// scheduleNext arms the selection timer: a full move duration while a move
// is in flight, the idle delay otherwise.
func (e *Engine) scheduleNext() {
	if e.sched == nil || !e.live || !e.visible {
		return
	}
	e.cancelPending()
	delay := e.cfg.IdleDelay
	if e.active != nil {
		delay = e.cfg.MoveDuration
	}
	e.pending = e.sched.AfterFunc(delay, func() {
		if !e.live {
			return
		}
		e.pending = nil
		e.SelectNext()
		e.scheduleNext()
	})
}

// Candidates lists the moves allowed next: every axis, layer and direction
// except those on the previous move's axis.
func (e *Engine) Candidates() []Move {
	out := make([]Move, 0, 18)
	for _, a := range axes {
		if a == e.prevAxis {
			continue
		}
		for _, layer := range [3]int{-1, 0, 1} {
			for _, dir := range [2]int{1, -1} {
				out = append(out, Move{Axis: a, Layer: layer, Direction: dir})
			}
		}
	}
	return out
}

// SelectNext picks a random candidate and puts it in flight. It returns
// false, changing nothing, if a move is already in flight or the engine is
// hidden or torn down.
func (e *Engine) SelectNext() (Move, bool) {
	if !e.live || !e.visible || e.active != nil || e.rng == nil {
		return Move{}, false
	}
	cands := e.Candidates()
	m := cands[e.rng.Intn(len(cands))]
	if !e.begin(m.Axis, m.Layer, m.Direction) {
		return Move{}, false
	}
	return *e.active, true
}

// Begin forces a specific move into flight. It reports false if a move is
// already in flight, the engine is torn down, or the move is malformed.
func (e *Engine) Begin(axis Axis, layer, direction int) bool {
	if !e.live || e.active != nil {
		return false
	}
	return e.begin(axis, layer, direction)
}

func (e *Engine) begin(axis Axis, layer, direction int) bool {
	if !validMove(axis, layer, direction) {
		return false
	}
	e.moveSeq++
	e.active = &Move{
		Axis:       axis,
		Layer:      layer,
		Direction:  direction,
		Seq:        e.moveSeq,
		StartFrame: e.frame,
	}
	e.prevAxis = axis
	return true
}

// Tick advances the animation by dt.
func (e *Engine) Tick(dt time.Duration) {
	if !e.live || !e.visible || dt < 0 {
		return
	}
	sec := dt.Seconds()
	e.frame++
	e.spin = e.spin.Add(e.cfg.Spin.Mul(sec))

	m := e.active
	if m == nil {
		return
	}
	prev := m.Progress
	next := math.Min(prev+sec/e.cfg.MoveDuration.Seconds(), 1)
	m.Progress = next

	step := (Ease(next) - Ease(prev)) * SweepAngle * float64(m.Direction)
	m.Swept += step
	if step != 0 {
		rot := rotation(m.Axis, step)
		for i := range e.cubelets {
			c := &e.cubelets[i]
			if !inLayer(c.Pos, m.Axis, m.Layer) {
				continue
			}
			c.Pos = rot.Mul3x1(c.Pos)
			c.Orient = rot.Mul3(c.Orient)
		}
	}

	if next >= 1 {
		e.complete()
	}
}

func (e *Engine) complete() {
	m := e.active
	e.snap()
	e.active = nil

	if e.onComplete != nil {
		e.onComplete(MoveRecord{
			Seq:        m.Seq,
			Axis:       m.Axis,
			Layer:      m.Layer,
			Direction:  m.Direction,
			StartFrame: m.StartFrame,
			EndFrame:   e.frame,
			Swept:      m.Swept,
			Digest:     e.Digest(),
		})
	}
	// The callback may have reset or torn down the engine.
	if e.live && e.started && e.active == nil {
		e.scheduleNext()
	}
}

// snap puts every cubelet back on the lattice.
func (e *Engine) snap() {
	for i := range e.cubelets {
		c := &e.cubelets[i]
		c.Grid = snapGrid(c.Pos)
		c.Pos = gridVec(c.Grid)
		c.Orient = snapOrient(c.Orient)
	}
}

// Active returns a copy of the move in flight.
func (e *Engine) Active() (Move, bool) {
	if e.active == nil {
		return Move{}, false
	}
	return *e.active, true
}

func (e *Engine) PreviousAxis() Axis { return e.prevAxis }

func (e *Engine) Frame() uint64 { return e.frame }

// MoveSeq is the sequence number of the most recently started move.
func (e *Engine) MoveSeq() uint64 { return e.moveSeq }

// Spin returns the accumulated ambient rotation as XYZ Euler angles.
func (e *Engine) Spin() mgl64.Vec3 { return e.spin }

// Cubelets returns a copy of all cubelets in construction order.
func (e *Engine) Cubelets() []Cubelet {
	out := make([]Cubelet, CubeletCount)
	copy(out, e.cubelets[:])
	return out
}

// Poses computes the current pose of every cubelet in construction order.
func (e *Engine) Poses() []Pose {
	return e.AppendPoses(make([]Pose, 0, CubeletCount))
}

// AppendPoses appends the current poses to dst.
func (e *Engine) AppendPoses(dst []Pose) []Pose {
	q := spinQuat(e.spin)
	for i := range e.cubelets {
		c := &e.cubelets[i]
		local := orientQuat(c.Orient)
		dst = append(dst, Pose{
			ID:               c.ID,
			Position:         q.Rotate(c.Pos.Mul(e.cfg.Spacing)),
			Orientation:      q.Mul(local),
			LocalPosition:    c.Pos,
			LocalOrientation: local,
		})
	}
	return dst
}
