package cube

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"flipd.io/internal/sim/sched"
)

type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) Intn(n int) int {
	v := r.vals[r.i%len(r.vals)] % n
	r.i++
	return v
}

func assertLattice(t *testing.T, e *Engine) {
	t.Helper()
	seen := map[[3]int]bool{}
	for _, c := range e.Cubelets() {
		if c.Pos != gridVec(c.Grid) {
			t.Fatalf("cubelet %s pos=%v grid=%v", c.ID, c.Pos, c.Grid)
		}
		for _, g := range c.Grid {
			if g < -1 || g > 1 {
				t.Fatalf("cubelet %s grid %v outside lattice", c.ID, c.Grid)
			}
		}
		if seen[c.Grid] {
			t.Fatalf("duplicate grid slot %v", c.Grid)
		}
		seen[c.Grid] = true
	}
	if len(seen) != CubeletCount {
		t.Fatalf("distinct slots=%d want %d", len(seen), CubeletCount)
	}
}

func TestNew_InitialLattice(t *testing.T) {
	e := New(DefaultConfig(), rand.New(rand.NewSource(1)), nil)
	assertLattice(t, e)
	for _, c := range e.Cubelets() {
		if c.Orient != mgl64.Ident3() {
			t.Fatalf("cubelet %s orientation not identity", c.ID)
		}
		if c.Grid != c.Origin {
			t.Fatalf("cubelet %s grid=%v origin=%v", c.ID, c.Grid, c.Origin)
		}
	}
	if _, ok := e.Active(); ok {
		t.Fatalf("fresh engine has a move in flight")
	}
	if e.PreviousAxis() != AxisNone {
		t.Fatalf("fresh engine remembers axis %s", e.PreviousAxis())
	}
	if got := len(e.Candidates()); got != 18 {
		t.Fatalf("candidates=%d want 18", got)
	}
}

func TestEase_Endpoints(t *testing.T) {
	if Ease(0) != 0 || Ease(1) != 1 || Ease(0.5) != 0.5 {
		t.Fatalf("ease endpoints: %v %v %v", Ease(0), Ease(0.5), Ease(1))
	}
	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := Ease(float64(i) / 100)
		if v < prev {
			t.Fatalf("ease not monotonic at %d", i)
		}
		prev = v
	}
}

func TestTick_YLayerQuarterTurnInOneFrame(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, rand.New(rand.NewSource(1)), nil)
	e.Reset()
	assertLattice(t, e)
	before := e.Cubelets()

	if !e.Begin(AxisY, 0, 1) {
		t.Fatalf("Begin rejected")
	}
	var rec MoveRecord
	e.OnMoveComplete(func(r MoveRecord) { rec = r })
	e.Tick(cfg.MoveDuration)

	if _, ok := e.Active(); ok {
		t.Fatalf("move still in flight after a full-duration tick")
	}
	if rec.Seq != 1 || rec.Axis != AxisY || rec.Layer != 0 || rec.Direction != 1 {
		t.Fatalf("record=%+v", rec)
	}
	assertLattice(t, e)

	quarter := snapOrient(mgl64.Rotate3DY(math.Pi / 2))
	after := e.Cubelets()
	for i, b := range before {
		a := after[i]
		if b.Grid[1] != 0 {
			if a != b {
				t.Fatalf("cubelet %s outside layer changed: %+v -> %+v", b.ID, b, a)
			}
			continue
		}
		want := [3]int{b.Grid[2], b.Grid[1], -b.Grid[0]}
		if a.Grid != want {
			t.Fatalf("cubelet %s grid=%v want %v", b.ID, a.Grid, want)
		}
		if a.Orient != quarter {
			t.Fatalf("cubelet %s orientation=%v want %v", b.ID, a.Orient, quarter)
		}
	}
}

func TestTick_OnlyLayerCubeletsMove(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	before := e.Cubelets()
	if !e.Begin(AxisX, 1, -1) {
		t.Fatalf("Begin rejected")
	}
	for {
		e.Tick(16 * time.Millisecond)
		for i, c := range e.Cubelets() {
			b := before[i]
			if b.Grid[0] == 1 {
				if math.Abs(c.Pos[0]-1) > 1e-9 {
					t.Fatalf("layer cubelet %s left its layer: %v", c.ID, c.Pos)
				}
				continue
			}
			if c != b {
				t.Fatalf("cubelet %s outside layer changed", c.ID)
			}
		}
		if _, ok := e.Active(); !ok {
			break
		}
	}
	moved := 0
	for i, c := range e.Cubelets() {
		if c != before[i] {
			moved++
		}
	}
	// The centre of the x=1 face only turns in place.
	if moved != 9 {
		t.Fatalf("moved=%d want 9", moved)
	}
}

func TestTick_AngleConservation(t *testing.T) {
	frames := [][]time.Duration{
		{1500 * time.Millisecond},
		{16 * time.Millisecond},
		{7 * time.Millisecond, 33 * time.Millisecond, 3 * time.Millisecond},
		{400 * time.Millisecond, 1 * time.Millisecond},
	}
	for _, pattern := range frames {
		for _, dir := range []int{1, -1} {
			e := New(DefaultConfig(), nil, nil)
			var rec MoveRecord
			done := false
			e.OnMoveComplete(func(r MoveRecord) { rec, done = r, true })
			if !e.Begin(AxisZ, -1, dir) {
				t.Fatalf("Begin rejected")
			}
			for i := 0; !done; i++ {
				if i > 10000 {
					t.Fatalf("move never completed with pattern %v", pattern)
				}
				e.Tick(pattern[i%len(pattern)])
			}
			want := SweepAngle * float64(dir)
			if math.Abs(rec.Swept-want) > 1e-12 {
				t.Fatalf("pattern %v dir %d: swept=%v want %v", pattern, dir, rec.Swept, want)
			}
			assertLattice(t, e)
		}
	}
}

func TestBegin_SingleMoveInFlight(t *testing.T) {
	e := New(DefaultConfig(), &seqRand{vals: []int{3}}, nil)
	if !e.Begin(AxisX, 0, 1) {
		t.Fatalf("first Begin rejected")
	}
	if e.Begin(AxisY, 0, 1) {
		t.Fatalf("second Begin accepted while a move is in flight")
	}
	if _, ok := e.SelectNext(); ok {
		t.Fatalf("SelectNext accepted while a move is in flight")
	}
	m, _ := e.Active()
	if m.Axis != AxisX || m.Layer != 0 || m.Direction != 1 {
		t.Fatalf("active move replaced: %s", m)
	}
	if e.MoveSeq() != 1 {
		t.Fatalf("move seq=%d want 1", e.MoveSeq())
	}
}

func TestBegin_RejectsMalformedMoves(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	bad := []struct {
		axis       Axis
		layer, dir int
	}{
		{AxisNone, 0, 1},
		{AxisX, 2, 1},
		{AxisY, -2, 1},
		{AxisZ, 0, 0},
		{AxisZ, 0, 2},
	}
	for _, b := range bad {
		if e.Begin(b.axis, b.layer, b.dir) {
			t.Fatalf("Begin(%v,%d,%d) accepted", b.axis, b.layer, b.dir)
		}
	}
}

func TestSelectNext_DeterministicSequence(t *testing.T) {
	e := New(DefaultConfig(), &seqRand{vals: []int{0, 0, 7, 17}}, nil)
	want := []Move{
		{Axis: AxisX, Layer: -1, Direction: 1},
		{Axis: AxisY, Layer: -1, Direction: 1},
		// prev=y, candidates are x(6) then z(6); index 7 is z,-1,-1.
		{Axis: AxisZ, Layer: -1, Direction: -1},
		// prev=z, 17%12=5 is x,1,-1.
		{Axis: AxisX, Layer: 1, Direction: -1},
	}
	for i, w := range want {
		m, ok := e.SelectNext()
		if !ok {
			t.Fatalf("move %d: SelectNext rejected", i)
		}
		if m.Axis != w.Axis || m.Layer != w.Layer || m.Direction != w.Direction {
			t.Fatalf("move %d = %s want %s", i, m, w)
		}
		e.Tick(e.Config().MoveDuration)
	}
}

func TestRun_AxisNeverRepeats(t *testing.T) {
	loop := sched.NewLoop()
	e := New(DefaultConfig(), rand.New(rand.NewSource(42)), loop)
	var recs []MoveRecord
	e.OnMoveComplete(func(r MoveRecord) {
		recs = append(recs, r)
		assertLattice(t, e)
	})
	e.Start()
	for i := 0; i < 60*120; i++ {
		loop.Step(time.Second / 60)
	}
	if len(recs) < 20 {
		t.Fatalf("only %d moves completed in two minutes", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Axis == recs[i-1].Axis {
			t.Fatalf("moves %d and %d share axis %s", i-1, i, recs[i].Axis)
		}
		if recs[i].Seq != recs[i-1].Seq+1 {
			t.Fatalf("seq gap: %d -> %d", recs[i-1].Seq, recs[i].Seq)
		}
	}
}

func TestRun_SelectionTimeline(t *testing.T) {
	cfg := Config{MoveDuration: time.Second, IdleDelay: 500 * time.Millisecond, Spacing: 1}
	loop := sched.NewLoop()
	e := New(cfg, &seqRand{vals: []int{0}}, loop)
	var completedAt time.Duration
	e.OnMoveComplete(func(MoveRecord) { completedAt = loop.Now() })
	e.Start()

	step := 125 * time.Millisecond
	active := func() bool { _, ok := e.Active(); return ok }
	advanceTo := func(at time.Duration) {
		for loop.Now() < at {
			loop.Step(step)
		}
	}

	advanceTo(375 * time.Millisecond)
	if active() {
		t.Fatalf("move selected before the idle delay")
	}
	advanceTo(500 * time.Millisecond)
	if !active() {
		t.Fatalf("no move selected after the idle delay")
	}
	advanceTo(1375 * time.Millisecond)
	if active() || completedAt != 1375*time.Millisecond {
		t.Fatalf("move should complete at 1375ms: active=%v completedAt=%v", active(), completedAt)
	}
	advanceTo(1750 * time.Millisecond)
	if active() {
		t.Fatalf("next move selected before idle delay after completion")
	}
	advanceTo(1875 * time.Millisecond)
	if !active() {
		t.Fatalf("next move not selected idle delay after completion")
	}
	if loop.Pending() != 1 {
		t.Fatalf("pending timers=%d want 1", loop.Pending())
	}
}

func TestReset_Idempotent(t *testing.T) {
	fresh := New(DefaultConfig(), nil, nil).State()

	e := New(DefaultConfig(), &seqRand{vals: []int{4}}, nil)
	e.SelectNext()
	e.Tick(e.Config().MoveDuration)
	e.SelectNext()
	e.Tick(300 * time.Millisecond)
	e.Reset()
	e.Reset()

	got := e.State()
	if got.Active != nil {
		t.Fatalf("move in flight after reset")
	}
	if got.PrevAxis != AxisNone || got.MoveSeq != 0 || got.Spin != (mgl64.Vec3{}) {
		t.Fatalf("reset left prev=%s seq=%d spin=%v", got.PrevAxis, got.MoveSeq, got.Spin)
	}
	for i := range fresh.Cubelets {
		if got.Cubelets[i] != fresh.Cubelets[i] {
			t.Fatalf("cubelet %d differs after reset", i)
		}
	}
	if e.Digest() != New(DefaultConfig(), nil, nil).Digest() {
		t.Fatalf("digest differs after reset")
	}
}

func TestReset_MidMoveReschedules(t *testing.T) {
	cfg := Config{MoveDuration: time.Second, IdleDelay: 500 * time.Millisecond, Spacing: 1}
	loop := sched.NewLoop()
	e := New(cfg, &seqRand{vals: []int{2}}, loop)
	e.Start()
	for loop.Now() < 750*time.Millisecond {
		loop.Step(125 * time.Millisecond)
	}
	if _, ok := e.Active(); !ok {
		t.Fatalf("expected a move in flight")
	}
	e.Reset()
	if _, ok := e.Active(); ok {
		t.Fatalf("move survived reset")
	}
	if loop.Pending() != 1 {
		t.Fatalf("pending=%d want 1 fresh selection timer", loop.Pending())
	}
	loop.Step(375 * time.Millisecond)
	if _, ok := e.Active(); ok {
		t.Fatalf("selection fired before idle delay after reset")
	}
	loop.Step(125 * time.Millisecond)
	if _, ok := e.Active(); !ok {
		t.Fatalf("selection did not fire idle delay after reset")
	}
}

func TestTeardown_CancelsScheduledWork(t *testing.T) {
	loop := sched.NewLoop()
	e := New(DefaultConfig(), rand.New(rand.NewSource(7)), loop)
	e.Start()
	for loop.Now() < time.Second {
		loop.Step(time.Second / 60)
	}
	if _, ok := e.Active(); !ok {
		t.Fatalf("expected a move in flight")
	}
	e.Teardown()
	if loop.Pending() != 0 || loop.Subscribers() != 0 {
		t.Fatalf("teardown left pending=%d subscribers=%d", loop.Pending(), loop.Subscribers())
	}
	digest := e.Digest()
	cubes := e.Cubelets()
	loop.Step(10 * time.Second)
	if e.Digest() != digest {
		t.Fatalf("state changed after teardown")
	}
	for i, c := range e.Cubelets() {
		if c != cubes[i] {
			t.Fatalf("cubelet %s changed after teardown", c.ID)
		}
	}
	e.Reset()
	if _, ok := e.Active(); !ok {
		t.Fatalf("reset after teardown should be a no-op")
	}
}

// leakySched keeps callbacks around even after Stop, standing in for a host
// whose cancellation races with an already queued callback.
type leakySched struct {
	timers []func()
	frames []func(time.Duration)
}

type noopHandle struct{}

func (noopHandle) Stop() bool { return true }

func (s *leakySched) AfterFunc(_ time.Duration, fn func()) sched.Handle {
	s.timers = append(s.timers, fn)
	return noopHandle{}
}

func (s *leakySched) OnFrame(fn func(time.Duration)) sched.Handle {
	s.frames = append(s.frames, fn)
	return noopHandle{}
}

func TestTeardown_QueuedCallbacksAreNoops(t *testing.T) {
	s := &leakySched{}
	e := New(DefaultConfig(), &seqRand{vals: []int{5}}, s)
	e.Start()
	if len(s.timers) != 1 || len(s.frames) != 1 {
		t.Fatalf("timers=%d frames=%d", len(s.timers), len(s.frames))
	}
	s.timers[0]()
	s.frames[0](200 * time.Millisecond)
	if _, ok := e.Active(); !ok {
		t.Fatalf("expected a move in flight")
	}

	e.Teardown()
	before := e.State()
	for _, fn := range s.timers {
		fn()
	}
	for _, fn := range s.frames {
		fn(5 * time.Second)
	}
	e.Tick(5 * time.Second)
	after := e.State()
	if after.Frame != before.Frame || after.MoveSeq != before.MoveSeq || *after.Active != *before.Active {
		t.Fatalf("state mutated after teardown")
	}
	for i := range before.Cubelets {
		if after.Cubelets[i] != before.Cubelets[i] {
			t.Fatalf("cubelet %d mutated after teardown", i)
		}
	}
}

func TestSetVisible_PausesAnimation(t *testing.T) {
	loop := sched.NewLoop()
	cfg := Config{MoveDuration: time.Second, IdleDelay: 500 * time.Millisecond, Spacing: 1}
	e := New(cfg, &seqRand{vals: []int{1}}, loop)
	e.Start()
	e.SetVisible(false)
	loop.Step(5 * time.Second)
	if _, ok := e.Active(); ok {
		t.Fatalf("move selected while hidden")
	}
	if e.Frame() != 0 {
		t.Fatalf("frames advanced while hidden: %d", e.Frame())
	}
	e.SetVisible(true)
	loop.Step(500 * time.Millisecond)
	if _, ok := e.Active(); !ok {
		t.Fatalf("no move after becoming visible again")
	}
}

func TestPoses_SpacingAndSpin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Spin = mgl64.Vec3{0, 1, 0}
	cfg.Spacing = 2
	e := New(cfg, nil, nil)

	poses := e.Poses()
	if len(poses) != CubeletCount {
		t.Fatalf("poses=%d", len(poses))
	}
	last := poses[CubeletCount-1]
	if last.ID != "cube-1-1-1" {
		t.Fatalf("last id=%s", last.ID)
	}
	if !last.Position.ApproxEqualThreshold(mgl64.Vec3{2, 2, 2}, 1e-12) {
		t.Fatalf("unspun position=%v", last.Position)
	}

	// Half a turn about y in one second of ambient spin.
	halfTurn := math.Pi
	e.Tick(time.Duration(halfTurn * float64(time.Second)))
	last = e.Poses()[CubeletCount-1]
	if !last.Position.ApproxEqualThreshold(mgl64.Vec3{-2, 2, -2}, 1e-6) {
		t.Fatalf("spun position=%v", last.Position)
	}
	if last.LocalPosition != (mgl64.Vec3{1, 1, 1}) {
		t.Fatalf("local position moved: %v", last.LocalPosition)
	}
	if !last.LocalOrientation.ApproxEqualThreshold(mgl64.QuatIdent(), 1e-12) {
		t.Fatalf("local orientation=%v", last.LocalOrientation)
	}
}

func TestRestore_ResumesMidMove(t *testing.T) {
	a := New(DefaultConfig(), nil, nil)
	a.Begin(AxisX, -1, 1)
	a.Tick(600 * time.Millisecond)

	b := New(DefaultConfig(), nil, nil)
	if err := b.Restore(a.State()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	a.Tick(time.Second)
	b.Tick(time.Second)
	if a.Digest() != b.Digest() {
		t.Fatalf("digest mismatch after resume")
	}
	assertLattice(t, b)
}

func TestRestore_RejectsBrokenLattice(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	st := e.State()
	st.Cubelets[0].Grid = st.Cubelets[1].Grid
	st.Cubelets[0].Pos = st.Cubelets[1].Pos
	if err := e.Restore(st); err == nil {
		t.Fatalf("duplicate slot accepted")
	}

	st = e.State()
	st.Cubelets[3].Pos[0] += 0.2
	if err := e.Restore(st); err == nil {
		t.Fatalf("drifted cubelet accepted at rest")
	}

	st = e.State()
	st.Cubelets = st.Cubelets[:26]
	if err := e.Restore(st); err == nil {
		t.Fatalf("short cubelet list accepted")
	}

	st = e.State()
	st.Cubelets[5].Orient[0] = 0.5
	if err := e.Restore(st); err == nil {
		t.Fatalf("skewed orientation accepted")
	}

	st = e.State()
	st.Cubelets[7].Pos[1] = math.NaN()
	if err := e.Restore(st); err == nil {
		t.Fatalf("NaN position accepted")
	}
}

func TestRestore_RejectsBrokenMovingLayer(t *testing.T) {
	src := New(DefaultConfig(), nil, nil)
	if !src.Begin(AxisX, 1, 1) {
		t.Fatalf("Begin refused")
	}
	src.Tick(DefaultConfig().MoveDuration / 3)
	mid := src.State()
	if mid.Active == nil {
		t.Fatalf("move finished early")
	}

	corner := -1
	for i, c := range mid.Cubelets {
		if c.Grid == [3]int{1, 1, 1} {
			corner = i
		}
	}
	if corner < 0 {
		t.Fatalf("no cubelet in slot [1 1 1]")
	}

	e := New(DefaultConfig(), nil, nil)
	if err := e.Restore(mid); err != nil {
		t.Fatalf("intact mid-move state rejected: %v", err)
	}

	st := e.State()
	st.Cubelets[corner].Pos = mgl64.Vec3{}
	e = New(DefaultConfig(), nil, nil)
	if err := e.Restore(st); err == nil {
		t.Fatalf("cubelet outside the moving layer accepted")
	}

	// Still in the layer but at the wrong distance from the axis.
	st = mid
	st.Cubelets = append([]Cubelet(nil), mid.Cubelets...)
	st.Cubelets[corner].Pos = mgl64.Vec3{1, 0, 0}
	if err := e.Restore(st); err == nil {
		t.Fatalf("cubelet off its arc accepted")
	}

	st.Cubelets = append([]Cubelet(nil), mid.Cubelets...)
	st.Cubelets[corner].Orient = mgl64.Ident3()
	if err := e.Restore(st); err == nil {
		t.Fatalf("unrotated orientation in the moving layer accepted")
	}

	swept := *mid.Active
	swept.Swept = math.NaN()
	st = mid
	st.Active = &swept
	if err := e.Restore(st); err == nil {
		t.Fatalf("NaN sweep accepted")
	}

	if err := e.Restore(mid); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	e.Tick(DefaultConfig().MoveDuration)
	assertLattice(t, e)
}
