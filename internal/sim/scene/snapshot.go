package scene

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/cube"
)

// ExportSnapshot captures the engine state. Must be called from the scene
// loop goroutine or while Run is not active.
func (s *Scene) ExportSnapshot() snapshot.SnapshotV1 {
	t := s.cfg.Tuning
	snap := SnapshotFromState(s.eng.State())
	snap.Header.SceneID = s.cfg.ID
	snap.RunID = s.runID
	snap.Seed = s.cfg.Seed
	snap.FrameRateHz = t.FrameRateHz
	snap.MoveDurationMs = t.MoveDurationMs
	snap.IdleDelayMs = t.IdleDelayMs
	snap.SpinRadPerSec = t.SpinRadPerSec
	snap.Spacing = t.Spacing()
	return snap
}

// ImportSnapshot replaces the engine state with snap and continues its run.
// The move-selection source is reseeded from the seed and move sequence,
// so a resumed scene is deterministic but does not repeat the moves the
// original process would have chosen.
//
// This must be called only before Run or from the scene loop goroutine.
func (s *Scene) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.SceneID != "" && snap.Header.SceneID != s.cfg.ID {
		return fmt.Errorf("snapshot scene id mismatch: scene=%s snap=%s", s.cfg.ID, snap.Header.SceneID)
	}
	st, err := StateFromSnapshot(snap)
	if err != nil {
		return err
	}
	if s.cfg.Rand == nil {
		s.eng.SetRand(rand.New(rand.NewSource(snap.Seed + int64(snap.MoveSeq))))
	}
	if err := s.eng.Restore(st); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if snap.RunID != "" {
		s.runID = snap.RunID
	}
	s.runReason = RunResume
	s.movesSinceSnap = 0
	s.frame.Store(s.eng.Frame())
	s.publishMetrics(0)
	return nil
}

// SnapshotFromState converts engine state into its persisted form. Scene
// and run metadata are left for the caller to fill in.
func SnapshotFromState(st cube.State) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			MoveSeq: st.MoveSeq,
			Frame:   st.Frame,
		},
		PrevAxis: st.PrevAxis.String(),
		Spin:     [3]float64(st.Spin),
		Frame:    st.Frame,
		MoveSeq:  st.MoveSeq,
	}
	snap.Cubelets = make([]snapshot.CubeletV1, len(st.Cubelets))
	for i, c := range st.Cubelets {
		snap.Cubelets[i] = snapshot.CubeletV1{
			ID:     c.ID,
			Origin: c.Origin,
			Grid:   c.Grid,
			Pos:    [3]float64(c.Pos),
			Orient: [9]float64(c.Orient),
		}
	}
	if m := st.Active; m != nil {
		snap.Active = &snapshot.MoveV1{
			Seq:        m.Seq,
			Axis:       m.Axis.String(),
			Layer:      m.Layer,
			Direction:  m.Direction,
			Progress:   m.Progress,
			Swept:      m.Swept,
			StartFrame: m.StartFrame,
		}
	}
	return snap
}

func StateFromSnapshot(snap snapshot.SnapshotV1) (cube.State, error) {
	prev, err := cube.ParseAxis(snap.PrevAxis)
	if err != nil {
		return cube.State{}, fmt.Errorf("prev_axis: %w", err)
	}
	st := cube.State{
		PrevAxis: prev,
		Spin:     mgl64.Vec3(snap.Spin),
		Frame:    snap.Frame,
		MoveSeq:  snap.MoveSeq,
	}
	st.Cubelets = make([]cube.Cubelet, len(snap.Cubelets))
	for i, c := range snap.Cubelets {
		st.Cubelets[i] = cube.Cubelet{
			ID:     c.ID,
			Origin: c.Origin,
			Grid:   c.Grid,
			Pos:    mgl64.Vec3(c.Pos),
			Orient: mgl64.Mat3(c.Orient),
		}
	}
	if m := snap.Active; m != nil {
		axis, err := cube.ParseAxis(m.Axis)
		if err != nil {
			return cube.State{}, fmt.Errorf("active move: %w", err)
		}
		st.Active = &cube.Move{
			Axis:       axis,
			Layer:      m.Layer,
			Direction:  m.Direction,
			Progress:   m.Progress,
			Swept:      m.Swept,
			Seq:        m.Seq,
			StartFrame: m.StartFrame,
		}
	}
	return st, nil
}
