package scene

import (
	"context"
	"errors"
)

type adminSnapshotReq struct {
	Resp chan adminResp
}

type adminResetReq struct {
	Resp chan adminResp
}

type adminPauseReq struct {
	Paused bool
	Resp   chan adminResp
}

type adminResp struct {
	Frame   uint64
	MoveSeq uint64
	Err     string
}

// RequestSnapshot asks the scene loop goroutine to enqueue a snapshot of the
// current engine state. It returns the move sequence the snapshot captures.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (s *Scene) RequestSnapshot(ctx context.Context) (moveSeq uint64, err error) {
	if s == nil || s.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case s.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	r, err := await(ctx, resp)
	return r.MoveSeq, err
}

// RequestReset asks the scene loop goroutine to reset the engine and start a
// new run. It returns the frame at which the reset happened.
func (s *Scene) RequestReset(ctx context.Context) (frame uint64, err error) {
	if s == nil || s.adminReset == nil {
		return 0, errors.New("admin reset not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case s.adminReset <- adminResetReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	r, err := await(ctx, resp)
	return r.Frame, err
}

// RequestPause pauses or resumes the animation, the same way a hidden
// landing page would.
func (s *Scene) RequestPause(ctx context.Context, paused bool) (frame uint64, err error) {
	if s == nil || s.adminPause == nil {
		return 0, errors.New("admin pause not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case s.adminPause <- adminPauseReq{Paused: paused, Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	r, err := await(ctx, resp)
	return r.Frame, err
}

func await(ctx context.Context, resp chan adminResp) (adminResp, error) {
	select {
	case r := <-resp:
		if r.Err != "" {
			return r, errors.New(r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func reply(ch chan adminResp, r adminResp) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
		// Client timed out; don't block the scene loop.
	}
}

func (s *Scene) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	r := adminResp{Frame: s.eng.Frame(), MoveSeq: s.eng.MoveSeq()}
	switch {
	case s.snapshotSink == nil:
		r.Err = "snapshot sink not configured"
	case !s.enqueueSnapshot():
		r.Err = "snapshot queue full"
	}
	for _, q := range reqs {
		reply(q.Resp, r)
	}
}

func (s *Scene) handleAdminResetRequests(reqs []adminResetReq) {
	if len(reqs) == 0 {
		return
	}
	s.Reset()
	r := adminResp{Frame: s.eng.Frame(), MoveSeq: s.eng.MoveSeq()}
	for _, q := range reqs {
		reply(q.Resp, r)
	}
}

func (s *Scene) handleAdminPauseRequests(reqs []adminPauseReq) {
	for _, q := range reqs {
		s.adminPaused = q.Paused
		s.updateVisibility()
		s.publishMetrics(0)
		reply(q.Resp, adminResp{Frame: s.eng.Frame(), MoveSeq: s.eng.MoveSeq()})
	}
}

// Reset returns the engine to its initial lattice and starts a new run.
// Must be called from the scene loop goroutine or while Run is not active.
func (s *Scene) Reset() {
	s.eng.Reset()
	s.resetTotal++
	s.movesSinceSnap = 0
	s.newRun(RunReset)
	s.publishMetrics(0)
}

func (s *Scene) enqueueSnapshot() bool {
	if s.snapshotSink == nil {
		return false
	}
	snap := s.ExportSnapshot()
	select {
	case s.snapshotSink <- snap:
		return true
	default:
		return false
	}
}
