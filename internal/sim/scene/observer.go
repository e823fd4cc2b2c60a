package scene

import (
	"encoding/json"

	"flipd.io/internal/observerproto"
	"flipd.io/internal/sim/cube"
)

// ObserverJoinRequest registers a read-only observer session. FRAME messages
// are delivered on FrameOut; the scene closes FrameOut when the session
// leaves, is replaced, or the scene stops.
type ObserverJoinRequest struct {
	SessionID string
	FrameOut  chan []byte

	EveryNFrames int
	IncludeLocal bool

	// Resp, if set, receives whether the session was admitted.
	Resp chan ObserverJoinResp
}

type ObserverJoinResp struct {
	OK   bool
	Code string
}

// ObserverSubscribeRequest updates an existing session's settings.
type ObserverSubscribeRequest struct {
	SessionID    string
	EveryNFrames int
	IncludeLocal bool
}

type observerClient struct {
	id       string
	frameOut chan []byte

	everyN       int
	includeLocal bool

	sent      bool
	lastFrame uint64
}

func (s *Scene) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.FrameOut == nil {
		replyJoin(req.Resp, ObserverJoinResp{Code: observerproto.ErrBadRequest})
		return
	}
	old := s.observers[req.SessionID]
	if old == nil && len(s.observers) >= s.cfg.Tuning.Observer.MaxObservers {
		replyJoin(req.Resp, ObserverJoinResp{Code: observerproto.ErrSceneBusy})
		return
	}
	if old != nil {
		close(old.frameOut)
	}
	s.observers[req.SessionID] = &observerClient{
		id:           req.SessionID,
		frameOut:     req.FrameOut,
		everyN:       s.clampEvery(req.EveryNFrames, 1),
		includeLocal: req.IncludeLocal,
	}
	s.updateVisibility()
	replyJoin(req.Resp, ObserverJoinResp{OK: true})
}

func replyJoin(ch chan ObserverJoinResp, r ObserverJoinResp) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (s *Scene) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := s.observers[req.SessionID]
	if c == nil {
		return
	}
	c.everyN = s.clampEvery(req.EveryNFrames, c.everyN)
	c.includeLocal = req.IncludeLocal
}

func (s *Scene) handleObserverLeave(sessionID string) {
	c := s.observers[sessionID]
	if c == nil {
		return
	}
	delete(s.observers, sessionID)
	close(c.frameOut)
	s.updateVisibility()
}

func (s *Scene) clampEvery(n, def int) int {
	if n <= 0 {
		return def
	}
	if limit := s.cfg.Tuning.Observer.MaxEveryFrames; n > limit {
		return limit
	}
	return n
}

// broadcastFrame sends the current frame to every observer that is due one.
// Nothing is sent while the engine is paused unless the pause state just
// changed.
func (s *Scene) broadcastFrame() {
	frame := s.eng.Frame()
	paused := !s.eng.Visible()
	changed := !s.broadcasted || paused != s.lastPaused
	if frame == s.lastFrame && !changed {
		return
	}
	s.lastFrame = frame
	s.lastPaused = paused
	s.broadcasted = true
	if len(s.observers) == 0 {
		return
	}

	var plain, local []byte
	for _, c := range s.observers {
		if c.sent && !changed && frame-c.lastFrame < uint64(c.everyN) {
			continue
		}
		var b []byte
		if c.includeLocal {
			if local == nil {
				local = s.marshalFrame(true)
			}
			b = local
		} else {
			if plain == nil {
				plain = s.marshalFrame(false)
			}
			b = plain
		}
		if b == nil {
			continue
		}
		c.sent = true
		c.lastFrame = frame
		sendLatest(c.frameOut, b)
	}
}

// FrameMessage builds the FRAME message for the current engine state.
func (s *Scene) FrameMessage(includeLocal bool) observerproto.FrameMsg {
	msg := observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Frame:           s.eng.Frame(),
		MoveSeq:         s.eng.MoveSeq(),
		Spin:            [3]float64(s.eng.Spin()),
		Paused:          !s.eng.Visible(),
	}
	if m, ok := s.eng.Active(); ok {
		msg.Active = &observerproto.MoveState{
			Seq:       m.Seq,
			Axis:      m.Axis.String(),
			Layer:     m.Layer,
			Direction: m.Direction,
			Progress:  m.Progress,
		}
	}
	poses := s.eng.Poses()
	msg.Poses = make([]observerproto.Pose, len(poses))
	for i, p := range poses {
		msg.Poses[i] = wirePose(p, false)
	}
	if includeLocal {
		msg.LocalPoses = make([]observerproto.Pose, len(poses))
		for i, p := range poses {
			msg.LocalPoses[i] = wirePose(p, true)
		}
	}
	return msg
}

func (s *Scene) marshalFrame(includeLocal bool) []byte {
	b, err := json.Marshal(s.FrameMessage(includeLocal))
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("scene %s: marshal frame: %v", s.cfg.ID, err)
		}
		return nil
	}
	return b
}

func wirePose(p cube.Pose, local bool) observerproto.Pose {
	pos, q := p.Position, p.Orientation
	if local {
		pos, q = p.LocalPosition, p.LocalOrientation
	}
	return observerproto.Pose{
		ID:  p.ID,
		Pos: [3]float64(pos),
		Rot: [4]float64{q.V[0], q.V[1], q.V[2], q.W},
	}
}

// Bootstrap describes the scene for a renderer about to subscribe.
func (s *Scene) Bootstrap() observerproto.BootstrapResponse {
	t := s.cfg.Tuning
	m := s.Metrics()
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		SceneID:         s.cfg.ID,
		RunID:           m.RunID,
		Frame:           s.CurrentFrame(),
		SceneParams: observerproto.SceneParams{
			FrameRateHz:         t.FrameRateHz,
			MoveDurationMs:      t.MoveDurationMs,
			IdleDelayMs:         t.IdleDelayMs,
			SpinRadPerSec:       t.SpinRadPerSec,
			CubeletSize:         t.CubeletSize,
			CubeletGap:          t.CubeletGap,
			CubeletCornerRadius: t.CubeletCornerRadius,
			Spacing:             t.Spacing(),
			Cubelets:            cube.CubeletCount,
		},
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
