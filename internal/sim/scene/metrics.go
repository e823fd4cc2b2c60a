package scene

import "time"

// Metrics is a thread-safe read-only view of key scene runtime signals.
// It is updated from the scene loop goroutine and read from HTTP handlers/tests.
type Metrics struct {
	SceneID string `json:"scene_id"`
	RunID   string `json:"run_id"`

	Frame      uint64 `json:"frame"`
	MoveSeq    uint64 `json:"move_seq"`
	MovesTotal uint64 `json:"moves_total"`
	ResetTotal uint64 `json:"reset_total"`

	Active    bool `json:"active"`
	Paused    bool `json:"paused"`
	Observers int  `json:"observers"`

	PendingTimers int         `json:"pending_timers"`
	QueueDepths   QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	ObserverJoin  int `json:"observer_join"`
	ObserverLeave int `json:"observer_leave"`
	Admin         int `json:"admin"`
}

func (s *Scene) Metrics() Metrics {
	if s == nil {
		return Metrics{}
	}
	v := s.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (s *Scene) publishMetrics(step time.Duration) {
	_, active := s.eng.Active()
	s.metrics.Store(Metrics{
		SceneID:       s.cfg.ID,
		RunID:         s.runID,
		Frame:         s.eng.Frame(),
		MoveSeq:       s.eng.MoveSeq(),
		MovesTotal:    s.movesTotal,
		ResetTotal:    s.resetTotal,
		Active:        active,
		Paused:        !s.eng.Visible(),
		Observers:     len(s.observers),
		PendingTimers: s.loop.Pending(),
		QueueDepths: QueueDepths{
			ObserverJoin:  len(s.observerJoin),
			ObserverLeave: len(s.observerLeave),
			Admin:         len(s.admin) + len(s.adminReset) + len(s.adminPause),
		},
		StepMS: float64(step.Microseconds()) / 1000,
	})
}
