// Package scene runs one cube engine at a fixed frame rate and serves it to
// the rest of the process: observers, admin requests, move logging and
// snapshots. All engine state is owned by the Run goroutine; everything else
// talks to it through channels.
package scene

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/cube"
	"flipd.io/internal/sim/sched"
	"flipd.io/internal/sim/tuning"
)

// maxFrameDelta caps the dt fed to the engine after a stall (GC pause,
// suspended process) so a single frame never skips a whole move.
const maxFrameDelta = 250 * time.Millisecond

type Config struct {
	ID     string
	Seed   int64
	Tuning tuning.Tuning

	// Rand overrides the seeded move-selection source (tests).
	Rand cube.Rand
	// Logger receives background errors. Nil disables logging.
	Logger *log.Logger
}

type Scene struct {
	cfg    Config
	logger *log.Logger

	loop *sched.Loop
	eng  *cube.Engine

	runID     string
	runReason string

	observers   map[string]*observerClient
	adminPaused bool
	lastFrame   uint64
	lastPaused  bool
	broadcasted bool

	moveLogger     MoveLogger
	runLogger      RunLogger
	snapshotSink   chan<- snapshot.SnapshotV1
	movesSinceSnap int
	movesTotal     uint64
	resetTotal     uint64

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	admin         chan adminSnapshotReq
	adminReset    chan adminResetReq
	adminPause    chan adminPauseReq

	stop     chan struct{}
	stopOnce sync.Once

	frame   atomic.Uint64
	metrics atomic.Value
}

func New(cfg Config) *Scene {
	if cfg.ID == "" {
		cfg.ID = "landing"
	}
	if cfg.Tuning.FrameRateHz <= 0 {
		cfg.Tuning = tuning.Defaults()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	s := &Scene{
		cfg:       cfg,
		logger:    cfg.Logger,
		loop:      sched.NewLoop(),
		runID:     uuid.NewString(),
		runReason: RunStart,
		observers: map[string]*observerClient{},

		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		admin:         make(chan adminSnapshotReq, 16),
		adminReset:    make(chan adminResetReq, 16),
		adminPause:    make(chan adminPauseReq, 16),
		stop:          make(chan struct{}),
	}
	s.eng = cube.New(engineConfig(cfg.Tuning), rng, s.loop)
	s.eng.OnMoveComplete(s.onMoveComplete)
	s.eng.Start()
	s.updateVisibility()
	s.publishMetrics(0)
	return s
}

func engineConfig(t tuning.Tuning) cube.Config {
	return cube.Config{
		MoveDuration: t.MoveDuration(),
		IdleDelay:    t.IdleDelay(),
		Spin:         mgl64.Vec3(t.SpinRadPerSec),
		Spacing:      t.Spacing(),
	}
}

func (s *Scene) ID() string            { return s.cfg.ID }
func (s *Scene) Seed() int64           { return s.cfg.Seed }
func (s *Scene) Tuning() tuning.Tuning { return s.cfg.Tuning }
func (s *Scene) CurrentFrame() uint64  { return s.frame.Load() }
func (s *Scene) FrameRateHz() int      { return s.cfg.Tuning.FrameRateHz }

func (s *Scene) SetMoveLogger(l MoveLogger)                    { s.moveLogger = l }
func (s *Scene) SetRunLogger(l RunLogger)                      { s.runLogger = l }
func (s *Scene) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

func (s *Scene) ObserverJoin() chan<- ObserverJoinRequest           { return s.observerJoin }
func (s *Scene) ObserverSubscribe() chan<- ObserverSubscribeRequest { return s.observerSub }
func (s *Scene) ObserverLeave() chan<- string                       { return s.observerLeave }

// RunID identifies the current engine lineage. It changes on reset and is
// carried over when resuming from a snapshot.
func (s *Scene) RunID() string { return s.Metrics().RunID }

// Engine exposes the engine for tests and offline tools. It must not be used
// while Run is active.
func (s *Scene) Engine() *cube.Engine { return s.eng }

func (s *Scene) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.Tuning.FrameRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.shutdown()

	s.writeRun()

	var pendingAdmin []adminSnapshotReq
	var pendingReset []adminResetReq
	var pendingPause []adminPauseReq

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.observerJoin:
			s.handleObserverJoin(req)
		case req := <-s.observerSub:
			s.handleObserverSubscribe(req)
		case id := <-s.observerLeave:
			s.handleObserverLeave(id)
		case req := <-s.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-s.adminReset:
			pendingReset = append(pendingReset, req)
		case req := <-s.adminPause:
			pendingPause = append(pendingPause, req)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > maxFrameDelta {
				dt = maxFrameDelta
			}
			s.handleAdminPauseRequests(pendingPause)
			s.handleAdminResetRequests(pendingReset)
			s.StepFrame(dt)
			s.handleAdminSnapshotRequests(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
			pendingReset = pendingReset[:0]
			pendingPause = pendingPause[:0]
		}
	}
}

func (s *Scene) Stop() { s.stopOnce.Do(func() { close(s.stop) }) }

func (s *Scene) shutdown() {
	s.eng.Teardown()
	for id, c := range s.observers {
		delete(s.observers, id)
		close(c.frameOut)
	}
	s.publishMetrics(0)
}

// StepFrame advances the scene by one frame of length dt: timers due within
// dt fire, the engine ticks, and observers receive the new frame. Run calls
// it from its ticker; tests and tools may call it directly when Run is not
// active.
func (s *Scene) StepFrame(dt time.Duration) {
	start := time.Now()
	s.loop.Step(dt)
	s.frame.Store(s.eng.Frame())
	s.broadcastFrame()
	s.publishMetrics(time.Since(start))
}

// updateVisibility applies the admin pause and the no-observer pause to the
// engine.
func (s *Scene) updateVisibility() {
	visible := !s.adminPaused
	if s.cfg.Tuning.PauseWithoutObservers && len(s.observers) == 0 {
		visible = false
	}
	s.eng.SetVisible(visible)
}

func (s *Scene) newRun(reason string) {
	s.runID = uuid.NewString()
	s.runReason = reason
	s.writeRun()
}

func (s *Scene) writeRun() {
	if s.runLogger == nil {
		return
	}
	e := RunEntry{
		SceneID:   s.cfg.ID,
		RunID:     s.runID,
		Seed:      s.cfg.Seed,
		Reason:    s.runReason,
		MoveSeq:   s.eng.MoveSeq(),
		Frame:     s.eng.Frame(),
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.runLogger.WriteRun(e); err != nil && s.logger != nil {
		s.logger.Printf("scene %s: write run: %v", s.cfg.ID, err)
	}
}
