package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "flipd.io/internal/persistence/log"
	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/scene"
	"flipd.io/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sceneID    = flag.String("scene", "landing", "scene id")
		seed       = flag.Int64("seed", 1337, "move selection seed (used only when starting a fresh scene)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (runs, moves, snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	sceneDir := filepath.Join(*dataDir, "scenes", *sceneID)
	_ = os.MkdirAll(sceneDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional: read-model index backend (does not affect the animation).
	idx, err := openRuntimeIndex(sceneDir, *sceneID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(sceneDir, "snapshots"))
	}

	sc, err := newScene(*sceneID, *seed, tune, snapshotToLoad, logger)
	if err != nil {
		logger.Fatalf("scene: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	moveLog := persistlog.NewMoveLogger(sceneDir)
	runLog := persistlog.NewRunLogger(sceneDir)
	defer moveLog.Close()
	defer runLog.Close()
	sc.SetMoveLogger(multiMoveLogger{a: moveLog, b: idx})
	sc.SetRunLogger(multiRunLogger{a: runLog, b: idx})

	snapCh := make(chan snapshot.SnapshotV1, 2)
	sc.SetSnapshotSink(snapCh)
	go runSnapshotWriter(ctx, sceneDir, snapCh, idx, logger)

	sceneDone := make(chan struct{})
	go func() {
		defer close(sceneDone)
		if err := sc.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("scene stopped: %v", err)
		}
	}()

	mux := newMux(httpDeps{
		scene:          sc,
		idx:            idx,
		logger:         logger,
		enableAdmin:    envBool("FLIPD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enablePprof:    envBool("FLIPD_ENABLE_PPROF_HTTP", false),
		observerRemote: envBool("FLIPD_OBSERVER_PUBLIC", false),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s scene=%s run=%s", *addr, sc.ID(), sc.RunID())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-sceneDone
}

// newScene builds a fresh scene, or resumes one from snapPath when set. A
// resumed scene keeps the timing it was recorded with.
func newScene(id string, seed int64, tune tuning.Tuning, snapPath string, logger *log.Logger) (*scene.Scene, error) {
	if snapPath == "" {
		return scene.New(scene.Config{ID: id, Seed: seed, Tuning: tune, Logger: logger}), nil
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}
	if snap.FrameRateHz > 0 {
		tune.FrameRateHz = snap.FrameRateHz
	}
	if snap.MoveDurationMs > 0 {
		tune.MoveDurationMs = snap.MoveDurationMs
	}
	if snap.IdleDelayMs > 0 {
		tune.IdleDelayMs = snap.IdleDelayMs
	}
	tune.SpinRadPerSec = snap.SpinRadPerSec
	sc := scene.New(scene.Config{ID: id, Seed: snap.Seed, Tuning: tune, Logger: logger})
	if err := sc.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Printf("resumed from snapshot=%s move_seq=%d frame=%d", filepath.Base(snapPath), snap.MoveSeq, sc.CurrentFrame())
	}
	return sc, nil
}

func runSnapshotWriter(ctx context.Context, sceneDir string, snapCh <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path := filepath.Join(sceneDir, "snapshots", snapshot.FileName(snap.Header.MoveSeq))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				if logger != nil {
					logger.Printf("snapshot write: %v", err)
				}
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
