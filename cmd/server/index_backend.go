package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flipd.io/internal/persistence/indexdb"
	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/scene"
	"flipd.io/internal/sim/tuning"
)

type runtimeIndex interface {
	scene.MoveLogger
	scene.RunLogger
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(sceneDir, sceneID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("FLIPD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(sceneDir, "index", "scene.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "http", "ingest":
		endpoint := strings.TrimSpace(os.Getenv("FLIPD_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("FLIPD_INDEX_INGEST_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("FLIPD_INDEX_BACKEND=%s but FLIPD_INDEX_INGEST_URL is empty", backend)
		}
		flushMS := envInt("FLIPD_INDEX_INGEST_FLUSH_MS", 500)
		batchSize := envInt("FLIPD_INDEX_INGEST_BATCH_SIZE", 128)
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      endpoint,
			Token:         token,
			SceneID:       sceneID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported FLIPD_INDEX_BACKEND: %s", backend)
	}
}

func writeIndexMetrics(w io.Writer, sceneID string, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(w, "# HELP flipd_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_queue_depth gauge\n")
		fmt.Fprintf(w, "flipd_index_queue_depth{scene=%q,backend=%q} %d\n", sceneID, "sqlite", s.QueueDepth)

		fmt.Fprintf(w, "# HELP flipd_index_dropped_total Index rows dropped because the writer fell behind.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_dropped_total counter\n")
		fmt.Fprintf(w, "flipd_index_dropped_total{scene=%q,kind=%q} %d\n", sceneID, "run", s.DropRunTotal)
		fmt.Fprintf(w, "flipd_index_dropped_total{scene=%q,kind=%q} %d\n", sceneID, "move", s.DropMoveTotal)
		fmt.Fprintf(w, "flipd_index_dropped_total{scene=%q,kind=%q} %d\n", sceneID, "snapshot", s.DropSnapshotTotal)

		fmt.Fprintf(w, "# HELP flipd_index_write_fail_total Failed index transactions.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_write_fail_total counter\n")
		fmt.Fprintf(w, "flipd_index_write_fail_total{scene=%q} %d\n", sceneID, s.WriteFailTotal)
	case *indexdb.IngestIndex:
		s := x.Stats()
		fmt.Fprintf(w, "# HELP flipd_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_queue_depth gauge\n")
		fmt.Fprintf(w, "flipd_index_queue_depth{scene=%q,backend=%q} %d\n", sceneID, "ingest", s.QueueDepth)

		fmt.Fprintf(w, "# HELP flipd_index_ingest_flush_total Ingest batch flushes by result.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_ingest_flush_total counter\n")
		fmt.Fprintf(w, "flipd_index_ingest_flush_total{scene=%q,result=%q} %d\n", sceneID, "ok", s.FlushOKTotal)
		fmt.Fprintf(w, "flipd_index_ingest_flush_total{scene=%q,result=%q} %d\n", sceneID, "fail", s.FlushFailTotal)

		fmt.Fprintf(w, "# HELP flipd_index_dropped_total Index events dropped.\n")
		fmt.Fprintf(w, "# TYPE flipd_index_dropped_total counter\n")
		fmt.Fprintf(w, "flipd_index_dropped_total{scene=%q,kind=%q} %d\n", sceneID, "queue", s.QueueDroppedTotal)
		fmt.Fprintf(w, "flipd_index_dropped_total{scene=%q,kind=%q} %d\n", sceneID, "retain", s.RetainDroppedTotal)
	}
}

type multiMoveLogger struct {
	a scene.MoveLogger
	b scene.MoveLogger
}

func (m multiMoveLogger) WriteMove(entry scene.MoveLogEntry) error {
	var errA, errB error
	if m.a != nil {
		errA = m.a.WriteMove(entry)
	}
	if m.b != nil {
		errB = m.b.WriteMove(entry)
	}
	return errors.Join(errA, errB)
}

type multiRunLogger struct {
	a scene.RunLogger
	b scene.RunLogger
}

func (m multiRunLogger) WriteRun(entry scene.RunEntry) error {
	var errA, errB error
	if m.a != nil {
		errA = m.a.WriteRun(entry)
	}
	if m.b != nil {
		errB = m.b.WriteRun(entry)
	}
	return errors.Join(errA, errB)
}
