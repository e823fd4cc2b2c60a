package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/scene"
	"flipd.io/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRunTotal      atomic.Uint64
	dropMoveTotal     atomic.Uint64
	dropSnapshotTotal atomic.Uint64
	writeFailTotal    atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqMove
	reqSnapshot
)

type req struct {
	kind reqKind

	run      scene.RunEntry
	move     scene.MoveLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	SceneID    string
	RunID      string
	MoveSeq    uint64
	Frame      uint64
	Path       string
	Seed       int64
	Active     bool
	RecordedAt string
}

// Stats reports queue pressure. Drops happen when the writer goroutine falls
// behind; the JSONL logs remain the source of truth.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropRunTotal      uint64 `json:"drop_run_total"`
	DropMoveTotal     uint64 `json:"drop_move_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	WriteFailTotal    uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scene_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			reason TEXT NOT NULL,
			start_move_seq INTEGER NOT NULL,
			start_frame INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			resumes INTEGER NOT NULL DEFAULT 0,
			last_resumed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scene_started ON runs(scene_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS moves (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			scene_id TEXT NOT NULL,
			axis TEXT NOT NULL,
			layer INTEGER NOT NULL,
			direction INTEGER NOT NULL,
			start_frame INTEGER NOT NULL,
			end_frame INTEGER NOT NULL,
			digest TEXT NOT NULL,
			unix_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_axis ON moves(axis, layer, direction);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			move_seq INTEGER NOT NULL,
			scene_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			active INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, move_seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the underlying handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRunTotal:      s.dropRunTotal.Load(),
		DropMoveTotal:     s.dropMoveTotal.Load(),
		DropSnapshotTotal: s.dropSnapshotTotal.Load(),
		WriteFailTotal:    s.writeFailTotal.Load(),
	}
}

func (s *SQLiteIndex) WriteRun(entry scene.RunEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRun, run: entry}:
	default:
		s.dropRunTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteMove(entry scene.MoveLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqMove, move: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropMoveTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		SceneID:    snap.Header.SceneID,
		RunID:      snap.RunID,
		MoveSeq:    snap.Header.MoveSeq,
		Frame:      snap.Header.Frame,
		Path:       path,
		Seed:       snap.Seed,
		Active:     snap.Active != nil,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshotTotal.Add(1)
	}
}

// UpsertTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT INTO runs(run_id,scene_id,seed,reason,start_move_seq,start_frame,started_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET resumes=resumes+1, last_resumed_at=excluded.started_at`)
	insertMove, _ := s.db.Prepare(`INSERT OR REPLACE INTO moves(run_id,seq,scene_id,axis,layer,direction,start_frame,end_frame,digest,unix_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,move_seq,scene_id,frame,path,seed,active,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertMove, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFailTotal.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			e := r.run
			exec(insertRun, e.RunID, e.SceneID, e.Seed, e.Reason, int64(e.MoveSeq), int64(e.Frame), e.StartedAt)
		case reqMove:
			e := r.move
			exec(insertMove, e.RunID, int64(e.Seq), e.SceneID, e.Axis, e.Layer, e.Direction, int64(e.StartFrame), int64(e.EndFrame), e.Digest, e.UnixMS)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.MoveSeq), sn.SceneID, int64(sn.Frame), sn.Path, sn.Seed, sn.Active, sn.RecordedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}

	commit()
}
