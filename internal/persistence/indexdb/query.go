package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

type RunRow struct {
	RunID         string `json:"run_id"`
	SceneID       string `json:"scene_id"`
	Seed          int64  `json:"seed"`
	Reason        string `json:"reason"`
	StartMoveSeq  int64  `json:"start_move_seq"`
	StartFrame    int64  `json:"start_frame"`
	StartedAt     string `json:"started_at"`
	Resumes       int    `json:"resumes"`
	LastResumedAt string `json:"last_resumed_at,omitempty"`
	Moves         int64  `json:"moves"`
}

type MoveRow struct {
	RunID      string `json:"run_id"`
	Seq        int64  `json:"seq"`
	Axis       string `json:"axis"`
	Layer      int    `json:"layer"`
	Direction  int    `json:"direction"`
	StartFrame int64  `json:"start_frame"`
	EndFrame   int64  `json:"end_frame"`
	Digest     string `json:"digest"`
	UnixMS     int64  `json:"unix_ms"`
}

type SnapshotRow struct {
	RunID      string `json:"run_id"`
	MoveSeq    int64  `json:"move_seq"`
	Frame      int64  `json:"frame"`
	Path       string `json:"path"`
	Seed       int64  `json:"seed"`
	Active     bool   `json:"active"`
	RecordedAt string `json:"recorded_at"`
}

// OpenDB opens an existing index for queries without starting a writer.
func OpenDB(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return sql.Open("sqlite", path)
}

func QueryRuns(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT r.run_id,r.scene_id,r.seed,r.reason,r.start_move_seq,r.start_frame,r.started_at,r.resumes,COALESCE(r.last_resumed_at,''),
		(SELECT COUNT(*) FROM moves m WHERE m.run_id=r.run_id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.SceneID, &r.Seed, &r.Reason, &r.StartMoveSeq, &r.StartFrame, &r.StartedAt, &r.Resumes, &r.LastResumedAt, &r.Moves); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryMoves returns the latest moves, newest first. An empty runID matches
// every run.
func QueryMoves(ctx context.Context, db *sql.DB, runID string, limit int) ([]MoveRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id,seq,axis,layer,direction,start_frame,end_frame,digest,unix_ms
		FROM moves WHERE (?='' OR run_id=?) ORDER BY unix_ms DESC, seq DESC LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()
	var out []MoveRow
	for rows.Next() {
		var r MoveRow
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Axis, &r.Layer, &r.Direction, &r.StartFrame, &r.EndFrame, &r.Digest, &r.UnixMS); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func QuerySnapshots(ctx context.Context, db *sql.DB, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT run_id,move_seq,frame,path,seed,active,recorded_at
		FROM snapshots ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.RunID, &r.MoveSeq, &r.Frame, &r.Path, &r.Seed, &r.Active, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
