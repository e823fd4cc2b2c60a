package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"flipd.io/internal/persistence/indexdb"
	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/scene"
)

func TestRunQuery_JSONLines(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scene.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteRun(scene.RunEntry{SceneID: "landing", RunID: "run-a", Seed: 5, Reason: scene.RunStart, StartedAt: "2026-02-01T00:00:00Z"})
	for i := 1; i <= 3; i++ {
		_ = idx.WriteMove(scene.MoveLogEntry{SceneID: "landing", RunID: "run-a", Seq: uint64(i), Axis: "y", Layer: 0, Direction: 1, Digest: "abcdef0123456789", UnixMS: int64(i)})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := indexdb.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	out := newOutput(&buf, false)
	if out.table {
		t.Fatalf("a buffer is not a terminal")
	}
	if err := runQuery(context.Background(), out, db, "runs", "", 10); err != nil {
		t.Fatalf("runs: %v", err)
	}
	var run indexdb.RunRow
	if err := json.Unmarshal(buf.Bytes(), &run); err != nil {
		t.Fatalf("decode run %q: %v", buf.String(), err)
	}
	if run.RunID != "run-a" || run.Moves != 3 {
		t.Fatalf("run=%+v", run)
	}

	buf.Reset()
	if err := runQuery(context.Background(), out, db, "moves", "run-a", 2); err != nil {
		t.Fatalf("moves: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("moves output=%q", buf.String())
	}

	if err := runQuery(context.Background(), out, db, "voxels", "", 1); err == nil {
		t.Fatalf("expected unknown query error")
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	out := output{w: &buf, table: true}
	out.emit([]string{"RUN", "MOVES"}, []columnAlignment{alignLeft, alignRight}, [][]string{{"run-a", "3"}}, nil)
	s := buf.String()
	if !strings.Contains(s, "RUN") || !strings.Contains(s, "run-a") {
		t.Fatalf("table=%q", s)
	}

	buf.Reset()
	out.emit([]string{"RUN"}, nil, nil, nil)
	if strings.TrimSpace(buf.String()) != "(no rows)" {
		t.Fatalf("empty table=%q", buf.String())
	}
}

func TestListScenes(t *testing.T) {
	base := t.TempDir()
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, SceneID: "landing", MoveSeq: 12, Frame: 900}}
	if err := snapshot.WriteSnapshot(filepath.Join(base, "landing", "snapshots", snapshot.FileName(12)), snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := snapshot.WriteSnapshot(filepath.Join(base, "other", "snapshots", "junk.snap.zst"), snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buf bytes.Buffer
	if err := listScenes(newOutput(&buf, true), base); err != nil {
		t.Fatalf("listScenes: %v", err)
	}
	dec := json.NewDecoder(&buf)
	var got []sceneInfo
	for dec.More() {
		var si sceneInfo
		if err := dec.Decode(&si); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, si)
	}
	if len(got) != 2 {
		t.Fatalf("scenes=%+v", got)
	}
	if got[0].SceneID != "landing" || got[0].MoveSeq != 12 || got[0].Frame != 900 {
		t.Fatalf("landing=%+v", got[0])
	}
	if got[1].SceneID != "other" || got[1].LatestSnapshot != "" {
		t.Fatalf("other=%+v", got[1])
	}
}

func TestPrintAdmin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/admin/v1/reset" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"ok":true,"frame":7}`))
		case r.URL.Path == "/admin/v1/snapshot":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if code := printAdmin(&buf, http.MethodPost, srv.URL+"/", "reset"); code != 0 {
		t.Fatalf("reset exit=%d", code)
	}
	if strings.TrimSpace(buf.String()) != `{"ok":true,"frame":7}` {
		t.Fatalf("body=%q", buf.String())
	}
	if code := printAdmin(&buf, http.MethodPost, srv.URL, "snapshot"); code != 1 {
		t.Fatalf("snapshot exit=%d", code)
	}
}
