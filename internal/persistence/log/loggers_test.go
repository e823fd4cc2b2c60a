package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flipd.io/internal/sim/scene"
)

func TestMoveLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewMoveLogger(dir)
	for i := 1; i <= 3; i++ {
		if err := l.WriteMove(scene.MoveLogEntry{SceneID: "landing", RunID: "r1", Seq: uint64(i), Axis: "x", Layer: 1, Direction: -1, Digest: "d"}); err != nil {
			t.Fatalf("WriteMove: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening within the same hour appends a second zstd frame.
	l2 := NewMoveLogger(dir)
	if err := l2.WriteMove(scene.MoveLogEntry{SceneID: "landing", RunID: "r1", Seq: 4, Axis: "y"}); err != nil {
		t.Fatalf("WriteMove: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadMoves(filepath.Join(dir, "moves"))
	if err != nil {
		t.Fatalf("ReadMoves: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("entries=%d want 4", len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d seq=%d", i, e.Seq)
		}
	}
	if got[0].Layer != 1 || got[0].Direction != -1 || got[3].Axis != "y" {
		t.Fatalf("entries=%+v", got)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "moves")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.Write(map[string]int{"seq": 1}); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"seq": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := ListFiles(dir, "moves")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "moves-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "moves-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v", files)
	}
	got, err := ReadMoves(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("entries=%+v", got)
	}
}

func TestRunLogger_WritesUnderRunsDir(t *testing.T) {
	dir := t.TempDir()
	l := NewRunLogger(dir)
	if err := l.WriteRun(scene.RunEntry{SceneID: "landing", RunID: "r1", Reason: scene.RunStart}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	files, err := ListFiles(filepath.Join(dir, RunsDir), RunsDir)
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	if _, err := os.Stat(filepath.Join(dir, MovesDir)); !os.IsNotExist(err) {
		t.Fatalf("unexpected moves dir: %v", err)
	}
	runs, err := readAll[scene.RunEntry](filepath.Join(dir, RunsDir), RunsDir)
	if err != nil {
		t.Fatalf("read runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "r1" || runs[0].Reason != scene.RunStart {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestLoggers_RefuseUnkeyedEntries(t *testing.T) {
	dir := t.TempDir()
	ml := NewMoveLogger(dir)
	defer ml.Close()
	if err := ml.WriteMove(scene.MoveLogEntry{Seq: 1, Axis: "x"}); !errors.Is(err, errUnkeyed) {
		t.Fatalf("move without run id: err=%v", err)
	}
	if err := ml.WriteMove(scene.MoveLogEntry{RunID: "r1", Axis: "x"}); err == nil {
		t.Fatalf("move with seq 0 accepted")
	}

	rl := NewRunLogger(dir)
	defer rl.Close()
	if err := rl.WriteRun(scene.RunEntry{Reason: scene.RunReset}); !errors.Is(err, errUnkeyed) {
		t.Fatalf("run without id: err=%v", err)
	}

	// Nothing reached disk.
	for _, sub := range []string{MovesDir, RunsDir} {
		if _, err := os.Stat(filepath.Join(dir, sub)); !os.IsNotExist(err) {
			t.Fatalf("%s dir created: %v", sub, err)
		}
	}
}
