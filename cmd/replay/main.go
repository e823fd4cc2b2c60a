package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	persistlog "flipd.io/internal/persistence/log"
	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/cube"
	"flipd.io/internal/sim/scene"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst to start from (optional; default: initial lattice)")
		movesDir = flag.String("moves", "", "moves dir containing moves-*.jsonl.zst")
		runID    = flag.String("run", "", "run id to verify (default: snapshot run, else the earliest logged run)")
		toSeq    = flag.Uint64("to_seq", 0, "stop after move seq (inclusive, optional)")
	)
	flag.Parse()

	if *movesDir == "" {
		fmt.Fprintln(os.Stderr, "missing -moves")
		os.Exit(2)
	}

	eng := cube.New(cube.Config{}, nil, nil)
	run := *runID
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d scene=%s run=%s move_seq=%d frame=%d seed=%d active=%v\n",
			snap.Header.Version, snap.Header.SceneID, snap.RunID, snap.MoveSeq, snap.Frame, snap.Seed, snap.Active != nil)

		eng = cube.New(cube.Config{
			MoveDuration: time.Duration(snap.MoveDurationMs) * time.Millisecond,
			IdleDelay:    time.Duration(snap.IdleDelayMs) * time.Millisecond,
			Spin:         mgl64.Vec3(snap.SpinRadPerSec),
			Spacing:      snap.Spacing,
		}, nil, nil)
		st, err := scene.StateFromSnapshot(snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "snapshot state:", err)
			os.Exit(1)
		}
		if err := eng.Restore(st); err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		if run == "" {
			run = snap.RunID
		}
	}

	entries, err := persistlog.ReadMoves(*movesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read moves:", err)
		os.Exit(1)
	}
	if run == "" && len(entries) > 0 {
		run = entries[0].RunID
	}
	entries = filterRun(entries, run)
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "no moves for run %q in %s\n", run, *movesDir)
		os.Exit(1)
	}

	checked, err := replay(eng, entries, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s checked=%d moves (through seq=%d)\n", run, checked, eng.MoveSeq())
}

func filterRun(entries []scene.MoveLogEntry, run string) []scene.MoveLogEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.RunID == run {
			out = append(out, e)
		}
	}
	return out
}

// replay re-applies logged moves on eng and compares the lattice digest after
// each one. A move left in flight by a snapshot is finished first. Entries at
// or before the engine's current move are skipped.
func replay(eng *cube.Engine, entries []scene.MoveLogEntry, toSeq uint64) (int, error) {
	var got cube.MoveRecord
	var completed bool
	eng.OnMoveComplete(func(r cube.MoveRecord) {
		got = r
		completed = true
	})
	sweep := func() error {
		completed = false
		eng.Tick(eng.Config().MoveDuration)
		if !completed {
			return fmt.Errorf("move %d did not complete in one sweep", eng.MoveSeq())
		}
		return nil
	}

	byseq := make(map[uint64]scene.MoveLogEntry, len(entries))
	for _, e := range entries {
		byseq[e.Seq] = e
	}

	checked := 0
	verify := func(e scene.MoveLogEntry) error {
		if got.Digest != e.Digest {
			return fmt.Errorf("digest mismatch at seq %d: got=%s want=%s", e.Seq, got.Digest, e.Digest)
		}
		checked++
		return nil
	}

	if m, ok := eng.Active(); ok {
		if err := sweep(); err != nil {
			return checked, err
		}
		if e, ok := byseq[m.Seq]; ok {
			if err := verify(e); err != nil {
				return checked, err
			}
		}
	}

	for _, e := range entries {
		if e.Seq <= eng.MoveSeq() {
			continue
		}
		if toSeq != 0 && e.Seq > toSeq {
			break
		}
		if want := eng.MoveSeq() + 1; e.Seq != want {
			return checked, fmt.Errorf("gap in move log: want seq=%d got=%d", want, e.Seq)
		}
		axis, err := cube.ParseAxis(e.Axis)
		if err != nil {
			return checked, fmt.Errorf("seq %d: %w", e.Seq, err)
		}
		if !eng.Begin(axis, e.Layer, e.Direction) {
			return checked, fmt.Errorf("seq %d: cannot begin %s layer=%d dir=%d", e.Seq, e.Axis, e.Layer, e.Direction)
		}
		if err := sweep(); err != nil {
			return checked, err
		}
		if err := verify(e); err != nil {
			return checked, err
		}
	}
	return checked, nil
}
