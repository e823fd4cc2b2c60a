package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"flipd.io/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot", "reset", "pause", "resume":
			postCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	asJSON := fs.Bool("json", false, "print JSON lines even on a terminal")
	_ = fs.Parse(args)

	if err := listScenes(newOutput(os.Stdout, *asJSON), filepath.Join(*dataDir, "scenes")); err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
}

type sceneInfo struct {
	SceneID        string `json:"scene_id"`
	LatestSnapshot string `json:"latest_snapshot,omitempty"`
	MoveSeq        uint64 `json:"move_seq,omitempty"`
	Frame          uint64 `json:"frame,omitempty"`
}

// listScenes prints every scene under base with its latest snapshot header.
func listScenes(out output, base string) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	var rows [][]string
	var recs []any
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := sceneInfo{SceneID: e.Name()}
		if p := snapshot.Latest(filepath.Join(base, e.Name(), "snapshots")); p != "" {
			info.LatestSnapshot = p
			if h, err := snapshot.ReadHeader(p); err == nil {
				info.MoveSeq = h.MoveSeq
				info.Frame = h.Frame
			}
		}
		snapName := "-"
		if info.LatestSnapshot != "" {
			snapName = filepath.Base(info.LatestSnapshot)
		}
		rows = append(rows, []string{info.SceneID, snapName,
			strconv.FormatUint(info.MoveSeq, 10), strconv.FormatUint(info.Frame, 10)})
		recs = append(recs, info)
	}
	out.emit([]string{"SCENE", "SNAPSHOT", "MOVE SEQ", "FRAME"},
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}, rows, recs)
	return nil
}
