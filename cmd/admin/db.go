package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flipd.io/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sceneID := fs.String("scene", "landing", "scene id (ignored with -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run_id filter (moves)")
	limit := fs.Int("limit", 20, "result limit")
	asJSON := fs.Bool("json", false, "print JSON lines even on a terminal")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "scenes", *sceneID, "index", "scene.sqlite")
	}

	db, err := indexdb.OpenDB(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runQuery(ctx, newOutput(os.Stdout, *asJSON), db, q, *runID, *limit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, out output, db *sql.DB, q, runID string, limit int) error {
	switch q {
	case "runs":
		rows, err := indexdb.QueryRuns(ctx, db, limit)
		if err != nil {
			return err
		}
		table := make([][]string, 0, len(rows))
		recs := make([]any, 0, len(rows))
		for _, r := range rows {
			table = append(table, []string{r.RunID, r.Reason, i64(r.Seed), i64(r.StartMoveSeq), i64(r.Moves), strconv.Itoa(r.Resumes), r.StartedAt})
			recs = append(recs, r)
		}
		out.emit([]string{"RUN", "REASON", "SEED", "FROM SEQ", "MOVES", "RESUMES", "STARTED"},
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}, table, recs)

	case "moves":
		rows, err := indexdb.QueryMoves(ctx, db, runID, limit)
		if err != nil {
			return err
		}
		table := make([][]string, 0, len(rows))
		recs := make([]any, 0, len(rows))
		for _, r := range rows {
			table = append(table, []string{shortID(r.RunID), i64(r.Seq), r.Axis, strconv.Itoa(r.Layer), fmt.Sprintf("%+d", r.Direction),
				i64(r.StartFrame), i64(r.EndFrame), shortID(r.Digest)})
			recs = append(recs, r)
		}
		out.emit([]string{"RUN", "SEQ", "AXIS", "LAYER", "DIR", "START", "END", "DIGEST"},
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}, table, recs)

	case "snapshots":
		rows, err := indexdb.QuerySnapshots(ctx, db, limit)
		if err != nil {
			return err
		}
		table := make([][]string, 0, len(rows))
		recs := make([]any, 0, len(rows))
		for _, r := range rows {
			table = append(table, []string{shortID(r.RunID), i64(r.MoveSeq), i64(r.Frame), strconv.FormatBool(r.Active), r.Path, r.RecordedAt})
			recs = append(recs, r)
		}
		out.emit([]string{"RUN", "MOVE SEQ", "FRAME", "ACTIVE", "PATH", "RECORDED"},
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft}, table, recs)

	default:
		return fmt.Errorf("unknown query %q (want runs|moves|snapshots)", q)
	}
	return nil
}

func i64(v int64) string { return strconv.FormatInt(v, 10) }

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
