package scene

import (
	"time"

	"flipd.io/internal/sim/cube"
)

// MoveLogEntry is written once per completed move.
type MoveLogEntry struct {
	SceneID    string  `json:"scene_id"`
	RunID      string  `json:"run_id"`
	Seq        uint64  `json:"seq"`
	Axis       string  `json:"axis"`
	Layer      int     `json:"layer"`
	Direction  int     `json:"direction"`
	StartFrame uint64  `json:"start_frame"`
	EndFrame   uint64  `json:"end_frame"`
	Swept      float64 `json:"swept"`
	Digest     string  `json:"digest"`
	UnixMS     int64   `json:"unix_ms"`
}

type MoveLogger interface {
	WriteMove(entry MoveLogEntry) error
}

// Run start reasons.
const (
	RunStart  = "start"
	RunReset  = "reset"
	RunResume = "resume"
)

// RunEntry is written whenever a run begins: at process start, after a
// reset, and when a snapshot is resumed.
type RunEntry struct {
	SceneID   string `json:"scene_id"`
	RunID     string `json:"run_id"`
	Seed      int64  `json:"seed"`
	Reason    string `json:"reason"`
	MoveSeq   uint64 `json:"move_seq"`
	Frame     uint64 `json:"frame"`
	StartedAt string `json:"started_at"`
}

type RunLogger interface {
	WriteRun(entry RunEntry) error
}

func (s *Scene) onMoveComplete(rec cube.MoveRecord) {
	s.movesTotal++
	if s.moveLogger != nil {
		e := MoveLogEntry{
			SceneID:    s.cfg.ID,
			RunID:      s.runID,
			Seq:        rec.Seq,
			Axis:       rec.Axis.String(),
			Layer:      rec.Layer,
			Direction:  rec.Direction,
			StartFrame: rec.StartFrame,
			EndFrame:   rec.EndFrame,
			Swept:      rec.Swept,
			Digest:     rec.Digest,
			UnixMS:     time.Now().UnixMilli(),
		}
		if err := s.moveLogger.WriteMove(e); err != nil && s.logger != nil {
			s.logger.Printf("scene %s: write move %d: %v", s.cfg.ID, rec.Seq, err)
		}
	}

	every := s.cfg.Tuning.SnapshotEveryMoves
	if every <= 0 {
		return
	}
	s.movesSinceSnap++
	if s.movesSinceSnap < every {
		return
	}
	s.movesSinceSnap = 0
	if !s.enqueueSnapshot() && s.logger != nil {
		s.logger.Printf("scene %s: snapshot queue full at move %d", s.cfg.ID, rec.Seq)
	}
}
