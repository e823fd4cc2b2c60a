package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	Ext     = ".snap.zst"
)

type Header struct {
	Version int    `json:"version"`
	SceneID string `json:"scene_id"`
	MoveSeq uint64 `json:"move_seq"`
	Frame   uint64 `json:"frame"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	RunID string `json:"run_id"`
	Seed  int64  `json:"seed"`

	// Operational parameters (captured for deterministic replay/resume).
	FrameRateHz    int        `json:"frame_rate_hz"`
	MoveDurationMs int        `json:"move_duration_ms"`
	IdleDelayMs    int        `json:"idle_delay_ms"`
	SpinRadPerSec  [3]float64 `json:"spin_rad_per_sec"`
	Spacing        float64    `json:"spacing"`

	Cubelets []CubeletV1 `json:"cubelets"`
	Active   *MoveV1     `json:"active,omitempty"`
	PrevAxis string      `json:"prev_axis,omitempty"`
	Spin     [3]float64  `json:"spin"`
	Frame    uint64      `json:"frame"`
	MoveSeq  uint64      `json:"move_seq"`
}

type CubeletV1 struct {
	ID     string     `json:"id"`
	Origin [3]int     `json:"origin"`
	Grid   [3]int     `json:"grid"`
	Pos    [3]float64 `json:"pos"`
	Orient [9]float64 `json:"orient"`
}

type MoveV1 struct {
	Seq        uint64  `json:"seq"`
	Axis       string  `json:"axis"`
	Layer      int     `json:"layer"`
	Direction  int     `json:"direction"`
	Progress   float64 `json:"progress"`
	Swept      float64 `json:"swept"`
	StartFrame uint64  `json:"start_frame"`
}

// FileName is the canonical file name for a snapshot taken at moveSeq.
func FileName(moveSeq uint64) string {
	return fmt.Sprintf("%d%s", moveSeq, Ext)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file first so readers never see a torn snapshot.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line duplicates what gob carries; it is only there for tools
	// that want to peek without decoding.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Latest returns the snapshot in dir with the highest move sequence, or ""
// when there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestSeq uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, Ext) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, Ext), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			bestSeq = seq
			best = filepath.Join(dir, name)
		}
	}
	return best
}
