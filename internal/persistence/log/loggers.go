package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"flipd.io/internal/sim/scene"
)

// Per-scene log directories; each is also the file prefix.
const (
	MovesDir = "moves"
	RunsDir  = "runs"
)

const logExt = ".jsonl.zst"

// JSONLZstdWriter appends JSON lines to <baseDir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst,
// opening a new file each UTC hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Appending starts a new zstd frame; readers decode concatenated frames.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, w.prefix+"-"+hour+logExt)
}

// ListFiles returns the <prefix>-*.jsonl.zst files in dir, oldest first. The
// hour stamp in the name sorts lexically.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, logExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

var errUnkeyed = errors.New("entry has no run id")

// MoveLogger writes one JSONL entry per completed move (compressed). Replay
// finds moves by (run_id, seq), so entries missing either are refused.
type MoveLogger struct{ w *JSONLZstdWriter }

func NewMoveLogger(sceneDir string) *MoveLogger {
	return &MoveLogger{w: NewJSONLZstdWriter(filepath.Join(sceneDir, MovesDir), MovesDir)}
}

func (l *MoveLogger) WriteMove(v scene.MoveLogEntry) error {
	if v.RunID == "" {
		return fmt.Errorf("move %d: %w", v.Seq, errUnkeyed)
	}
	if v.Seq == 0 {
		return fmt.Errorf("move in run %s has seq 0", v.RunID)
	}
	return l.w.Write(v)
}

func (l *MoveLogger) Close() error { return l.w.Close() }

// RunLogger writes one JSONL entry per run start, reset or resume (compressed).
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(sceneDir string) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(sceneDir, RunsDir), RunsDir)}
}

func (l *RunLogger) WriteRun(v scene.RunEntry) error {
	if v.RunID == "" {
		return fmt.Errorf("%s run: %w", v.Reason, errUnkeyed)
	}
	return l.w.Write(v)
}

func (l *RunLogger) Close() error { return l.w.Close() }
