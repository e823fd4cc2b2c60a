package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"flipd.io/internal/sim/scene"
)

// ScanJSONL decodes every line of a zstd JSONL file and hands the raw bytes
// to fn. Scanning stops at the first error fn returns.
func ScanJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadMoves returns every move entry under dir in log order.
func ReadMoves(dir string) ([]scene.MoveLogEntry, error) {
	return readAll[scene.MoveLogEntry](dir, MovesDir)
}

func readAll[T any](dir, prefix string) ([]T, error) {
	files, err := ListFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, path := range files {
		err := ScanJSONL(path, func(line []byte) error {
			var e T
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
