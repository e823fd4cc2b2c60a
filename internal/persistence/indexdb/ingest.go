package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flipd.io/internal/persistence/snapshot"
	"flipd.io/internal/sim/scene"
	"flipd.io/internal/sim/tuning"
)

// IngestConfig configures an index that ships rows to a remote HTTP ingest
// endpoint in JSON batches instead of a local sqlite file.
type IngestConfig struct {
	Endpoint      string
	Token         string
	SceneID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained bounds how many events are kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDroppedTotal  atomic.Uint64
	retainDroppedTotal atomic.Uint64
	flushOKTotal       atomic.Uint64
	flushFailTotal     atomic.Uint64
}

type IngestStats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
	QueueDroppedTotal  uint64 `json:"queue_dropped_total"`
	RetainDroppedTotal uint64 `json:"retain_dropped_total"`
	FlushOKTotal       uint64 `json:"flush_ok_total"`
	FlushFailTotal     uint64 `json:"flush_fail_total"`
}

type ingestEvent struct {
	Kind    string `json:"kind"`
	SceneID string `json:"scene_id"`
	Payload any    `json:"payload"`
}

type ingestSnapshotPayload struct {
	RunID      string `json:"run_id"`
	MoveSeq    uint64 `json:"move_seq"`
	Frame      uint64 `json:"frame"`
	Path       string `json:"path"`
	Seed       int64  `json:"seed"`
	Active     bool   `json:"active"`
	RecordedAt string `json:"recorded_at"`
}

type ingestTuningPayload struct {
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.SceneID = strings.TrimSpace(cfg.SceneID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.SceneID == "" {
		return nil, fmt.Errorf("empty scene id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 8 * cfg.BatchSize
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, 8192),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:         len(d.ch),
		QueueCapacity:      cap(d.ch),
		QueueDroppedTotal:  d.queueDroppedTotal.Load(),
		RetainDroppedTotal: d.retainDroppedTotal.Load(),
		FlushOKTotal:       d.flushOKTotal.Load(),
		FlushFailTotal:     d.flushFailTotal.Load(),
	}
}

func (d *IngestIndex) WriteRun(entry scene.RunEntry) error {
	d.enqueue(ingestEvent{Kind: "run", SceneID: d.cfg.SceneID, Payload: entry})
	return nil
}

func (d *IngestIndex) WriteMove(entry scene.MoveLogEntry) error {
	d.enqueue(ingestEvent{Kind: "move", SceneID: d.cfg.SceneID, Payload: entry})
	return nil
}

func (d *IngestIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	d.enqueue(ingestEvent{Kind: "snapshot", SceneID: d.cfg.SceneID, Payload: ingestSnapshotPayload{
		RunID:      snap.RunID,
		MoveSeq:    snap.Header.MoveSeq,
		Frame:      snap.Header.Frame,
		Path:       path,
		Seed:       snap.Seed,
		Active:     snap.Active != nil,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

func (d *IngestIndex) UpsertTuning(tune tuning.Tuning) error {
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(ingestEvent{Kind: "tuning", SceneID: d.cfg.SceneID, Payload: ingestTuningPayload{
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *IngestIndex) enqueue(ev ingestEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDroppedTotal.Add(1)
		d.printf("ingest index queue full; drop kind=%s scene=%s", ev.Kind, ev.SceneID)
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFailTotal.Add(1)
			d.printf("ingest index flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch for the next flush, dropping the oldest events
			// past the retention bound.
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDroppedTotal.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOKTotal.Add(1)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-flipd-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
