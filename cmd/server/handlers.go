package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"flipd.io/internal/sim/scene"
	"flipd.io/internal/transport/observer"
)

type httpDeps struct {
	scene  *scene.Scene
	idx    runtimeIndex
	logger *log.Logger

	enableAdmin    bool
	enablePprof    bool
	observerRemote bool
}

func newMux(d httpDeps) *http.ServeMux {
	sc := d.scene
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeSceneMetrics(rw, sc.Metrics())
		writeIndexMetrics(rw, sc.ID(), d.idx)
	})

	if d.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !observer.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				SceneID string        `json:"scene_id"`
				Frame   uint64        `json:"frame"`
				Metrics scene.Metrics `json:"metrics"`
			}{
				SceneID: sc.ID(),
				Frame:   sc.CurrentFrame(),
				Metrics: sc.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", adminPost(func(ctx context.Context) (map[string]any, error) {
			seq, err := sc.RequestSnapshot(ctx)
			return map[string]any{"move_seq": seq}, err
		}))
		mux.HandleFunc("/admin/v1/reset", adminPost(func(ctx context.Context) (map[string]any, error) {
			frame, err := sc.RequestReset(ctx)
			return map[string]any{"frame": frame, "run_id": sc.RunID()}, err
		}))
		mux.HandleFunc("/admin/v1/pause", adminPost(func(ctx context.Context) (map[string]any, error) {
			frame, err := sc.RequestPause(ctx, true)
			return map[string]any{"frame": frame, "paused": true}, err
		}))
		mux.HandleFunc("/admin/v1/resume", adminPost(func(ctx context.Context) (map[string]any, error) {
			frame, err := sc.RequestPause(ctx, false)
			return map[string]any{"frame": frame, "paused": false}, err
		}))
	} else if d.logger != nil {
		d.logger.Printf("admin endpoints disabled (FLIPD_ENABLE_ADMIN_HTTP=false)")
	}
	if d.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else if d.logger != nil {
		d.logger.Printf("pprof endpoints disabled (FLIPD_ENABLE_PPROF_HTTP=false)")
	}

	obsSrv := observer.NewServer(sc, d.logger)
	obsSrv.AllowRemote = d.observerRemote
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())
	return mux
}

// adminPost wraps a scene request as a loopback-only POST endpoint that
// answers {"ok":..., <fields>}.
func adminPost(fn func(ctx context.Context) (map[string]any, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		out, err := fn(ctx)
		if out == nil {
			out = map[string]any{}
		}
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			out["ok"] = false
			out["error"] = err.Error()
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(out)
			return
		}
		out["ok"] = true
		_ = json.NewEncoder(rw).Encode(out)
	}
}

func writeSceneMetrics(rw http.ResponseWriter, m scene.Metrics) {
	id := m.SceneID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP flipd_scene_frame Current scene frame.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_frame gauge\n")
	fmt.Fprintf(rw, "flipd_scene_frame{scene=%q} %d\n", id, m.Frame)

	fmt.Fprintf(rw, "# HELP flipd_scene_move_seq Moves started in the current run.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_move_seq gauge\n")
	fmt.Fprintf(rw, "flipd_scene_move_seq{scene=%q} %d\n", id, m.MoveSeq)

	fmt.Fprintf(rw, "# HELP flipd_scene_moves_total Moves completed since process start.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_moves_total counter\n")
	fmt.Fprintf(rw, "flipd_scene_moves_total{scene=%q} %d\n", id, m.MovesTotal)

	fmt.Fprintf(rw, "# HELP flipd_scene_resets_total Resets since process start.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_resets_total counter\n")
	fmt.Fprintf(rw, "flipd_scene_resets_total{scene=%q} %d\n", id, m.ResetTotal)

	fmt.Fprintf(rw, "# HELP flipd_scene_active Whether a layer move is in flight.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_active gauge\n")
	fmt.Fprintf(rw, "flipd_scene_active{scene=%q} %d\n", id, b2i(m.Active))

	fmt.Fprintf(rw, "# HELP flipd_scene_paused Whether the engine is paused.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_paused gauge\n")
	fmt.Fprintf(rw, "flipd_scene_paused{scene=%q} %d\n", id, b2i(m.Paused))

	fmt.Fprintf(rw, "# HELP flipd_scene_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_observers gauge\n")
	fmt.Fprintf(rw, "flipd_scene_observers{scene=%q} %d\n", id, m.Observers)

	fmt.Fprintf(rw, "# HELP flipd_scene_pending_timers Scheduled engine callbacks.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_pending_timers gauge\n")
	fmt.Fprintf(rw, "flipd_scene_pending_timers{scene=%q} %d\n", id, m.PendingTimers)

	fmt.Fprintf(rw, "# HELP flipd_scene_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_queue_depth gauge\n")
	fmt.Fprintf(rw, "flipd_scene_queue_depth{scene=%q,queue=%q} %d\n", id, "observer_join", m.QueueDepths.ObserverJoin)
	fmt.Fprintf(rw, "flipd_scene_queue_depth{scene=%q,queue=%q} %d\n", id, "observer_leave", m.QueueDepths.ObserverLeave)
	fmt.Fprintf(rw, "flipd_scene_queue_depth{scene=%q,queue=%q} %d\n", id, "admin", m.QueueDepths.Admin)

	fmt.Fprintf(rw, "# HELP flipd_scene_step_ms Last frame step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE flipd_scene_step_ms gauge\n")
	fmt.Fprintf(rw, "flipd_scene_step_ms{scene=%q} %.3f\n", id, m.StepMS)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
