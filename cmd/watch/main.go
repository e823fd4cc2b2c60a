package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"flipd.io/internal/observerproto"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/observer/ws", "observer ws url")
		every = flag.Int("every", 30, "receive every n-th frame")
		local = flag.Bool("local", false, "request unspun lattice poses too")
		reset = flag.Bool("reset", false, "send RESET after the first frame")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		EveryNFrames:    *every,
		IncludeLocal:    *local,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	w := &watcher{conn: conn, logger: logger, wantReset: *reset}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				logger.Printf("closed code=%d reason=%s", ce.Code, ce.Text)
			}
			return
		}
		w.handle(msg)
	}
}

type watcher struct {
	conn   *websocket.Conn
	logger *log.Logger

	wantReset bool
	lastSeq   uint64
}

func (w *watcher) handle(msg []byte) {
	base, err := observerproto.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case observerproto.TypeFrame:
		var f observerproto.FrameMsg
		if err := json.Unmarshal(msg, &f); err != nil {
			return
		}
		w.handleFrame(&f)

	case observerproto.TypeAck:
		var a observerproto.AckMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			return
		}
		if a.OK {
			w.logger.Printf("ACK request=%s frame=%d", a.RequestID, a.Frame)
		} else {
			w.logger.Printf("ACK request=%s code=%s msg=%s", a.RequestID, a.Code, a.Message)
		}
	}
}

func (w *watcher) handleFrame(f *observerproto.FrameMsg) {
	if f.Active != nil && f.Active.Seq != w.lastSeq {
		w.lastSeq = f.Active.Seq
		w.logger.Printf("move seq=%d axis=%s layer=%d dir=%+d", f.Active.Seq, f.Active.Axis, f.Active.Layer, f.Active.Direction)
	}
	progress := 0.0
	if f.Active != nil {
		progress = f.Active.Progress
	}
	w.logger.Printf("FRAME frame=%d move_seq=%d progress=%.2f paused=%v spin=[%.3f %.3f %.3f] poses=%d local=%d",
		f.Frame, f.MoveSeq, progress, f.Paused, f.Spin[0], f.Spin[1], f.Spin[2], len(f.Poses), len(f.LocalPoses))

	if w.wantReset {
		w.wantReset = false
		req := observerproto.ResetMsg{
			Type:            observerproto.TypeReset,
			ProtocolVersion: observerproto.Version,
			RequestID:       "watch-reset",
		}
		if err := w.conn.WriteJSON(req); err != nil {
			w.logger.Printf("send RESET: %v", err)
		}
	}
}
