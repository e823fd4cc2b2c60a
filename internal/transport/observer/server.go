package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"flipd.io/internal/observerproto"
	"flipd.io/internal/sim/scene"
)

const (
	handshakeTimeout = 5 * time.Second
	joinTimeout      = 2 * time.Second
	resetTimeout     = 2 * time.Second
	readIdleTimeout  = 60 * time.Second
	writeTimeout     = 5 * time.Second
)

type Server struct {
	scene *scene.Scene
	log   *log.Logger

	// AllowRemote serves non-loopback clients. Off by default.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(sc *scene.Scene, logger *log.Logger) *Server {
	return &Server{
		scene: sc,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.scene.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := decodeSubscribe(msg)
		if err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		depth := s.scene.Tuning().Observer.QueueDepth
		if depth <= 0 {
			depth = 1
		}
		frameOut := make(chan []byte, depth)
		joinResp := make(chan scene.ObserverJoinResp, 1)

		joinReq := scene.ObserverJoinRequest{
			SessionID:    sid,
			FrameOut:     frameOut,
			EveryNFrames: sub.EveryNFrames,
			IncludeLocal: sub.IncludeLocal,
			Resp:         joinResp,
		}
		select {
		case s.scene.ObserverJoin() <- joinReq:
		case <-time.After(joinTimeout):
			closeWith(conn, websocket.CloseTryAgainLater, observerproto.ErrSceneStopped)
			return
		}
		select {
		case jr := <-joinResp:
			if !jr.OK {
				code := websocket.ClosePolicyViolation
				if jr.Code == observerproto.ErrSceneBusy {
					code = websocket.CloseTryAgainLater
				}
				closeWith(conn, code, jr.Code)
				return
			}
		case <-time.After(joinTimeout):
			// The scene may still admit us later; make sure it forgets us.
			s.leave(sid)
			closeWith(conn, websocket.CloseTryAgainLater, observerproto.ErrSceneStopped)
			return
		}
		defer s.leave(sid)
		s.logf("observer %s joined scene=%s every=%d local=%v", sid, s.scene.ID(), sub.EveryNFrames, sub.IncludeLocal)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ctrlOut := make(chan []byte, 16)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ctrlOut:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				case b, ok := <-frameOut:
					if !ok {
						// Scene stopped or dropped the session.
						closeWith(conn, websocket.CloseGoingAway, observerproto.ErrSceneStopped)
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and RESET.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack, ok := s.handleClientMessage(sid, msg)
			if !ok {
				continue
			}
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case ctrlOut <- b:
			default:
				// Client is not reading; it will miss this ACK.
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.logf("observer %s left scene=%s", sid, s.scene.ID())
	}
}

// handleClientMessage applies one post-handshake message. It returns an ACK
// to send back, if any.
func (s *Server) handleClientMessage(sid string, msg []byte) (observerproto.AckMsg, bool) {
	base, err := observerproto.ValidateClient(msg)
	if err != nil {
		return errorAck("", observerproto.ErrProtoBadRequest, err.Error()), true
	}
	if base.ProtocolVersion != observerproto.Version {
		return errorAck("", observerproto.ErrProtoBadRequest, "unsupported protocol_version "+base.ProtocolVersion), true
	}

	switch base.Type {
	case observerproto.TypeSubscribe:
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			return errorAck("", observerproto.ErrProtoBadRequest, err.Error()), true
		}
		req := scene.ObserverSubscribeRequest{
			SessionID:    sid,
			EveryNFrames: sub.EveryNFrames,
			IncludeLocal: sub.IncludeLocal,
		}
		select {
		case s.scene.ObserverSubscribe() <- req:
		default:
			// Drop updates under load; the client may resend.
		}
		return observerproto.AckMsg{}, false

	case observerproto.TypeReset:
		var rm observerproto.ResetMsg
		if err := json.Unmarshal(msg, &rm); err != nil {
			return errorAck("", observerproto.ErrProtoBadRequest, err.Error()), true
		}
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		frame, err := s.scene.RequestReset(ctx)
		if err != nil {
			code := observerproto.ErrInternal
			if errors.Is(err, context.DeadlineExceeded) {
				code = observerproto.ErrSceneStopped
			}
			return errorAck(rm.RequestID, code, err.Error()), true
		}
		s.logf("observer %s reset scene=%s frame=%d", sid, s.scene.ID(), frame)
		return observerproto.AckMsg{
			Type:            observerproto.TypeAck,
			ProtocolVersion: observerproto.Version,
			RequestID:       rm.RequestID,
			OK:              true,
			Frame:           frame,
		}, true
	}
	return errorAck("", observerproto.ErrBadRequest, "unexpected "+base.Type), true
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	base, err := observerproto.ValidateClient(msg)
	if err != nil {
		return sub, fmt.Errorf("bad subscribe")
	}
	if base.Type != observerproto.TypeSubscribe || base.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("expected SUBSCRIBE")
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("bad subscribe")
	}
	return sub, nil
}

func errorAck(requestID, code, message string) observerproto.AckMsg {
	return observerproto.AckMsg{
		Type:            observerproto.TypeAck,
		ProtocolVersion: observerproto.Version,
		RequestID:       requestID,
		Code:            code,
		Message:         message,
	}
}

func (s *Server) leave(sid string) {
	select {
	case s.scene.ObserverLeave() <- sid:
	case <-time.After(joinTimeout):
		// Scene loop is stopping; nothing else to do.
	}
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || IsLoopbackRemote(r.RemoteAddr)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback
// address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
