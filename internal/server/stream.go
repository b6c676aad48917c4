package server

import (
	"net/http"
	"time"

	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/UnknownOlympus/meydan/internal/service"
	"github.com/gorilla/websocket"
)

// StreamConfig tunes the display list stream.
type StreamConfig struct {
	WriteWait      time.Duration // Time allowed to write a message to the peer
	PongWait       time.Duration // Time allowed to read the next pong from the peer
	PingPeriod     time.Duration // Must be less than PongWait
	MaxMessageSize int64
}

// DefaultStreamConfig returns the stream defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 512,
	}
}

// streamEvents pushes the session snapshot on connect and after every recompute.
// Slow clients skip intermediate lists and always receive the latest one.
// An open stream keeps the session from being evicted.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer conn.Close()

	updates := make(chan struct{}, 1)
	unsubscribe := sess.Controller.Subscribe(func([]models.AnnotatedEvent) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go s.readPump(conn, done, sess.Touch)

	ticker := time.NewTicker(s.stream.PingPeriod)
	defer ticker.Stop()

	s.log.DebugContext(r.Context(), "Stream opened", "session", sess.ID)
	if err = s.writeSnapshot(conn, sess.Controller.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-done:
			s.log.DebugContext(r.Context(), "Stream closed by peer", "session", sess.ID)
			return
		case <-updates:
			sess.Touch()
			if err = s.writeSnapshot(conn, sess.Controller.Snapshot()); err != nil {
				s.log.DebugContext(r.Context(), "Stream write failed", "session", sess.ID, "error", err)
				return
			}
		case <-ticker.C:
			sess.Touch()
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.stream.WriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and signals done when the peer goes away.
// Every pong keeps the session alive.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}, touch func()) {
	defer close(done)

	conn.SetReadLimit(s.stream.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.stream.PongWait))
	conn.SetPongHandler(func(string) error {
		touch()
		return conn.SetReadDeadline(time.Now().Add(s.stream.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snapshot service.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.stream.WriteWait)); err != nil {
		return err
	}

	return conn.WriteJSON(newSnapshotView(snapshot))
}
