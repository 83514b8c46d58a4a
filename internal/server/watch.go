package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CLI and local tooling connect without an Origin header
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWatch streams job snapshots over a websocket until the job is
// terminal or the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.jobs.Status(id)
	if err != nil {
		s.writeJobErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()
	// Clear the server's ReadTimeout inherited from the hijacked connection.
	_ = conn.SetReadDeadline(time.Time{})

	// Reads only detect the client closing the stream.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if snap.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			// Let the client acknowledge the close before tearing down.
			select {
			case <-gone:
			case <-time.After(time.Second):
			}
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if snap, err = s.jobs.Status(id); err != nil {
			// Removed while watched.
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "job removed")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
