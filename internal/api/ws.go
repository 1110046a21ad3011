package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/internal/eventbus"
	"marketdash/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// handleJobWebSocket streams one job's lifecycle events to the client:
// an initial status snapshot, then progress updates until the job reaches
// a terminal state or the client goes away. Auth uses the token query
// parameter since browsers cannot set headers on websocket requests.
func (s *Server) handleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	owner := ownerFrom(r)

	// Tenancy check before the upgrade so strangers get a plain 404.
	status, err := s.orch.GetJob(r.Context(), owner, jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := make(chan eventbus.Event, 64)
	s.bus.SubscribeAll(events)
	defer s.bus.Unsubscribe(events)

	// Reader goroutine: we never expect client frames, but reading is how
	// gorilla surfaces close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeWS(conn, wsMessage{Type: "snapshot", Payload: status}); err != nil {
		return
	}
	if models.TerminalJobStatus(status.Status) {
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt := <-events:
			if evt.JobID != jobID.String() || evt.OwnerID != owner {
				continue
			}
			if err := writeWS(conn, wsMessage{Type: evt.Type, Payload: evt.Data}); err != nil {
				return
			}
			if evt.Type == eventbus.TypeJobCompleted || evt.Type == eventbus.TypeJobFailed {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
