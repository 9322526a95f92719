package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cluvrp/internal/model"
)

// WebSocket protocol for run progress, shaped like graphql-transport-ws:
// connection_init -> connection_ack, subscribe{runId} -> next* -> complete.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	RunID string `json:"runId"`
}

const wsReadTimeout = 60 * time.Second

// WSHandler handles /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla allows one concurrent writer
	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	writeErr := func(id, msg string) {
		b, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: b})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	type sub struct {
		runID string
		ch    chan SSEEvent
	}
	var smu sync.Mutex
	subs := map[string]sub{}
	drop := func(id string) {
		smu.Lock()
		s0, ok := subs[id]
		delete(subs, id)
		smu.Unlock()
		if ok {
			s.Broker.Unsubscribe(s0.runID, s0.ch)
		}
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		smu.Lock()
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		smu.Unlock()
		for _, id := range ids {
			drop(id)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("websocket read")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.RunID == "" {
				writeErr(msg.ID, "runId required")
				continue
			}
			smu.Lock()
			_, dup := subs[msg.ID]
			smu.Unlock()
			if dup {
				writeErr(msg.ID, "subscription id already in use")
				continue
			}
			if _, ok := s.Runs.Get(pl.RunID); !ok {
				writeErr(msg.ID, "run not found")
				continue
			}
			ch := s.Broker.Subscribe(pl.RunID)
			smu.Lock()
			subs[msg.ID] = sub{runID: pl.RunID, ch: ch}
			smu.Unlock()
			go s.forwardRun(msg.ID, pl.RunID, ch, write, drop)
		case "complete":
			drop(msg.ID)
		}
	}
}

// runPollInterval is how often followers re-read the registry in case the
// broker lost the done event.
var runPollInterval = 5 * time.Second

// forwardRun relays run events as next messages and completes after the
// done event. A run that already finished gets its final state at once.
func (s *Server) forwardRun(id, runID string, ch chan SSEEvent, write func(wsMessage) error, drop func(string)) {
	defer drop(id)
	next := func(evt SSEEvent) error {
		b, _ := json.Marshal(evt)
		return write(wsMessage{Type: "next", ID: id, Payload: b})
	}
	finish := func(run model.Run) {
		_ = next(doneEvent(run))
		_ = write(wsMessage{Type: "complete", ID: id})
	}
	if run, ok := s.Runs.Get(runID); ok && terminal(run.Status) {
		finish(run)
		return
	}
	poll := time.NewTicker(runPollInterval)
	defer poll.Stop()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
			if err := next(evt); err != nil || evt.Type == EventDone {
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
		case <-poll.C:
			run, ok := s.Runs.Get(runID)
			if !ok {
				_ = write(wsMessage{Type: "complete", ID: id})
				return
			}
			if terminal(run.Status) {
				finish(run)
				return
			}
		}
	}
}
