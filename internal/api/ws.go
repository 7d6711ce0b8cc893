package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pickupopt/internal/engine"
	"pickupopt/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage frames every message in both directions. Clients send
// "optimize" (payload: OptimizeRequest), "cancel" and "ping"; the server
// answers with "candidates" and "improved" progress, then "result" or
// "error", then "complete".
type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const wsReadTimeout = 60 * time.Second

// OptimizeWSHandler handles /v1/optimize/ws
func (s *Server) OptimizeWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	var (
		wmu     sync.Mutex
		jobsMu  sync.Mutex
		jobs    = map[string]context.CancelFunc{}
		running sync.WaitGroup
	)
	defer running.Wait()
	write := func(typ, id string, v any) error {
		var payload json.RawMessage
		if v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			payload = b
		}
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(wsMessage{Type: typ, ID: id, Payload: payload})
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "ping":
			_ = write("pong", msg.ID, nil)
		case "cancel":
			jobsMu.Lock()
			if cancel, ok := jobs[msg.ID]; ok {
				cancel()
			}
			jobsMu.Unlock()
		case "optimize":
			var req model.OptimizeRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				_ = write("error", msg.ID, wsError{Kind: "invalid_request", Message: err.Error()})
				_ = write("complete", msg.ID, nil)
				continue
			}
			if err := validateOptimizeRequest(&req, s.MaxWalkMinutes); err != nil {
				_ = write("error", msg.ID, wsError{Kind: "invalid_request", Message: err.Error()})
				_ = write("complete", msg.ID, nil)
				continue
			}
			jobsMu.Lock()
			if _, dup := jobs[msg.ID]; dup {
				jobsMu.Unlock()
				_ = write("error", msg.ID, wsError{Kind: "invalid_request", Message: "id already running"})
				_ = write("complete", msg.ID, nil)
				continue
			}
			jctx, cancel := context.WithCancel(ctx)
			jobs[msg.ID] = cancel
			jobsMu.Unlock()

			running.Add(1)
			go func(id string) {
				defer running.Done()
				defer func() {
					jobsMu.Lock()
					delete(jobs, id)
					jobsMu.Unlock()
					cancel()
				}()
				// progress runs on engine workers, so it only queues
				events := make(chan engine.Event, 64)
				forwarded := make(chan struct{})
				go func() {
					defer close(forwarded)
					for ev := range events {
						_ = write(string(ev.Kind), id, ev)
					}
				}()
				progress := func(ev engine.Event) {
					select {
					case events <- ev:
					default:
					}
				}
				resp, err := s.runOptimization(jctx, req, progress)
				close(events)
				<-forwarded
				if err != nil {
					_ = write("error", id, wsError{Kind: errorKind(err), Message: err.Error()})
				} else {
					_ = write("result", id, resp)
				}
				_ = write("complete", id, nil)
			}(msg.ID)
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring websocket message")
		}
	}
	cancelAll()
}
