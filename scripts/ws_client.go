// Package main runs a demo WebSocket client that streams one optimization.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pickupopt/internal/logging"
	"pickupopt/internal/model"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	var (
		network = flag.String("network", "manhattan", "loaded road network name")
		from    = flag.String("from", "Times Square, New York", "origin address")
		to      = flag.String("to", "Empire State Building, New York", "destination address")
		walk    = flag.Float64("walk", 5, "maximum walking minutes")
	)
	flag.Parse()
	logging.Setup("info", true)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/optimize/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", u.String()).Msg("dial")
	}
	defer func() { _ = conn.Close() }()

	payload, _ := json.Marshal(model.OptimizeRequest{
		Network:        *network,
		Origin:         model.PlaceIn{Address: *from},
		Destination:    model.PlaceIn{Address: *to},
		MaxWalkMinutes: *walk,
	})
	if err := conn.WriteJSON(wsMessage{Type: "optimize", ID: "demo", Payload: payload}); err != nil {
		log.Fatal().Err(err).Msg("send")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Fatal().Err(err).Msg("read")
		}
		switch msg.Type {
		case "result", "error":
			fmt.Println(string(msg.Payload))
		case "complete":
			return
		default:
			log.Info().Str("type", msg.Type).RawJSON("payload", msg.Payload).Msg("progress")
		}
	}
}
