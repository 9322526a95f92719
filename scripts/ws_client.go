// Package main submits a solve to a running API and follows its progress
// over the WebSocket endpoint.
//
//	go run ./scripts -instance A-n32-k5-C11-V2.gvrp -variant strong
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cluvrp/internal/model"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	instance := flag.String("instance", "", "GVRP instance file")
	variant := flag.String("variant", "strong", "strong or weak")
	iterations := flag.Int("iterations", 200, "VNS restarts")
	token := flag.String("token", "demo:admin", "Bearer token")
	flag.Parse()
	if *instance == "" {
		logrus.Fatal("-instance is required")
	}
	raw, err := os.ReadFile(*instance)
	if err != nil {
		logrus.Fatal(err)
	}

	base := fmt.Sprintf("http://localhost:%s", port)
	body, _ := json.Marshal(model.RunRequest{
		Instance:   string(raw),
		Variant:    model.Variant(*variant),
		Iterations: *iterations,
	})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logrus.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		logrus.Fatalf("submit: %s", resp.Status)
	}
	var accepted struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("run", accepted.RunID).Info("run submitted")

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logrus.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		logrus.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]string{"runId": accepted.RunID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		logrus.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				logrus.WithError(err).Warn("read")
				return
			}
			switch m.Type {
			case "ping":
				_ = c.WriteJSON(wsMessage{Type: "pong"})
			case "complete":
				logrus.Info("run complete")
				return
			default:
				logrus.Infof("WS <- %s: %s", m.Type, string(m.Payload))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Minute):
		logrus.Warn("gave up waiting")
	}
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
