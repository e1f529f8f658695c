package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// wsMessage повторяет сообщения /ws слушателя.
type wsMessage struct {
	Type       string          `json:"type"`
	CycleID    string          `json:"cycle_id"`
	Initial    bool            `json:"initial"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error"`
	Datasets   []wsDatasetInfo `json:"datasets"`
}

type wsDatasetInfo struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Source string    `json:"source"`
	Name   string    `json:"name"`
	Length int       `json:"length"`
	LastTS time.Time `json:"last_ts"`
}

func main() {
	var (
		raw    bool
		limit  int
		urlStr string
	)
	flag.StringVar(&urlStr, "url", "ws://127.0.0.1:8090/ws", "WebSocket URL of raspberry-listener")
	flag.BoolVar(&raw, "raw", false, "print raw JSON messages")
	flag.IntVar(&limit, "limit", 0, "stop after N sync messages (0 = infinite)")
	flag.Parse()

	u, err := url.Parse(urlStr)
	if err != nil {
		log.Fatalf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		log.Fatalf("url must start with ws:// or wss://")
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to %s", urlStr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	syncSeen := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("connection closed by peer")
				return
			}
			log.Fatalf("read: %v", err)
		}
		if raw {
			fmt.Println(string(payload))
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("invalid json: %v", err)
			continue
		}
		switch strings.ToLower(msg.Type) {
		case "hello":
			log.Printf("hello: %d datasets", len(msg.Datasets))
			for _, d := range msg.Datasets {
				log.Printf("  %s %s/%s id=%s length=%d last=%s", d.Kind, d.Source, d.Name, d.ID, d.Length, d.LastTS.Format(time.RFC3339))
			}
		case "sync":
			syncSeen++
			if msg.Error != "" {
				log.Printf("sync %s failed after %dms: %s", msg.CycleID, msg.DurationMs, msg.Error)
			} else {
				log.Printf("sync %s initial=%t done in %dms", msg.CycleID, msg.Initial, msg.DurationMs)
			}
			if limit > 0 && syncSeen >= limit {
				log.Printf("limit reached (%d sync messages), exiting", limit)
				return
			}
		default:
			log.Printf("message type=%s (ignored)", msg.Type)
		}
	}
}
