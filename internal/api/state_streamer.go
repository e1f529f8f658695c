package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pv/raspberry-listener-go/internal/dataset"
	"github.com/pv/raspberry-listener-go/internal/logging"
	"github.com/pv/raspberry-listener-go/internal/metrics"
	"github.com/pv/raspberry-listener-go/internal/worker"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// DatasetInfo: краткое описание набора данных. ID: hash идентификатора,
// по нему набор доступен через /api/datasets/by-id/{id}. В JSON передаётся
// строкой, так как int64 не помещается в число JavaScript.
type DatasetInfo struct {
	ID     int64     `json:"id,string"`
	Kind   string    `json:"kind"`
	Unit   string    `json:"unit"`
	Source string    `json:"source"`
	Name   string    `json:"name"`
	Length int       `json:"length"`
	LastTS time.Time `json:"last_ts,omitempty"`
}

type wsMessage struct {
	Type       string        `json:"type"`
	CycleID    string        `json:"cycle_id,omitempty"`
	Initial    bool          `json:"initial,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	Error      string        `json:"error,omitempty"`
	Datasets   []DatasetInfo `json:"datasets,omitempty"`
}

// EventHub рассылает события завершения циклов клиентам WebSocket.
// После события клиент перечитывает изменившиеся наборы через /api/datasets.
type EventHub struct {
	catalog  *dataset.Catalog
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub создаёт хаб. catalog может быть nil: тогда события без списка наборов.
func NewEventHub(catalog *dataset.Catalog) *EventHub {
	return &EventHub{
		catalog: catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logging.With("ws"),
		clients: map[*wsClient]struct{}{},
	}
}

// Publish рассылает событие завершения цикла.
func (h *EventHub) Publish(c worker.Completion) {
	msg := wsMessage{
		Type:       "sync",
		CycleID:    c.ID.String(),
		Initial:    c.Initial,
		FinishedAt: c.Finished,
		DurationMs: c.Duration().Milliseconds(),
	}
	if c.Err != nil {
		msg.Error = c.Err.Error()
	} else {
		msg.Datasets = ListDatasets(h.catalog)
	}
	h.broadcast(msg)
}

// Clients возвращает число подключённых клиентов.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS апгрейдит соединение и отправляет клиенту текущий список наборов.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	hello, err := json.Marshal(wsMessage{Type: "hello", Datasets: ListDatasets(h.catalog)})
	if err == nil {
		client.send <- hello
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go h.writePump(client)
	h.readPump(client)
}

func (h *EventHub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket message encode failed")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// медленный клиент
			h.removeLocked(c)
		}
	}
}

func (h *EventHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *EventHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// readPump держит соединение до закрытия клиентом; входящие сообщения игнорируются.
func (h *EventHub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListDatasets перечисляет наборы всех величин каталога.
func ListDatasets(c *dataset.Catalog) []DatasetInfo {
	if c == nil {
		return nil
	}
	var out []DatasetInfo
	for _, kind := range c.Kinds() {
		st, ok := c.Lookup(kind)
		if !ok {
			continue
		}
		for _, id := range st.Identifiers() {
			info := DatasetInfo{
				ID:     id.Hash(),
				Kind:   kind.String(),
				Unit:   kind.Unit(),
				Source: id.Source,
				Name:   id.Name,
				Length: st.Len(id),
			}
			if ts, ok := st.LastTimestamp(id); ok {
				info.LastTS = ts
			}
			out = append(out, info)
		}
	}
	return out
}
