package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // monitoring dashboards connect from anywhere
	},
}

// StreamHub fans witness alerts out to websocket subscribers. Alerts are
// rare (the best witness improves less and less often as the search
// deepens), so a client connecting mid-search could wait hours before
// seeing anything; the hub therefore remembers the latest alert and
// replays it to every new subscriber.
type StreamHub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	alerts    chan []byte
	lastAlert []byte
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		alerts:  make(chan []byte, 256),
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run delivers published alerts to all connected clients until the alert
// channel is closed.
func (h *StreamHub) Run() {
	for alert := range h.alerts {
		h.mu.Lock()
		for client := range h.clients {
			if !writeAlert(client, alert) {
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// writeAlert pushes one alert to one client, reporting failure so the hub
// can evict it. A blocked client must not hang the hub.
func writeAlert(client *websocket.Conn, alert []byte) bool {
	_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := client.WriteMessage(websocket.TextMessage, alert); err != nil {
		log.Printf("[Hub] Websocket write error: %v", err)
		return false
	}
	return true
}

// Subscribe upgrades an incoming connection, replays the latest witness
// alert so the client starts with the current best, and registers it for
// future alerts.
func (h *StreamHub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Hub] Failed to upgrade websocket: %v", err)
		return
	}

	h.mu.Lock()
	if h.lastAlert != nil && !writeAlert(conn, h.lastAlert) {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.mu.Unlock()
	log.Printf("[Hub] Client connected. Total clients: %d", clientCount)

	// The stream is push-only, but reads are required to notice
	// disconnects.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[Hub] Websocket error: %v", err)
				}
				return
			}
		}
	}()
}

// Publish records the alert as the latest snapshot and queues it for
// delivery to all connected clients.
func (h *StreamHub) Publish(alert []byte) {
	h.mu.Lock()
	h.lastAlert = alert
	h.mu.Unlock()
	h.alerts <- alert
}
