package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/review"
)

const (
	writeTimeout   = 10 * time.Second
	sendBufferSize = 32
)

// StreamEvent is one workflow transition pushed to connected dashboards
type StreamEvent struct {
	CandidateID  string         `json:"candidate_id"`
	PatientID    string         `json:"patient_id"`
	HAIType      domain.HAIType `json:"hai_type"`
	State        string         `json:"state"`
	Undetermined bool           `json:"undetermined,omitempty"`
	At           time.Time      `json:"at"`
}

// streamClient owns one connection. All writes go through send and a single
// writer goroutine; the websocket connection permits only one concurrent
// writer.
type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// writeLoop drains the send channel onto the connection and closes it when
// the channel is closed or a write fails
func (c *streamClient) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// Hub fans workflow transitions out to websocket subscribers
type Hub struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// NewHub creates a new websocket hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// HandleStream upgrades the request and keeps the connection registered
// until the client disconnects
func (h *Hub) HandleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", count).Debug("Stream client connected")

	go client.writeLoop()

	// The read loop exists only to observe the close.
	go func() {
		defer h.drop(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast queues an event for every connected client. A client whose
// buffer is full is too slow to keep up and is dropped.
func (h *Hub) Broadcast(event StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode stream event")
		return
	}

	// Sends and channel closes both happen under the lock, so a queued send
	// can never race a concurrent drop.
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			client.close()
		}
	}
}

// WorkflowListener adapts the hub to the review manager's listener interface
func (h *Hub) WorkflowListener() review.Listener {
	return func(_ context.Context, c *domain.Candidate, w *domain.Workflow) {
		h.Broadcast(StreamEvent{
			CandidateID:  c.ID.String(),
			PatientID:    c.PatientID,
			HAIType:      c.Type,
			State:        w.State.String(),
			Undetermined: w.Undetermined,
			At:           w.UpdatedAt,
		})
	}
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}

func (h *Hub) drop(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
}
