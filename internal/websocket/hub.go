package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/model"
)

// Client represents one WebSocket subscriber for a job's frames.
type Client struct {
	JobID string
	Send  chan []byte
}

// Hub maintains active WebSocket connections grouped by job.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	log *zap.SugaredLogger
	mu  sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debugw("client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()
			h.log.Debugw("client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) send(jobID string, frame model.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Errorw("failed to marshal frame", "kind", frame.Kind, "error", err)
		return
	}
	h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}
}

// BroadcastStatus sends a status_update frame to all job subscribers.
func (h *Hub) BroadcastStatus(jobID string, status model.JobStatus, processed, total int) {
	h.send(jobID, model.ServerFrame{
		Kind:  model.FrameKindStatusUpdate,
		JobID: jobID,
		Data: model.StatusUpdateData{
			Status:         status,
			ProcessedFiles: processed,
			TotalFiles:     total,
		},
	})
}

// BroadcastProgress sends a processing_progress frame to all job subscribers.
func (h *Hub) BroadcastProgress(jobID, stage string, current, total int, message string) {
	h.send(jobID, model.ServerFrame{
		Kind:  model.FrameKindProcessingProgress,
		JobID: jobID,
		Data: model.ProcessingProgressData{
			Stage:   stage,
			Current: current,
			Total:   total,
			Message: message,
		},
	})
}

// BroadcastError sends an error frame to all job subscribers.
func (h *Hub) BroadcastError(jobID, message string) {
	h.send(jobID, model.ServerFrame{
		Kind:  model.FrameKindError,
		JobID: jobID,
		Data:  model.ErrorData{Message: message},
	})
}

// WritePump drains the client's send channel onto the connection, with a
// keep-alive ping. Returns when the channel closes or a write fails.
func (c *Client) WritePump(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
