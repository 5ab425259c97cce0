// Package streaming fans out task lifecycle updates to connected
// websocket observers. It is ambient tooling layered on top of the
// controller's watch_task primitive, not a substitute for it: a
// disconnected observer never blocks a task's own suspending waiter.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/logger"
)

// Client represents a websocket observer connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	keys map[string]bool
	send chan []byte
	hub  *Hub
	mu   sync.RWMutex
	log  *logger.Logger
}

// NewClient wraps an upgraded connection as a hub-managed Client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		keys: make(map[string]bool),
		send: make(chan []byte, 256),
		hub:  hub,
		log:  log.WithFields(zap.String("client_id", id)),
	}
}

// TaskUpdate is the payload broadcast to observers subscribed to a task.
type TaskUpdate struct {
	SsnID  int64  `json:"ssn_id"`
	TaskID int64  `json:"task_id"`
	State  string `json:"state"`
}

func taskKey(ssnID, taskID int64) string {
	return fmt.Sprintf("%d:%d", ssnID, taskID)
}

// Hub manages all connected observers and routes task updates to the
// clients subscribed to that task.
type Hub struct {
	clients     map[*Client]bool
	taskClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *TaskUpdate

	mu  sync.RWMutex
	log *logger.Logger
}

// NewHub builds an idle Hub; call Run to start its processing loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		taskClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *TaskUpdate, 256),
		log:         log.WithFields(zap.String("component", "streaming_hub")),
	}
}

// Run processes register/unregister/broadcast events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("streaming hub started")
	defer h.log.Info("streaming hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.taskClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				for key := range c.keys {
					if clients, ok := h.taskClients[key]; ok {
						delete(clients, c)
						if len(clients) == 0 {
							delete(h.taskClients, key)
						}
					}
				}
			}
			h.mu.Unlock()

		case update := <-h.broadcast:
			key := taskKey(update.SsnID, update.TaskID)
			h.mu.RLock()
			clients := h.taskClients[key]
			h.mu.RUnlock()
			if len(clients) == 0 {
				continue
			}

			data, err := json.Marshal(update)
			if err != nil {
				h.log.Error("failed to marshal task update", zap.Error(err))
				continue
			}

			for c := range clients {
				select {
				case c.send <- data:
				default:
					h.mu.Lock()
					close(c.send)
					delete(h.clients, c)
					for k := range c.keys {
						if tc, ok := h.taskClients[k]; ok {
							delete(tc, c)
							if len(tc) == 0 {
								delete(h.taskClients, k)
							}
						}
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast publishes a task update to every observer subscribed to it.
func (h *Hub) Broadcast(ssnID, taskID int64, state string) {
	h.broadcast <- &TaskUpdate{SsnID: ssnID, TaskID: taskID, State: state}
}

func (h *Hub) subscribe(c *Client, ssnID, taskID int64) {
	key := taskKey(ssnID, taskID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.taskClients[key]; !ok {
		h.taskClients[key] = make(map[*Client]bool)
	}
	h.taskClients[key][c] = true
}

func (h *Hub) unsubscribe(c *Client, ssnID, taskID int64) {
	key := taskKey(ssnID, taskID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.taskClients[key]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.taskClients, key)
		}
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
