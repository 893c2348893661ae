// Package feed broadcasts experiment outcomes and lifecycle changes to
// websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/metrics"
)

// Connection is a single subscriber websocket.
type Connection struct {
	ID           string
	ExperimentID string
	Conn         *websocket.Conn
	Send         chan []byte
	mu           sync.Mutex
}

// Hub groups connections by experiment id.
type Hub struct {
	connections map[string]*Connection
	topics      map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *topicMessage
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

type topicMessage struct {
	ExperimentID string
	Data         []byte
}

// NewHub creates a new Hub. Call Run to start delivering messages.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *topicMessage, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every remaining connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, conn := range h.connections {
			close(conn.Send)
			delete(h.connections, id)
		}
		h.topics = make(map[string]map[string]bool)
		h.mu.Unlock()
		metrics.FeedSubscribers.Set(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.topics[conn.ExperimentID] == nil {
				h.topics[conn.ExperimentID] = make(map[string]bool)
			}
			h.topics[conn.ExperimentID][conn.ID] = true
			count := len(h.connections)
			h.mu.Unlock()
			metrics.FeedSubscribers.Set(float64(count))
			h.logger.Debug("feed subscriber registered",
				slog.String("connection_id", conn.ID),
				slog.String("experiment_id", conn.ExperimentID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if ids := h.topics[conn.ExperimentID]; ids != nil {
					delete(ids, conn.ID)
					if len(ids) == 0 {
						delete(h.topics, conn.ExperimentID)
					}
				}
				close(conn.Send)
			}
			count := len(h.connections)
			h.mu.Unlock()
			metrics.FeedSubscribers.Set(float64(count))
			h.logger.Debug("feed subscriber unregistered", slog.String("connection_id", conn.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.topics[msg.ExperimentID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					h.logger.Warn("feed subscriber buffer full, closing",
						slog.String("connection_id", connID),
						slog.String("experiment_id", msg.ExperimentID))
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection subscribed to one experiment.
func (h *Hub) NewConnection(ws *websocket.Conn, experimentID string) *Connection {
	return &Connection{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Conn:         ws,
		Send:         make(chan []byte, 256),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues a feed message for the experiment's subscribers. It never
// blocks the caller: when the queue is full the message is dropped.
func (h *Hub) Publish(msg domain.FeedMessage) {
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to encode feed message",
			slog.String("experiment_id", msg.ExperimentID),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- &topicMessage{ExperimentID: msg.ExperimentID, Data: data}:
	default:
		h.logger.Warn("feed queue full, dropping message",
			slog.String("experiment_id", msg.ExperimentID),
			slog.String("type", string(msg.Type)))
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Subscribers returns the number of connections watching an experiment.
func (h *Hub) Subscribers(experimentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[experimentID])
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
