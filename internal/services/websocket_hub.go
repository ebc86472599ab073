package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"stock-analytica/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const (
	EventPrice = "price"
	EventTrade = "trade"
)

// Event is the envelope of every websocket message.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Publisher receives domain events. The hub is the production implementation.
type Publisher interface {
	Publish(event string, data interface{})
}

type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	count      atomic.Int64
	log        *logger.Logger
}

type WebSocketClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
		log:        logger.New("ws"),
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Debug("Client connected. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Debug("Client disconnected. Total clients: %d", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow reader; drop it rather than stall everyone.
					close(client.send)
					delete(h.clients, client)
					h.count.Store(int64(len(h.clients)))
				}
			}
		}
	}
}

// Publish queues an event for every connected client. It never blocks: when
// the queue is full the event is dropped.
func (h *WebSocketHub) Publish(event string, data interface{}) {
	message, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		h.log.Error("Error marshaling %s event: %v", event, err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.log.Warning("Broadcast queue full, dropping %s event", event)
	}
}

// Clients is the number of connected clients.
func (h *WebSocketHub) Clients() int {
	return int(h.count.Load())
}

// RegisterClient hands conn to the hub. It returns nil, and closes conn, when
// the hub has already stopped.
func (h *WebSocketHub) RegisterClient(conn *websocket.Conn) *WebSocketClient {
	client := &WebSocketClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- client:
		return client
	case <-h.done:
		conn.Close()
		return nil
	}
}

// ReadPump discards client messages; it exists to process pongs and notice
// when the peer goes away.
func (c *WebSocketClient) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warning("WebSocket error: %v", err)
			}
			break
		}
	}
}

func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
