package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"stock-analytica/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard is served from another origin
	},
}

type WebSocketHandler struct {
	hub *services.WebSocketHub
}

func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Serve upgrades the request and subscribes it to price and trade events.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		log.Warning("Failed to upgrade connection: %v", err)
		return
	}

	client := h.hub.RegisterClient(conn)
	if client == nil {
		return
	}
	log.Debug("WebSocket connection established from %s", c.ClientIP())

	go client.WritePump()
	go client.ReadPump()
}
