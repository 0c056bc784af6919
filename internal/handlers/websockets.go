package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"visionrelay/internal/logger"
	hub "visionrelay/internal/services/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler subscribes a viewer to live detection results. The hub
// pings the viewer and drops it once pongs stop arriving.
func ViewWebsocketHandler(h *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		h.ServeViewer(r.Context(), connection)
	}
}
