package relay

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for the relay.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a handler backed by a connection manager.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleConnection upgrades the request and hands the socket to the
// connection manager. No authentication: room codes are the only
// admission control.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		// The upgrader has already written its own error response.
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
	}
}

// HandleStats reports live connection and room counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.registry.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections": h.connectionManager.ConnectionCount(),
		"rooms":       stats.Rooms,
		"players":     stats.Members,
	})
}

// RegisterRoutes mounts the relay endpoints on a mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/stats", h.HandleStats)
}
