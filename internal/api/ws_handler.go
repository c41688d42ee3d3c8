package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	ws "github.com/mkovacs/mailroom/internal/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Single-host deployment; the daemon serves its own client.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocketHandler serves the progress event stream for one account.
type WebSocketHandler struct {
	hub    *ws.Hub
	logger *slog.Logger
}

// NewWebSocketHandler creates a WebSocketHandler.
func NewWebSocketHandler(hub *ws.Hub, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{hub: hub, logger: logger}
}

// Serve upgrades the connection and keeps it registered for the account's
// sync events until the client disconnects.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "account", accountID, "error", err)
		return
	}

	client := h.hub.Register(accountID, conn)
	if client == nil {
		return
	}
	defer h.hub.Unregister(accountID, client)

	// The stream is push-only. Reading drains client pings and detects
	// disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
