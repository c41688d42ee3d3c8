package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkovacs/mailroom/internal/models"
)

// Client wraps one WebSocket connection subscribed to an account's events.
type Client struct {
	// ID identifies the connection in logs.
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages active WebSocket connections per account. Multiple connections
// per account are supported (several clients watching the same mailbox).
type Hub struct {
	logger        *slog.Logger
	maxPerAccount int

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub creates a Hub with a per-account connection limit.
func NewHub(maxPerAccount int, logger *slog.Logger) *Hub {
	if maxPerAccount <= 0 {
		maxPerAccount = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:        logger,
		maxPerAccount: maxPerAccount,
		clients:       make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection for the given account. When the per-account
// limit is exceeded the new connection is closed and nil is returned.
func (h *Hub) Register(accountID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	accountClients, ok := h.clients[accountID]
	if !ok {
		accountClients = make(map[*Client]struct{})
		h.clients[accountID] = accountClients
	}

	if len(accountClients) >= h.maxPerAccount {
		h.logger.Warn("account exceeded max websocket connections, closing new one",
			"account", accountID, "max", h.maxPerAccount)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this account"),
			// Zero deadline: best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{ID: uuid.NewString(), conn: conn}
	accountClients[client] = struct{}{}
	h.logger.Debug("websocket client connected", "account", accountID, "client", client.ID)
	return client
}

// Unregister removes a client for the given account and closes its
// connection.
func (h *Hub) Unregister(accountID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	accountClients, ok := h.clients[accountID]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(accountClients, client)
	if len(accountClients) == 0 {
		delete(h.clients, accountID)
	}

	_ = client.conn.Close()
}

// Send pushes an event to every active client of the account. Write failures
// unregister the broken client, best effort.
func (h *Hub) Send(accountID string, event Envelope) {
	// Snapshot under the lock; the map mutates as clients come and go.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[accountID]))
	for client := range h.clients[accountID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "type", event.Type, "error", err)
		return
	}

	for _, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			h.logger.Warn("failed to write websocket message", "account", accountID, "client", client.ID, "error", err)
			go h.Unregister(accountID, client)
		}
	}
}

// ActiveConnections returns the number of live connections for an account.
func (h *Hub) ActiveConnections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// ProgressNotifier adapts the hub to the sync engine's progress stream.
type ProgressNotifier struct {
	Hub *Hub
}

// Progress pushes one sync progress event to the account's subscribers.
func (n ProgressNotifier) Progress(event *models.ProgressEvent) {
	n.Hub.Send(event.AccountID, Envelope{Type: "sync_progress", Payload: event})
}
