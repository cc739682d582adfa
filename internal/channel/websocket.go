package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatinbox/internal/domain"
	"chatinbox/internal/metrics"
)

// Frame types pushed to inbox clients.
const (
	FrameHello              = "hello"
	FrameNewMessage         = "message.new"
	FrameMessageUpdate      = "message.update"
	FrameConversationUpdate = "conversation.update"
)

const writeWait = 10 * time.Second

// Frame is the JSON protocol for real-time clients.
type Frame struct {
	Type           string `json:"type"`
	TenantID       string `json:"tenantId"`
	ConversationID string `json:"conversationId,omitempty"`
	Muted          bool   `json:"muted,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// HubConfig configures a Hub.
type HubConfig struct {
	Tenants domain.TenantDirectory
	Logger  *slog.Logger
}

// Hub fans engine updates out to websocket clients subscribed to a tenant.
// It implements domain.Broadcaster.
type Hub struct {
	tenants domain.TenantDirectory
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
	seq     int
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn     *websocket.Conn
	tenantID string
	mu       sync.Mutex
}

var _ domain.Broadcaster = (*Hub)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		tenants: cfg.Tenants,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
}

// ServeHTTP upgrades GET {path}?tenant=<id> to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if _, ok := h.tenants.Tenant(tenantID); !ok {
		http.Error(w, "Unknown tenant", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, tenantID: tenantID}
	h.mu.Lock()
	h.seq++
	clientID := fmt.Sprintf("%s-%d", tenantID, h.seq)
	h.clients[clientID] = client
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()

	h.logger.Info("realtime client connected", "client_id", clientID, "tenant", tenantID)
	client.send(Frame{Type: FrameHello, TenantID: tenantID})

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		metrics.RealtimeClients.Dec()
		conn.Close()
		h.logger.Info("realtime client disconnected", "client_id", clientID)
	}()

	// Clients only listen; reads detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "client_id", clientID, "err", err)
			}
			return
		}
	}
}

// ClientCount returns the number of clients subscribed to tenantID, or to
// any tenant when tenantID is "".
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if tenantID == "" || c.tenantID == tenantID {
			n++
		}
	}
	return n
}

func (h *Hub) publish(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	h.mu.RLock()
	var targets []*wsClient
	for _, c := range h.clients {
		if c.tenantID == f.TenantID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.logger.Debug("websocket write failed", "tenant", f.TenantID, "err", err)
		}
	}
	return nil
}

func (h *Hub) BroadcastNewMessage(_ context.Context, tenantID, conversationID string, msg domain.PersistedMessage, opts domain.BroadcastOptions) error {
	return h.publish(Frame{Type: FrameNewMessage, TenantID: tenantID, ConversationID: conversationID, Muted: opts.IsMuted, Data: msg})
}

func (h *Hub) BroadcastMessageUpdate(_ context.Context, tenantID, conversationID string, fields map[string]any) error {
	return h.publish(Frame{Type: FrameMessageUpdate, TenantID: tenantID, ConversationID: conversationID, Data: fields})
}

func (h *Hub) BroadcastConversationUpdate(_ context.Context, tenantID string, fields domain.ConversationUpdate) error {
	id, _ := fields["id"].(string)
	return h.publish(Frame{Type: FrameConversationUpdate, TenantID: tenantID, ConversationID: id, Data: fields})
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) send(f Frame) {
	data, _ := json.Marshal(f)
	c.write(data)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		client.conn.Close()
	}
}
