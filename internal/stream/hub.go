package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the HTTP layer already authenticated the caller
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn     *websocket.Conn
	send     chan *model.AuditLogEntry
	tenantID string // "" means all tenants (super admin)
}

// Hub fans live audit entries out to websocket subscribers. Delivery is best
// effort: a subscriber that cannot keep up is dropped rather than allowed to
// stall the audit pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish hands an entry to every subscriber whose tenant scope matches.
// Never blocks: full client buffers cause eviction, not backpressure.
func (h *Hub) Publish(entry *model.AuditLogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		if c.tenantID != "" && c.tenantID != entry.TenantID {
			continue
		}
		select {
		case c.send <- entry:
		default:
			// 订阅者太慢, 踢掉
			go h.evict(c, "slow consumer")
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the connection and streams entries until the peer leaves.
// tenantID scopes what the subscriber may see; empty means unrestricted.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, tenantID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		conn:     conn,
		send:     make(chan *model.AuditLogEntry, clientBuffer),
		tenantID: tenantID,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	logger.Info("🔌 audit stream subscriber connected", "tenant_id", tenantID, "subscribers", total)

	go h.readLoop(c)
	h.writeLoop(c)
	return nil
}

// readLoop drains control frames; any client message or error ends the
// subscription.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.evict(c, "closed by peer")
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(entry); err != nil {
				h.evict(c, "write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.evict(c, "ping failed")
				return
			}
		}
	}
}

func (h *Hub) evict(c *client, reason string) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if present {
		c.conn.Close()
		logger.Info("audit stream subscriber removed", "reason", reason, "tenant_id", c.tenantID)
	}
}

// Close disconnects every subscriber. New Serve/Publish calls become no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}
