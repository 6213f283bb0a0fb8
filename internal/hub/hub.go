// Package hub owns the live dashboard connection registry, the per-call
// transcript subscriptions, and the tenant/role-aware broadcast fan-out. It
// is the only component that touches connection state; nothing here reads or
// writes persisted records.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/callsight/callsight/internal/observe"
)

// Roles a dashboard connection can hold. Admins see every call in their
// tenant; users only their own.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Conn is the send side of one live dashboard connection. Implementations
// must be safe for concurrent Send calls and must fail (not block forever)
// once the peer is gone; the hub additionally bounds each send with its
// configured timeout.
type Conn interface {
	Send(ctx context.Context, data []byte) error
}

// ClientInfo describes the authenticated identity behind a connection.
type ClientInfo struct {
	UserID   string
	Role     string
	TenantID string
}

// registration couples a connection's identity with its subscription set.
type registration struct {
	info ClientInfo
	subs map[string]struct{}
}

// Hub is the broadcast fan-out engine. All exported methods are safe for
// concurrent use. The zero value is not usable; construct with [New].
type Hub struct {
	sendTimeout time.Duration
	metrics     *observe.Metrics

	mu    sync.Mutex // guards conns; never held across a send
	conns map[Conn]*registration
}

// New creates a Hub. sendTimeout bounds every individual send during a
// broadcast; a connection that cannot accept a frame in that window is
// treated as dead.
func New(sendTimeout time.Duration, metrics *observe.Metrics) *Hub {
	return &Hub{
		sendTimeout: sendTimeout,
		metrics:     metrics,
		conns:       make(map[Conn]*registration),
	}
}

// Register adds a connection with its authenticated identity. Registering an
// already-registered connection replaces its identity and clears its
// subscriptions.
func (h *Hub) Register(c Conn, info ClientInfo) {
	h.mu.Lock()
	h.conns[c] = &registration{info: info, subs: make(map[string]struct{})}
	n := len(h.conns)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveConnections.Add(context.Background(), 1)
	}
	slog.Debug("dashboard connection registered",
		"tenant_id", info.TenantID, "user_id", info.UserID, "role", info.Role, "connections", n)
}

// Unregister removes a connection and, atomically with it, every
// subscription it holds. Unknown connections are a no-op.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, known := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	if known && h.metrics != nil {
		h.metrics.ActiveConnections.Add(context.Background(), -1)
	}
}

// Subscribe adds callID to the connection's subscription set. Idempotent;
// unknown connections are ignored.
func (h *Hub) Subscribe(c Conn, callID string) {
	h.mu.Lock()
	if reg, ok := h.conns[c]; ok {
		reg.subs[callID] = struct{}{}
	}
	h.mu.Unlock()
}

// Unsubscribe removes callID from the connection's subscription set.
func (h *Hub) Unsubscribe(c Conn, callID string) {
	h.mu.Lock()
	if reg, ok := h.conns[c]; ok {
		delete(reg.subs, callID)
	}
	h.mu.Unlock()
}

// Subscribed reports whether c currently subscribes to callID.
func (h *Hub) Subscribed(c Conn, callID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg, ok := h.conns[c]
	if !ok {
		return false
	}
	_, ok = reg.subs[callID]
	return ok
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BroadcastTranscript delivers msg to every connection subscribed to callID.
// Subscription is the access gate: the boundary layer vets a subscriber's
// tenant before the subscribe call ever reaches the hub.
func (h *Hub) BroadcastTranscript(ctx context.Context, msg any, callID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast transcript: encode", "call_id", callID, "err", err)
		return
	}

	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for c, reg := range h.conns {
		if _, ok := reg.subs[callID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	h.deliver(ctx, targets, data, "transcript")
}

// BroadcastState delivers msg to every connection whose tenant matches
// tenantID and that is allowed to see it: tenant-wide when targetUserID is
// empty, otherwise admins and the targeted user only. Connections of other
// tenants never receive the event.
func (h *Hub) BroadcastState(ctx context.Context, msg any, tenantID, targetUserID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast state: encode", "tenant_id", tenantID, "err", err)
		return
	}

	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for c, reg := range h.conns {
		if !allowed(reg.info, tenantID, targetUserID) {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.deliver(ctx, targets, data, "state")
}

// SendTo delivers msg to a single connection, applying the same dead-
// connection handling as a broadcast. Used for the initial full-transcript
// snapshot on subscribe.
func (h *Hub) SendTo(ctx context.Context, c Conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("send: encode", "err", err)
		return
	}
	h.deliver(ctx, []Conn{c}, data, "state")
}

// allowed applies the state-broadcast visibility rules for one connection.
func allowed(info ClientInfo, tenantID, targetUserID string) bool {
	if info.TenantID != tenantID {
		return false
	}
	if targetUserID == "" {
		return true
	}
	if info.Role == RoleAdmin {
		return true
	}
	return info.UserID == targetUserID
}

// deliver sends data to each target under the bounded send timeout. A failed
// or timed-out send deregisters that connection immediately and delivery
// continues with the rest; failures never propagate to the caller.
func (h *Hub) deliver(ctx context.Context, targets []Conn, data []byte, kind string) {
	for _, c := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
		err := c.Send(sendCtx, data)
		cancel()

		if err != nil {
			h.Unregister(c)
			if h.metrics != nil {
				h.metrics.DeadConnections.Add(ctx, 1)
			}
			slog.Debug("dropping dead dashboard connection", "kind", kind, "err", err)
			continue
		}
		if h.metrics != nil {
			h.metrics.BroadcastDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		}
	}
}
