// Package relay bridges a dashboard websocket to the provider's live listen
// stream for one call. Audio frames flow provider-to-browser; control frames
// the browser sends flow back upstream. Frame types are preserved in both
// directions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/observe"
)

// Relay lifecycle states, carried on every log line for a session.
const (
	StateConnecting = "connecting"
	StateRelaying   = "relaying"
	StateClosing    = "closing"
)

// Close codes sent to the browser before any upstream dial happens. They are
// in the application range so the dashboard can distinguish them from
// transport failures.
const (
	CloseCallNotFound  websocket.StatusCode = 4004
	CloseForbidden     websocket.StatusCode = 4003
	CloseNoListenURL   websocket.StatusCode = 4002
	CloseUpstreamError websocket.StatusCode = 4001
)

// Dialer opens the upstream listen websocket. Injectable for tests.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	return conn, err
}

// Bridge relays live audio for calls loaded from a repository.
type Bridge struct {
	repo    call.Repository
	dial    Dialer
	metrics *observe.Metrics
}

// New creates a Bridge. A nil dialer uses the real websocket dialer.
func New(repo call.Repository, metrics *observe.Metrics, dial Dialer) *Bridge {
	if dial == nil {
		dial = defaultDialer
	}
	return &Bridge{repo: repo, dial: dial, metrics: metrics}
}

// Serve authorises p against the call, dials its listen URL and pumps frames
// both ways until either side closes or ctx is cancelled. The client
// connection is always closed before Serve returns; access failures close it
// with a distinct status code and never dial upstream.
func (b *Bridge) Serve(ctx context.Context, client *websocket.Conn, callID string, p auth.Principal) error {
	log := slog.With("call_id", callID, "user_id", p.UserID)
	log.Debug("relay session opened", "state", StateConnecting)

	c, err := b.repo.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			client.Close(CloseCallNotFound, "call not found")
			return nil
		}
		client.Close(websocket.StatusInternalError, "lookup failed")
		return fmt.Errorf("relay: load call: %w", err)
	}

	if !allowed(c, p) {
		log.Warn("listen access denied", "tenant_id", p.TenantID)
		client.Close(CloseForbidden, "forbidden")
		return nil
	}
	if c.ListenURL == "" {
		client.Close(CloseNoListenURL, "no listen url for call")
		return nil
	}

	upstream, err := b.dial(ctx, c.ListenURL)
	if err != nil {
		client.Close(CloseUpstreamError, "upstream unavailable")
		return fmt.Errorf("relay: dial upstream: %w", err)
	}

	if b.metrics != nil {
		b.metrics.ActiveRelays.Add(ctx, 1)
		defer b.metrics.ActiveRelays.Add(ctx, -1)
	}
	log.Info("relay started", "state", StateRelaying)

	// Audio frames can be large; the browser side only sends small control
	// payloads.
	upstream.SetReadLimit(1 << 22)

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return pump(pumpCtx, upstream, client)
	})
	g.Go(func() error {
		defer cancel()
		return pump(pumpCtx, client, upstream)
	})
	err = g.Wait()

	upstream.Close(websocket.StatusNormalClosure, "relay done")
	client.Close(websocket.StatusNormalClosure, "relay done")
	log.Info("relay closed", "state", StateClosing, "err", err)

	if isExpectedClose(err) {
		return nil
	}
	return err
}

// allowed implements per-call access: the caller's tenant must own the call,
// admins see every tenant call, everyone else only their own. An unowned call
// is visible tenant-wide.
func allowed(c *call.Call, p auth.Principal) bool {
	if c.TenantID != p.TenantID {
		return false
	}
	if p.IsAdmin() || c.UserID == "" {
		return true
	}
	return c.UserID == p.UserID
}

// pump copies frames from src to dst until src closes or ctx is cancelled,
// preserving the message type of every frame.
func pump(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}

// isExpectedClose reports whether err is an orderly shutdown of either leg.
func isExpectedClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
