package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/relay"
	"github.com/callsight/callsight/internal/store/memstore"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startWSServer launches a test WebSocket server whose handler receives the
// accepted connection. Closed automatically when the test finishes.
func startWSServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// seedCall stores one call with the given owner and listen URL.
func seedCall(t *testing.T, store *memstore.Store, id, tenantID, userID, listenURL string) {
	t.Helper()
	err := store.Upsert(context.Background(), &call.Call{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		ListenURL: listenURL,
		Status:    "in-progress",
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

// serveRelay runs bridge.Serve for every incoming connection and returns a
// dial-able URL for it.
func serveRelay(t *testing.T, bridge *relay.Bridge, callID string, p auth.Principal) string {
	t.Helper()
	srv := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = bridge.Serve(context.Background(), conn, callID, p)
	})
	return wsURL(srv)
}

// dialClient connects to url and returns the browser-side connection.
func dialClient(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	return conn
}

// expectClose reads until the connection closes and returns the status code.
func expectClose(t *testing.T, ctx context.Context, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code == -1 {
				t.Fatalf("connection failed without close frame: %v", err)
			}
			return code
		}
	}
}

func TestServeDeniesForeignTenantBeforeDialing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memstore.New()
	seedCall(t, store, "c1", "tenant-a", "owner", "ws://unused")

	dialed := false
	bridge := relay.New(store, nil, func(ctx context.Context, url string) (*websocket.Conn, error) {
		dialed = true
		t.Error("upstream dialed for a forbidden principal")
		return nil, context.Canceled
	})

	url := serveRelay(t, bridge, "c1", auth.Principal{UserID: "owner", TenantID: "tenant-b", Role: auth.RoleAdmin})
	conn := dialClient(t, ctx, url)

	if code := expectClose(t, ctx, conn); code != relay.CloseForbidden {
		t.Fatalf("close code = %d, want %d", code, relay.CloseForbidden)
	}
	if dialed {
		t.Fatal("access check must run before the upstream dial")
	}
}

func TestServeDeniesNonOwner(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memstore.New()
	seedCall(t, store, "c1", "t1", "owner", "ws://unused")

	bridge := relay.New(store, nil, func(ctx context.Context, url string) (*websocket.Conn, error) {
		t.Error("upstream dialed for a forbidden principal")
		return nil, context.Canceled
	})

	url := serveRelay(t, bridge, "c1", auth.Principal{UserID: "someone-else", TenantID: "t1", Role: auth.RoleUser})
	conn := dialClient(t, ctx, url)

	if code := expectClose(t, ctx, conn); code != relay.CloseForbidden {
		t.Fatalf("close code = %d, want %d", code, relay.CloseForbidden)
	}
}

func TestServeAdminSeesTenantCalls(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upstream := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Write(ctx, websocket.MessageBinary, []byte{0x01})
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	store := memstore.New()
	seedCall(t, store, "c1", "t1", "owner", wsURL(upstream))

	bridge := relay.New(store, nil, nil)
	url := serveRelay(t, bridge, "c1", auth.Principal{UserID: "admin-1", TenantID: "t1", Role: auth.RoleAdmin})
	conn := dialClient(t, ctx, url)

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}
	if typ != websocket.MessageBinary || len(data) != 1 {
		t.Fatalf("frame = type %v, %d bytes", typ, len(data))
	}
}

func TestServeUnknownCall(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bridge := relay.New(memstore.New(), nil, nil)
	url := serveRelay(t, bridge, "missing", auth.Principal{UserID: "u1", TenantID: "t1", Role: auth.RoleUser})
	conn := dialClient(t, ctx, url)

	if code := expectClose(t, ctx, conn); code != relay.CloseCallNotFound {
		t.Fatalf("close code = %d, want %d", code, relay.CloseCallNotFound)
	}
}

func TestServeMissingListenURL(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := memstore.New()
	seedCall(t, store, "c1", "t1", "owner", "")

	bridge := relay.New(store, nil, nil)
	url := serveRelay(t, bridge, "c1", auth.Principal{UserID: "owner", TenantID: "t1", Role: auth.RoleUser})
	conn := dialClient(t, ctx, url)

	if code := expectClose(t, ctx, conn); code != relay.CloseNoListenURL {
		t.Fatalf("close code = %d, want %d", code, relay.CloseNoListenURL)
	}
}

func TestServeRelaysBothDirections(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fromBrowser := make(chan []byte, 1)
	upstream := startWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Audio down, then wait for one control frame up.
		if err := conn.Write(ctx, websocket.MessageBinary, []byte{0xAA, 0xBB}); err != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		fromBrowser <- data
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	store := memstore.New()
	seedCall(t, store, "c1", "t1", "owner", wsURL(upstream))

	bridge := relay.New(store, nil, nil)
	url := serveRelay(t, bridge, "c1", auth.Principal{UserID: "owner", TenantID: "t1", Role: auth.RoleUser})
	conn := dialClient(t, ctx, url)

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read audio frame: %v", err)
	}
	if typ != websocket.MessageBinary || string(data) != "\xaa\xbb" {
		t.Fatalf("audio frame = type %v, %q", typ, data)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"op":"mute"}`)); err != nil {
		t.Fatalf("write control frame: %v", err)
	}
	select {
	case got := <-fromBrowser:
		if string(got) != `{"op":"mute"}` {
			t.Fatalf("upstream received %q", got)
		}
	case <-ctx.Done():
		t.Fatal("upstream never received the control frame")
	}

	if code := expectClose(t, ctx, conn); code != websocket.StatusNormalClosure {
		t.Fatalf("close code = %d, want normal closure", code)
	}
}
