package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/hub"
)

// fakeConn records every frame it receives. fail makes Send return an error;
// stall makes Send block until the context expires.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	stall  bool
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail {
		return errors.New("send failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func newHub() *hub.Hub {
	return hub.New(100*time.Millisecond, nil)
}

func TestBroadcastStateTenantIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	tenantB := &fakeConn{}
	for _, role := range []string{hub.RoleAdmin, hub.RoleUser} {
		h.Register(tenantB, hub.ClientInfo{UserID: "u1", Role: role, TenantID: "tenant-b"})

		h.BroadcastState(ctx, hub.NewCallUpsert("tenant-a", call.Snapshot{ID: "c1"}), "tenant-a", "")
		h.BroadcastState(ctx, hub.NewCallUpsert("tenant-a", call.Snapshot{ID: "c1"}), "tenant-a", "u1")

		if tenantB.received() != 0 {
			t.Fatalf("role %q: tenant-b connection received a tenant-a event", role)
		}
		h.Unregister(tenantB)
	}
}

func TestBroadcastStateTargeting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	owner := &fakeConn{}
	admin := &fakeConn{}
	other := &fakeConn{}
	h.Register(owner, hub.ClientInfo{UserID: "u-owner", Role: hub.RoleUser, TenantID: "t1"})
	h.Register(admin, hub.ClientInfo{UserID: "u-admin", Role: hub.RoleAdmin, TenantID: "t1"})
	h.Register(other, hub.ClientInfo{UserID: "u-other", Role: hub.RoleUser, TenantID: "t1"})

	h.BroadcastState(ctx, hub.NewCallUpsert("t1", call.Snapshot{ID: "c1"}), "t1", "u-owner")

	if owner.received() != 1 {
		t.Fatalf("owner received %d frames, want 1", owner.received())
	}
	if admin.received() != 1 {
		t.Fatalf("admin received %d frames, want 1", admin.received())
	}
	if other.received() != 0 {
		t.Fatalf("unrelated user received %d frames, want 0", other.received())
	}
}

func TestBroadcastStateTenantWide(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	a := &fakeConn{}
	b := &fakeConn{}
	h.Register(a, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})
	h.Register(b, hub.ClientInfo{UserID: "u2", Role: hub.RoleUser, TenantID: "t1"})

	h.BroadcastState(ctx, hub.NewCallUpsert("t1", call.Snapshot{ID: "c1"}), "t1", "")

	if a.received() != 1 || b.received() != 1 {
		t.Fatalf("tenant-wide event reached %d/%d, want both", a.received(), b.received())
	}
}

func TestBroadcastTranscriptSubscribersOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	sub := &fakeConn{}
	nosub := &fakeConn{}
	h.Register(sub, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})
	h.Register(nosub, hub.ClientInfo{UserID: "u2", Role: hub.RoleAdmin, TenantID: "t1"})
	h.Subscribe(sub, "c1")

	h.BroadcastTranscript(ctx, hub.NewTranscriptUpdate("t1", "c1", "Hi", "User: Hi"), "c1")

	if sub.received() != 1 {
		t.Fatalf("subscriber received %d frames, want 1", sub.received())
	}
	if nosub.received() != 0 {
		t.Fatalf("non-subscriber received %d frames, want 0", nosub.received())
	}

	var upd hub.TranscriptUpdate
	if err := json.Unmarshal(sub.lastFrame(), &upd); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if upd.Type != "transcript-update" || upd.CallID != "c1" || upd.Append != "Hi" {
		t.Fatalf("frame = %+v", upd)
	}
}

func TestSubscriptionSetSemantics(t *testing.T) {
	t.Parallel()

	h := newHub()
	c := &fakeConn{}
	h.Register(c, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})

	h.Subscribe(c, "c1")
	h.Subscribe(c, "c1") // idempotent
	if !h.Subscribed(c, "c1") {
		t.Fatal("expected subscription")
	}

	h.Unsubscribe(c, "c1")
	h.Unsubscribe(c, "c1") // idempotent
	if h.Subscribed(c, "c1") {
		t.Fatal("expected subscription removed")
	}
}

func TestDeadConnectionRemovedDuringBroadcast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	dead := &fakeConn{fail: true}
	alive := &fakeConn{}
	h.Register(dead, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})
	h.Register(alive, hub.ClientInfo{UserID: "u2", Role: hub.RoleUser, TenantID: "t1"})

	h.BroadcastState(ctx, hub.NewCallUpsert("t1", call.Snapshot{ID: "c1"}), "t1", "")

	if h.Len() != 1 {
		t.Fatalf("Len = %d, want dead connection gone immediately", h.Len())
	}
	if alive.received() != 1 {
		t.Fatalf("healthy connection received %d frames, want 1", alive.received())
	}
}

func TestStalledConnectionTreatedAsDead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()

	stalled := &fakeConn{stall: true}
	alive := &fakeConn{}
	h.Register(stalled, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})
	h.Register(alive, hub.ClientInfo{UserID: "u2", Role: hub.RoleUser, TenantID: "t1"})

	start := time.Now()
	h.BroadcastState(ctx, hub.NewCallUpsert("t1", call.Snapshot{ID: "c1"}), "t1", "")
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("broadcast blocked %v on a stalled connection", elapsed)
	}
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want stalled connection deregistered", h.Len())
	}
	if alive.received() != 1 {
		t.Fatalf("healthy connection received %d frames, want 1", alive.received())
	}
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHub()
	c := &fakeConn{}
	h.Register(c, hub.ClientInfo{UserID: "u1", Role: hub.RoleUser, TenantID: "t1"})
	h.Subscribe(c, "c1")

	h.Unregister(c)

	h.BroadcastTranscript(ctx, hub.NewTranscriptUpdate("t1", "c1", "x", "x"), "c1")
	if c.received() != 0 {
		t.Fatal("unregistered connection still received a transcript frame")
	}
}
