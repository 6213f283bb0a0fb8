// Package memstore provides an in-memory [call.Repository] used by tests and
// by dev mode. Atomic units are serialised on a single mutex, which also
// satisfies the per-call serialisation requirement of the ingestion pipeline.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/callsight/callsight/internal/call"
)

// Store is an in-memory call repository. All exported methods are safe for
// concurrent use.
type Store struct {
	mu     sync.Mutex
	calls  map[string]*call.Call
	events []*call.CallEvent
}

var _ call.Repository = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{calls: make(map[string]*call.Call)}
}

// Get returns a copy of the call with the given ID, or [call.ErrNotFound].
func (s *Store) Get(ctx context.Context, id string) (*call.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (*call.Call, error) {
	c, ok := s.calls[id]
	if !ok {
		return nil, call.ErrNotFound
	}
	cp := cloneCall(c)
	return cp, nil
}

// Upsert inserts or replaces the call record.
func (s *Store) Upsert(ctx context.Context, c *call.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = cloneCall(c)
	return nil
}

// AppendEvent appends one audit record.
func (s *Store) AppendEvent(ctx context.Context, ev *call.CallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	cp.Payload = append(json.RawMessage(nil), ev.Payload...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

// Atomically runs fn against a buffered view; writes apply only when fn
// returns nil. The store mutex is held for the whole unit, so concurrent
// units for the same call never interleave partial writes.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, r call.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txView{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, c := range tx.calls {
		s.calls[id] = c
	}
	s.events = append(s.events, tx.events...)
	return nil
}

// Events returns a copy of the audit log, ordered by append time.
func (s *Store) Events() []*call.CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*call.CallEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsFor returns the audit records for one call ID, in append order.
func (s *Store) EventsFor(id string) []*call.CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*call.CallEvent
	for _, ev := range s.events {
		if ev.CallID == id {
			out = append(out, ev)
		}
	}
	return out
}

// ListByTenant returns the calls for one tenant, newest first by creation
// time. A non-empty userID restricts the list to that user's calls.
func (s *Store) ListByTenant(ctx context.Context, tenantID, userID string) ([]*call.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*call.Call
	for _, c := range s.calls {
		if c.TenantID != tenantID {
			continue
		}
		if userID != "" && c.UserID != userID {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Len reports the number of stored calls.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// txView buffers writes made inside an atomic unit. It reads through to the
// store (whose mutex the unit already holds) overlaid with its own writes.
type txView struct {
	store  *Store
	calls  map[string]*call.Call
	events []*call.CallEvent
}

var _ call.Repository = (*txView)(nil)

func (t *txView) Get(ctx context.Context, id string) (*call.Call, error) {
	if c, ok := t.calls[id]; ok {
		return cloneCall(c), nil
	}
	return t.store.get(id)
}

func (t *txView) Upsert(ctx context.Context, c *call.Call) error {
	if t.calls == nil {
		t.calls = make(map[string]*call.Call)
	}
	t.calls[c.ID] = cloneCall(c)
	return nil
}

func (t *txView) AppendEvent(ctx context.Context, ev *call.CallEvent) error {
	cp := *ev
	cp.Payload = append(json.RawMessage(nil), ev.Payload...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	t.events = append(t.events, &cp)
	return nil
}

func (t *txView) Atomically(ctx context.Context, fn func(ctx context.Context, r call.Repository) error) error {
	// Already inside a unit; nesting just runs against the same view.
	return fn(ctx, t)
}

func cloneCall(c *call.Call) *call.Call {
	cp := *c
	cp.Summary = append(json.RawMessage(nil), c.Summary...)
	cp.SentimentHistory = make([]call.SentimentState, len(c.SentimentHistory))
	for i, st := range c.SentimentHistory {
		cp.SentimentHistory[i] = st.Clone()
	}
	return &cp
}
