// Package ingest maps inbound provider events onto call-record mutations.
// It owns all write access to calls and their audit trail: every handled
// event applies its mutations plus exactly one audit append as a single
// atomic repository unit, then broadcasts the resulting snapshot.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/event"
	"github.com/callsight/callsight/internal/hub"
	"github.com/callsight/callsight/internal/observe"
	"github.com/callsight/callsight/internal/sentiment"
	"github.com/callsight/callsight/internal/transcript"
)

// Broadcaster is the fan-out surface the pipeline pushes snapshots through.
// Implementations must never block event processing on slow consumers.
type Broadcaster interface {
	BroadcastTranscript(ctx context.Context, msg any, callID string)
	BroadcastState(ctx context.Context, msg any, tenantID, targetUserID string)
}

// RecordingStore archives provider recordings. Fetch downloads the
// provider-hosted file; Put stores it and returns an opaque reference.
type RecordingStore interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Put(ctx context.Context, tenantID, callID string, data []byte) (string, error)
}

// IdentityResolver resolves a user ID to a display name, best-effort.
type IdentityResolver interface {
	DisplayName(ctx context.Context, userID string) (string, bool)
}

// Result reports what processing one event did. Ignored is set for events
// the pipeline refused (missing call ID) without touching any state.
type Result struct {
	Ignored bool
	Type    string
	CallID  string
	Created bool
	EventID string
}

// Service is the call state machine.
type Service struct {
	repo       call.Repository
	broadcast  Broadcaster
	recordings RecordingStore
	identity   IdentityResolver
	metrics    *observe.Metrics

	// now is stubbed in tests.
	now func() time.Time
}

// Config holds the Service dependencies. Recordings and Identity may be nil;
// the corresponding enrichment steps are then skipped.
type Config struct {
	Repository call.Repository
	Broadcast  Broadcaster
	Recordings RecordingStore
	Identity   IdentityResolver
	Metrics    *observe.Metrics
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		repo:       cfg.Repository,
		broadcast:  cfg.Broadcast,
		recordings: cfg.Recordings,
		identity:   cfg.Identity,
		metrics:    cfg.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessEvent runs one inbound event through the state machine. The
// returned Result is final before any broadcast completes; broadcast
// failures are handled by the hub and never surface here.
func (s *Service) ProcessEvent(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	start := s.now()

	res, err := s.dispatch(ctx, tenantID, env, actingUserID)

	if s.metrics != nil {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res.Ignored:
			status = "ignored"
		}
		s.metrics.EventsProcessed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", categoryLabel(env.Category)),
			attribute.String("status", status),
		))
		s.metrics.EventDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res, err
}

func (s *Service) dispatch(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	if env.CallID == "" {
		slog.Warn("event without call id, ignoring", "tenant_id", tenantID, "category", env.Category)
		return Result{Ignored: true, Type: env.Category}, nil
	}

	switch env.Category {
	case event.CategoryStatusUpdate:
		return s.handleStatusUpdate(ctx, tenantID, env, actingUserID)
	case event.CategoryTranscript:
		return s.handleTranscript(ctx, tenantID, env, actingUserID)
	case event.CategoryEndOfCall:
		return s.handleEndOfCall(ctx, tenantID, env, actingUserID)
	}
	slog.Info("unknown event category, recording as generic", "tenant_id", tenantID, "category", env.Category)
	return s.handleGeneric(ctx, tenantID, env, actingUserID)
}

// categoryLabel keeps metric cardinality bounded for unknown categories.
func categoryLabel(cat string) string {
	switch cat {
	case event.CategoryStatusUpdate, event.CategoryTranscript, event.CategoryEndOfCall:
		return cat
	}
	return "generic"
}

// getOrCreate loads the call or initialises a fresh record owned by
// tenantID. The tenant of an existing record is never changed.
func (s *Service) getOrCreate(ctx context.Context, r call.Repository, tenantID, callID string) (*call.Call, bool, error) {
	c, err := r.Get(ctx, callID)
	if err == nil {
		return c, false, nil
	}
	if err != call.ErrNotFound {
		return nil, false, err
	}
	now := s.now()
	return &call.Call{
		ID:        callID,
		TenantID:  tenantID,
		Status:    "unknown",
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

// applyIdentity records the acting user on the call and resolves a display
// name if one is still missing. Lookup failures are logged and skipped.
func (s *Service) applyIdentity(ctx context.Context, c *call.Call, actingUserID string) {
	if actingUserID == "" {
		return
	}
	c.UserID = actingUserID
	if c.Username != "" || s.identity == nil {
		return
	}
	if name, ok := s.identity.DisplayName(ctx, actingUserID); ok {
		c.Username = name
	}
}

// applyContactFields overwrites the opaque identifying fields that every
// event may carry, but only with non-empty values.
func applyContactFields(c *call.Call, env *event.Envelope) {
	if env.PhoneNumber != "" {
		c.PhoneNumber = env.PhoneNumber
	}
	if env.ListenURL != "" {
		c.ListenURL = env.ListenURL
	}
	if env.ControlURL != "" {
		c.ControlURL = env.ControlURL
	}
}

func (s *Service) newEvent(tenantID string, env *event.Envelope, category, actingUserID string) *call.CallEvent {
	return &call.CallEvent{
		ID:        uuid.NewString(),
		CallID:    env.CallID,
		TenantID:  tenantID,
		Category:  category,
		UserID:    actingUserID,
		Payload:   env.Raw,
		CreatedAt: s.now(),
	}
}

func (s *Service) handleStatusUpdate(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	res := Result{Type: event.CategoryStatusUpdate, CallID: env.CallID}
	var snap call.Snapshot

	ev := s.newEvent(tenantID, env, event.CategoryStatusUpdate, actingUserID)
	err := s.repo.Atomically(ctx, func(ctx context.Context, r call.Repository) error {
		c, created, err := s.getOrCreate(ctx, r, tenantID, env.CallID)
		if err != nil {
			return err
		}
		res.Created = created

		applyContactFields(c, env)
		if env.Status != "" {
			c.Status = env.Status
		}
		if ts := parseTimestamp(env.CallStartedAt); ts != nil {
			c.StartedAt = ts
		}
		s.applyIdentity(ctx, c, actingUserID)
		c.UpdatedAt = s.now()

		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
		snap = call.NewSnapshot(c)
		return r.AppendEvent(ctx, ev)
	})
	if err != nil {
		return res, err
	}
	res.EventID = ev.ID

	s.broadcast.BroadcastState(ctx, hub.NewCallUpsert(tenantID, snap), tenantID, actingUserID)
	return res, nil
}

func (s *Service) handleTranscript(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	res := Result{Type: event.CategoryTranscript, CallID: env.CallID}

	role := call.ParseRole(env.Role)

	var (
		snap      call.Snapshot
		chunk     string
		full      string
		newState  *call.SentimentState
		firstPush bool
	)

	ev := s.newEvent(tenantID, env, event.CategoryTranscript, actingUserID)
	err := s.repo.Atomically(ctx, func(ctx context.Context, r call.Repository) error {
		c, created, err := s.getOrCreate(ctx, r, tenantID, env.CallID)
		if err != nil {
			return err
		}
		res.Created = created

		// A user turn is complete once a non-user fragment arrives while the
		// transcript still ends in a user line. Score it before merging. The
		// guard is positional: one history state per user line, so a
		// whitespace-only fragment (which leaves the transcript untouched)
		// cannot score the same line twice, while a user repeating the exact
		// same words in a later turn still scores.
		if role != call.RoleUser {
			if lastRole, utterance := transcript.LastTurn(c.LiveTranscript); lastRole == call.RoleUser {
				if len(c.SentimentHistory) < transcript.UserTurns(c.LiveTranscript) {
					st := s.scoreTurn(c, utterance)
					newState = &st
				}
			}
		}

		c.LiveTranscript, chunk = transcript.Merge(c.LiveTranscript, env.Transcript, role)
		full = c.LiveTranscript

		s.applyIdentity(ctx, c, actingUserID)

		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
		snap = call.NewSnapshot(c)
		// Length proxy for "this was the first fragment"; kept from the
		// original dashboard contract.
		firstPush = chunk != "" && len(full) == len(chunk)
		return r.AppendEvent(ctx, ev)
	})
	if err != nil {
		return res, err
	}
	res.EventID = ev.ID

	s.broadcast.BroadcastTranscript(ctx, hub.NewTranscriptUpdate(tenantID, env.CallID, chunk, full), env.CallID)
	if newState != nil {
		s.broadcast.BroadcastTranscript(ctx, hub.NewSentimentUpdate(env.CallID, *newState), env.CallID)
	}
	if firstPush {
		s.broadcast.BroadcastState(ctx, hub.NewCallUpsert(tenantID, snap), tenantID, actingUserID)
	}
	return res, nil
}

// scoreTurn derives the next sentiment state from one completed user
// utterance, appends it to the history, and updates the call's current
// label.
func (s *Service) scoreTurn(c *call.Call, utterance string) call.SentimentState {
	var prior *call.SentimentState
	if n := len(c.SentimentHistory); n > 0 {
		prior = &c.SentimentHistory[n-1]
	}
	st := sentiment.Score(prior, utterance)
	c.SentimentHistory = append(c.SentimentHistory, st)
	c.Sentiment = st.Label
	return st
}

func (s *Service) handleEndOfCall(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	res := Result{Type: event.CategoryEndOfCall, CallID: env.CallID}

	// Archive the recording before opening the atomic unit; network I/O has
	// no place inside it. Failures leave the reference unset, deliberately
	// without retry.
	recordingRef := s.archiveRecording(ctx, tenantID, env)

	outcomes := extractOutcomes(env.StructuredOutputs)

	var snap call.Snapshot
	ev := s.newEvent(tenantID, env, event.CategoryEndOfCall, actingUserID)
	err := s.repo.Atomically(ctx, func(ctx context.Context, r call.Repository) error {
		c, created, err := s.getOrCreate(ctx, r, tenantID, env.CallID)
		if err != nil {
			return err
		}
		res.Created = created

		applyContactFields(c, env)
		c.Status = "ended"

		if ts := parseTimestamp(env.StartedAt); ts != nil {
			c.StartedAt = ts
		}
		applyEndedAt(c, parseTimestamp(env.EndedAt), s.now())

		if t := strings.TrimSpace(env.Transcript); t != "" {
			c.FinalTranscript = t
		}
		if env.Cost != nil {
			c.Cost = *env.Cost
		}
		if env.Summary != "" {
			if raw, err := json.Marshal(map[string]string{"summary": env.Summary}); err == nil {
				c.Summary = raw
			}
		}
		if recordingRef != "" {
			c.RecordingRef = recordingRef
		}
		if outcomes.Sentiment != "" {
			c.Sentiment = outcomes.Sentiment
		}
		if outcomes.Disposition != "" {
			c.Disposition = outcomes.Disposition
		}

		switch {
		case env.DurationSeconds != nil:
			c.Duration = int(*env.DurationSeconds)
		case c.StartedAt != nil && c.EndedAt != nil:
			c.Duration = int(c.EndedAt.Sub(*c.StartedAt).Seconds())
		}

		s.applyIdentity(ctx, c, actingUserID)
		c.UpdatedAt = s.now()

		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
		snap = call.NewFullSnapshot(c)
		return r.AppendEvent(ctx, ev)
	})
	if err != nil {
		return res, err
	}
	res.EventID = ev.ID

	s.broadcast.BroadcastState(ctx, hub.NewCallUpsert(tenantID, snap), tenantID, actingUserID)
	return res, nil
}

// applyEndedAt sets the call's end timestamp without ever regressing an
// already-set value. An unset timestamp falls back to now.
func applyEndedAt(c *call.Call, provided *time.Time, now time.Time) {
	candidate := provided
	if candidate == nil {
		candidate = &now
	}
	if c.EndedAt == nil || candidate.After(*c.EndedAt) {
		c.EndedAt = candidate
	}
}

// archiveRecording downloads the provider recording and stores it, returning
// the opaque reference or "" on any failure. Failures are logged only; they
// never fail the event.
func (s *Service) archiveRecording(ctx context.Context, tenantID string, env *event.Envelope) string {
	if s.recordings == nil || env.RecordingURL == "" {
		return ""
	}

	record := func(status string) {
		if s.metrics != nil {
			s.metrics.RecordingArchives.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		}
	}

	data, err := s.recordings.Fetch(ctx, env.RecordingURL)
	if err != nil {
		slog.Warn("recording download failed", "call_id", env.CallID, "err", err)
		record("fetch_error")
		return ""
	}
	ref, err := s.recordings.Put(ctx, tenantID, env.CallID, data)
	if err != nil {
		slog.Warn("recording upload failed", "call_id", env.CallID, "err", err)
		record("store_error")
		return ""
	}
	slog.Info("recording archived", "call_id", env.CallID, "ref", ref, "bytes", len(data))
	record("ok")
	return ref
}

func (s *Service) handleGeneric(ctx context.Context, tenantID string, env *event.Envelope, actingUserID string) (Result, error) {
	res := Result{Type: "generic", CallID: env.CallID}

	category := env.Category
	if category == "" {
		category = "generic"
	}

	ev := s.newEvent(tenantID, env, category, actingUserID)
	err := s.repo.Atomically(ctx, func(ctx context.Context, r call.Repository) error {
		c, created, err := s.getOrCreate(ctx, r, tenantID, env.CallID)
		if err != nil {
			return err
		}
		res.Created = created

		applyContactFields(c, env)
		c.UpdatedAt = s.now()

		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
		return r.AppendEvent(ctx, ev)
	})
	if err != nil {
		return res, err
	}
	res.EventID = ev.ID
	return res, nil
}

// parseTimestamp parses a provider ISO-8601 timestamp, best-effort. The 'Z'
// suffix and explicit offsets are both accepted; zone-less timestamps are
// read as UTC. Returns nil when s is empty or unparseable (the caller keeps
// its existing value).
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	slog.Debug("unparseable provider timestamp, keeping existing value", "value", s)
	return nil
}
