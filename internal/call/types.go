// Package call defines the core domain model for Callsight: the Call record,
// its append-only audit trail, the incremental sentiment history, and the
// repository contract used by the ingestion pipeline.
package call

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a transcript fragment.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleUnknown   Role = ""
)

// ParseRole normalises a provider-supplied role string. Anything that is not
// recognised maps to RoleUnknown.
func ParseRole(s string) Role {
	switch s {
	case "assistant":
		return RoleAssistant
	case "user":
		return RoleUser
	}
	return RoleUnknown
}

// Call is one telephony/voice-AI session tracked end-to-end. One record exists
// per distinct call ID; it is created on the first event referencing an
// unknown ID and mutated by every subsequent event for that ID.
//
// TenantID is immutable after first creation. FinalTranscript, once set, is
// never overwritten by a later live fragment. EndedAt, once set, is never
// cleared or regressed.
type Call struct {
	ID       string
	TenantID string

	// UserID is the assigned dashboard user, when known. Username is the
	// best-effort resolved display name for that user.
	UserID   string
	Username string

	PhoneNumber string

	// Status is free text in the provider's vocabulary ("ringing",
	// "in-progress", ...). The only value this system produces itself is
	// "ended".
	Status string

	StartedAt *time.Time
	EndedAt   *time.Time

	// Duration is in whole seconds.
	Duration int
	Cost     float64

	// ListenURL and ControlURL are opaque tenant-internal endpoints. They are
	// never serialised to non-privileged viewers.
	ListenURL  string
	ControlURL string

	LiveTranscript  string
	FinalTranscript string

	// RecordingRef is the opaque storage key of the archived recording, not a
	// public URL. Signing happens on retrieval.
	RecordingRef string

	Summary json.RawMessage

	Sentiment   string
	Disposition string

	// SentimentHistory is append-only; each element is derived from its
	// predecessor by one completed user utterance.
	SentimentHistory []SentimentState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallEvent is the append-only audit record written once per processed
// inbound message. Events are never updated or deleted.
type CallEvent struct {
	ID        string
	CallID    string
	TenantID  string
	Category  string
	UserID    string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Signals records which scoring phrases and patterns matched, by category.
type Signals struct {
	Positive   []string `json:"positive_hits"`
	Negative   []string `json:"negative_hits"`
	Neutral    []string `json:"neutral_hits"`
	Engagement []string `json:"engagement_hits"`
}

// Clone returns a deep copy so that appending to one state's hit lists never
// mutates its predecessor.
func (s Signals) Clone() Signals {
	return Signals{
		Positive:   append([]string(nil), s.Positive...),
		Negative:   append([]string(nil), s.Negative...),
		Neutral:    append([]string(nil), s.Neutral...),
		Engagement: append([]string(nil), s.Engagement...),
	}
}

// TotalHits counts the signals that feed the confidence formula. Neutral hits
// are tracked but carry no weight.
func (s Signals) TotalHits() int {
	return len(s.Positive) + len(s.Negative) + len(s.Engagement)
}

// SentimentState is one element of a call's sentiment history. State N+1 is
// always derived by cloning state N and applying one utterance's deltas.
type SentimentState struct {
	Score        int     `json:"score"`
	Label        string  `json:"sentiment"`
	Confidence   float64 `json:"confidence"`
	MessageCount int     `json:"user_message_count"`
	TotalWords   int     `json:"total_user_words"`
	Signals      Signals `json:"signals"`
	Turn         int     `json:"turn"`
	Utterance    string  `json:"completed_user_message"`
}

// Clone returns a deep copy suitable for deriving the next state.
func (s SentimentState) Clone() SentimentState {
	c := s
	c.Signals = s.Signals.Clone()
	return c
}
