package hub

import "github.com/callsight/callsight/internal/call"

// Envelope types pushed to dashboard connections. ClientID carries the tenant
// the event belongs to, matching the dashboard wire format.

// CallUpsert announces a new or mutated call to the dashboard list view.
type CallUpsert struct {
	Type     string        `json:"type"`
	ClientID string        `json:"clientId"`
	Call     call.Snapshot `json:"call"`
}

// NewCallUpsert builds a call-upsert envelope for tenantID.
func NewCallUpsert(tenantID string, snap call.Snapshot) CallUpsert {
	return CallUpsert{Type: "call-upsert", ClientID: tenantID, Call: snap}
}

// TranscriptUpdate streams one merged transcript chunk to subscribers.
// Append is empty on a full-replace (initial subscribe) update.
type TranscriptUpdate struct {
	Type           string `json:"type"`
	ClientID       string `json:"clientId"`
	CallID         string `json:"callId"`
	Append         string `json:"append,omitempty"`
	FullTranscript string `json:"fullTranscript"`
}

// NewTranscriptUpdate builds a transcript-update envelope.
func NewTranscriptUpdate(tenantID, callID, appendChunk, full string) TranscriptUpdate {
	return TranscriptUpdate{
		Type:           "transcript-update",
		ClientID:       tenantID,
		CallID:         callID,
		Append:         appendChunk,
		FullTranscript: full,
	}
}

// SentimentUpdate streams one new sentiment state to subscribers. It carries
// only the freshly derived state, never the full history.
type SentimentUpdate struct {
	Type       string              `json:"type"`
	CallID     string              `json:"call_id"`
	Sentiment  string              `json:"sentiment"`
	Confidence float64             `json:"confidence"`
	Score      int                 `json:"score"`
	Turn       int                 `json:"turn"`
	FullState  call.SentimentState `json:"fullState"`
}

// NewSentimentUpdate builds a sentiment-update envelope from one state.
func NewSentimentUpdate(callID string, st call.SentimentState) SentimentUpdate {
	return SentimentUpdate{
		Type:       "sentiment-update",
		CallID:     callID,
		Sentiment:  st.Label,
		Confidence: st.Confidence,
		Score:      st.Score,
		Turn:       st.Turn,
		FullState:  st,
	}
}
