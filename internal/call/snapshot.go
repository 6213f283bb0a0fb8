package call

import "time"

// Snapshot is the point-in-time dashboard projection of a call. It carries
// presence flags instead of the heavy transcript fields so list views stay
// cheap; Full snapshots (sent on end-of-call) additionally inline the
// transcripts. Listen/control endpoints are deliberately absent.
type Snapshot struct {
	ID          string  `json:"id"`
	Status      string  `json:"status,omitempty"`
	PhoneNumber string  `json:"phoneNumber,omitempty"`
	StartedAt   string  `json:"startedAt,omitempty"`
	EndedAt     string  `json:"endedAt,omitempty"`
	Username    string  `json:"username,omitempty"`
	Duration    int     `json:"duration,omitempty"`
	Sentiment   string  `json:"sentiment,omitempty"`
	Disposition string  `json:"disposition,omitempty"`
	Cost        float64 `json:"cost,omitempty"`

	HasListenURL       bool `json:"hasListenUrl"`
	HasTranscript      bool `json:"hasTranscript"`
	HasFinalTranscript bool `json:"hasFinalTranscript"`
	HasLiveTranscript  bool `json:"hasLiveTranscript"`
	HasRecording       bool `json:"hasRecording"`

	// Populated only by Full snapshots.
	FinalTranscript string `json:"finalTranscript,omitempty"`
	LiveTranscript  string `json:"liveTranscript,omitempty"`
	RecordingRef    string `json:"recordingRef,omitempty"`
}

// NewSnapshot builds the lightweight dashboard projection of c.
func NewSnapshot(c *Call) Snapshot {
	started := c.StartedAt
	if started == nil {
		t := c.CreatedAt
		if !t.IsZero() {
			started = &t
		}
	}
	return Snapshot{
		ID:                 c.ID,
		Status:             c.Status,
		PhoneNumber:        c.PhoneNumber,
		StartedAt:          isoUTC(started),
		EndedAt:            isoUTC(c.EndedAt),
		Username:           c.Username,
		Duration:           c.Duration,
		Sentiment:          c.Sentiment,
		Disposition:        c.Disposition,
		Cost:               c.Cost,
		HasListenURL:       c.ListenURL != "",
		HasTranscript:      c.FinalTranscript != "",
		HasFinalTranscript: c.FinalTranscript != "",
		HasLiveTranscript:  c.LiveTranscript != "",
		HasRecording:       c.RecordingRef != "",
	}
}

// NewFullSnapshot is NewSnapshot plus the inlined transcript fields and
// recording reference, used for the end-of-call dashboard upsert.
func NewFullSnapshot(c *Call) Snapshot {
	s := NewSnapshot(c)
	s.FinalTranscript = c.FinalTranscript
	s.LiveTranscript = c.LiveTranscript
	s.RecordingRef = c.RecordingRef
	return s
}

func isoUTC(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
