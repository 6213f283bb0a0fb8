// Package event parses raw provider webhook payloads into a strongly-typed
// envelope before the ingestion state machine ever sees them. The provider
// spells several fields in more than one way and at more than one nesting
// level; all of that alias resolution lives here, in one place.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Categories the state machine dispatches on. Anything else is handled as a
// generic event.
const (
	CategoryStatusUpdate = "status-update"
	CategoryTranscript   = "transcript"
	CategoryEndOfCall    = "end-of-call-report"
)

// StructuredOutput is one provider-extracted field from the end-of-call
// artifact. The payload keys them by opaque IDs; the IDs carry no meaning
// and are dropped during decode.
type StructuredOutput struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// structuredOutputs decodes the structuredOutputs JSON object while
// preserving document order. A plain map would randomise iteration and make
// first-match extraction nondeterministic.
type structuredOutputs []StructuredOutput

func (s *structuredOutputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil { // JSON null
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("structuredOutputs: expected object, got %v", tok)
	}

	for dec.More() {
		if _, err := dec.Token(); err != nil { // opaque ID key
			return err
		}
		var out StructuredOutput
		if err := dec.Decode(&out); err != nil {
			return err
		}
		*s = append(*s, out)
	}
	_, err = dec.Token() // closing brace
	return err
}

// Envelope is the normalised view of one inbound provider message. All
// fields are optional except Raw; absence is the zero value.
type Envelope struct {
	// Category is the lower-cased message type.
	Category string

	CallID      string
	PhoneNumber string
	ListenURL   string
	ControlURL  string
	Status      string

	// CallStartedAt is the provider timestamp attached to the call object
	// (status-update path); StartedAt/EndedAt are the report-level
	// timestamps (end-of-call path). All are raw ISO-8601 strings, parsed
	// best-effort by the consumer.
	CallStartedAt string
	StartedAt     string
	EndedAt       string

	// Transcript is the live fragment on transcript events and the final
	// transcript on end-of-call reports (artifact fallback applied).
	Transcript string
	Role       string

	RecordingURL string

	// StructuredOutputs keeps the payload's document order so first-match
	// extraction is deterministic.
	StructuredOutputs []StructuredOutput

	Cost            *float64
	DurationSeconds *float64
	Summary         string

	// Raw is the complete original payload, kept verbatim for the audit
	// trail.
	Raw json.RawMessage
}

// wire mirrors the provider JSON closely enough to decode every alias.
type wire struct {
	Message *wireMessage `json:"message"`
	wireMessage
}

type wireMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`

	Call     *wireCall     `json:"call"`
	Customer *wireCustomer `json:"customer"`

	Transcript string `json:"transcript"`
	Role       string `json:"role"`

	Artifact *wireArtifact `json:"artifact"`
	Analysis *wireAnalysis `json:"analysis"`

	RecordingURL    string   `json:"recordingUrl"`
	Cost            *float64 `json:"cost"`
	DurationSeconds *float64 `json:"durationSeconds"`
	StartedAt       string   `json:"startedAt"`
	EndedAt         string   `json:"endedAt"`
	Summary         string   `json:"summary"`
}

type wireCall struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	From        string `json:"from"`
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt"`

	Monitor *wireMonitor `json:"monitor"`

	// Flat aliases seen on some event shapes.
	ListenURL       string `json:"listenUrl"`
	ListenURLSnake  string `json:"listen_url"`
	ControlURL      string `json:"controlUrl"`
	ControlURLSnake string `json:"control_url"`
}

type wireMonitor struct {
	ListenURL  string `json:"listenUrl"`
	ControlURL string `json:"controlUrl"`
}

type wireCustomer struct {
	Number string `json:"number"`
}

type wireArtifact struct {
	Transcript        string            `json:"transcript"`
	RecordingURL      string            `json:"recordingUrl"`
	StructuredOutputs structuredOutputs `json:"structuredOutputs"`
}

type wireAnalysis struct {
	Summary         string   `json:"summary"`
	DurationSeconds *float64 `json:"durationSeconds"`
}

// Parse decodes a raw provider payload into an Envelope. Payloads may wrap
// the message in a "message" object or send it at the top level; the wrapped
// form wins when both are present.
func Parse(raw []byte) (*Envelope, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("event: decode payload: %w", err)
	}

	msg := w.wireMessage
	if w.Message != nil {
		msg = *w.Message
	}

	env := &Envelope{
		Category:        strings.ToLower(msg.Type),
		Status:          msg.Status,
		Transcript:      msg.Transcript,
		Role:            strings.ToLower(msg.Role),
		RecordingURL:    msg.RecordingURL,
		Cost:            msg.Cost,
		DurationSeconds: msg.DurationSeconds,
		StartedAt:       msg.StartedAt,
		EndedAt:         msg.EndedAt,
		Summary:         msg.Summary,
		Raw:             json.RawMessage(raw),
	}

	if c := msg.Call; c != nil {
		env.CallID = c.ID
		env.Status = firstNonEmpty(env.Status, c.Status)
		env.CallStartedAt = c.StartedAt
		env.PhoneNumber = firstNonEmpty(c.PhoneNumber, c.From)

		var monListen, monControl string
		if c.Monitor != nil {
			monListen = c.Monitor.ListenURL
			monControl = c.Monitor.ControlURL
		}
		env.ListenURL = firstNonEmpty(monListen, c.ListenURL, c.ListenURLSnake)
		env.ControlURL = firstNonEmpty(monControl, c.ControlURL, c.ControlURLSnake)
	}

	if cu := msg.Customer; cu != nil {
		env.PhoneNumber = firstNonEmpty(cu.Number, env.PhoneNumber)
	}

	if a := msg.Artifact; a != nil {
		env.Transcript = firstNonEmpty(env.Transcript, a.Transcript)
		env.RecordingURL = firstNonEmpty(env.RecordingURL, a.RecordingURL)
		env.StructuredOutputs = []StructuredOutput(a.StructuredOutputs)
	}

	if an := msg.Analysis; an != nil {
		env.Summary = firstNonEmpty(env.Summary, an.Summary)
		if env.DurationSeconds == nil {
			env.DurationSeconds = an.DurationSeconds
		}
	}

	return env, nil
}

// firstNonEmpty returns the first non-empty string, resolving field aliases
// in priority order.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
