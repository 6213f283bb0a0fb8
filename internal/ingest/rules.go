package ingest

import (
	"strings"

	"github.com/callsight/callsight/internal/event"
)

// Outcomes are the labels extracted from a report's structured outputs.
type Outcomes struct {
	Disposition string
	Sentiment   string
}

// outcomeField names a target field of [Outcomes].
type outcomeField int

const (
	fieldDisposition outcomeField = iota
	fieldSentiment
)

// outcomeRule maps a name predicate to a target field. Rules are evaluated
// in order for every structured output; the first output to match a field
// wins and later matches never overwrite it.
type outcomeRule struct {
	field outcomeField
	match func(name string) bool
}

var outcomeRules = []outcomeRule{
	{fieldDisposition, func(name string) bool {
		return name == "call disposition" || strings.Contains(name, "disposition")
	}},
	{fieldSentiment, func(name string) bool {
		return name == "customer sentiment" || strings.Contains(name, "sentiment")
	}},
}

// extractOutcomes runs the rule table over the structured outputs in payload
// order. Names are matched case-insensitively after trimming; outputs with an
// empty result still claim their field, matching first-wins semantics.
func extractOutcomes(outputs []event.StructuredOutput) Outcomes {
	var out Outcomes
	for _, o := range outputs {
		name := strings.TrimSpace(strings.ToLower(o.Name))
		if name == "" {
			continue
		}
		for _, rule := range outcomeRules {
			if !rule.match(name) {
				continue
			}
			switch rule.field {
			case fieldDisposition:
				if out.Disposition == "" {
					out.Disposition = o.Result
				}
			case fieldSentiment:
				if out.Sentiment == "" {
					out.Sentiment = o.Result
				}
			}
		}
	}
	return out
}
