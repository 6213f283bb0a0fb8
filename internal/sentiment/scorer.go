// Package sentiment implements incremental, rule-based sentiment scoring over
// completed user turns. Each new state is derived by cloning the previous one
// and applying a single utterance's deltas, so the per-call history stays
// strictly cumulative and auditable.
package sentiment

import (
	"math"
	"regexp"
	"strings"

	"github.com/callsight/callsight/internal/call"
)

// Labels produced by the scorer. LabelInsufficient is kept verbatim from the
// dashboard wire format.
const (
	LabelInsufficient = "Not Enuf Data"
	LabelPositive     = "Positive"
	LabelNegative     = "Negative"
	LabelNeutral      = "Neutral"
)

// minWordsForLabel is the accumulated user word count below which no
// sentiment call is made, regardless of score.
const minWordsForLabel = 5

// Phrase banks. Matching is case-insensitive substring containment against
// the trimmed, lower-cased utterance.
var (
	positivePhrases = []string{
		"yes", "yeah", "yep", "sure", "okay", "ok",
		"sounds good", "tell me more", "how much",
		"what does it cover", "i'm interested",
	}

	negativePhrases = []string{
		"not interested", "stop calling", "don't call",
		"remove me", "hang up", "wrong number",
	}

	neutralPhrases = []string{"maybe", "not sure", "uh", "uh huh", "hmm"}
)

// engagementPatterns reward questions and topic probing (+1 each). The raw
// pattern source is what gets recorded as the hit.
var engagementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?`),
	regexp.MustCompile(`\b(cost|price|rate)\b`),
	regexp.MustCompile(`\b(coverage|cover)\b`),
	regexp.MustCompile(`\b(benefit|benefits)\b`),
}

const (
	positiveDelta   = 2
	negativeDelta   = 4
	engagementDelta = 1
)

// Score derives the next sentiment state from prior by applying one completed
// user utterance. A nil prior starts from the zero state. Score is pure: the
// prior state is never mutated.
func Score(prior *call.SentimentState, utterance string) call.SentimentState {
	var state call.SentimentState
	if prior != nil {
		state = prior.Clone()
	}

	msg := strings.ToLower(strings.TrimSpace(utterance))

	state.MessageCount++
	state.TotalWords += len(strings.Fields(msg))

	for _, p := range positivePhrases {
		if strings.Contains(msg, p) {
			state.Score += positiveDelta
			state.Signals.Positive = append(state.Signals.Positive, p)
		}
	}
	for _, n := range negativePhrases {
		if strings.Contains(msg, n) {
			state.Score -= negativeDelta
			state.Signals.Negative = append(state.Signals.Negative, n)
		}
	}
	for _, n := range neutralPhrases {
		if strings.Contains(msg, n) {
			state.Signals.Neutral = append(state.Signals.Neutral, n)
		}
	}
	for _, re := range engagementPatterns {
		if re.MatchString(msg) {
			state.Score += engagementDelta
			state.Signals.Engagement = append(state.Signals.Engagement, re.String())
		}
	}

	state.Label = label(state)
	state.Confidence = confidence(state)
	state.Turn++
	state.Utterance = utterance

	return state
}

// label picks the sentiment label, evaluated in fixed order: too few words
// beats everything, then the score thresholds.
func label(s call.SentimentState) string {
	switch {
	case s.TotalWords < minWordsForLabel:
		return LabelInsufficient
	case s.Score >= 3:
		return LabelPositive
	case s.Score <= -3:
		return LabelNegative
	}
	return LabelNeutral
}

// confidence blends score magnitude, signal volume, and turn count into a
// 0..1 value, rounded to two decimals.
func confidence(s call.SentimentState) float64 {
	c := 0.6*clamp01(math.Abs(float64(s.Score))/6) +
		0.25*clamp01(float64(s.Signals.TotalHits())/4) +
		0.15*clamp01(float64(s.MessageCount)/4)
	return math.Round(clamp01(c)*100) / 100
}

func clamp01(v float64) float64 {
	return math.Min(v, 1.0)
}
