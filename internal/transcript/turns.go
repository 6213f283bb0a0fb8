package transcript

import (
	"strings"

	"github.com/callsight/callsight/internal/call"
)

// LastTurn returns the speaker and bare text (prefix stripped) of the final
// line of a transcript. Used by the ingestion pipeline to detect a completed
// user turn: when a non-user fragment arrives while the transcript ends in a
// user line, that line is the finished utterance.
func LastTurn(full string) (call.Role, string) {
	if full == "" {
		return call.RoleUnknown, ""
	}
	idx := strings.LastIndexByte(full, '\n')
	last := full[idx+1:]
	switch {
	case strings.HasPrefix(last, "AI: "):
		return call.RoleAssistant, strings.TrimPrefix(last, "AI: ")
	case strings.HasPrefix(last, "User: "):
		return call.RoleUser, strings.TrimPrefix(last, "User: ")
	}
	return call.RoleUnknown, last
}

// UserTurns counts the user lines of a transcript. Each user line is one
// turn: same-role fragments concatenate onto the current line, so a new line
// only starts on a speaker change.
func UserTurns(full string) int {
	if full == "" {
		return 0
	}
	n := 0
	for _, line := range strings.Split(full, "\n") {
		if strings.HasPrefix(line, "User: ") {
			n++
		}
	}
	return n
}
