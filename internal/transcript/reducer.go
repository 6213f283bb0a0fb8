// Package transcript merges partial-utterance fragments into one ordered
// per-call transcript. Providers stream utterances token by token, so
// consecutive fragments from the same speaker are glued together without a
// separator while a speaker change starts a new prefixed line.
package transcript

import (
	"strings"

	"github.com/callsight/callsight/internal/call"
)

// prefix returns the line prefix for a speaker role. Unknown roles produce no
// prefix, which also means their lines can never be detected as a
// continuation run.
func prefix(role call.Role) string {
	switch role {
	case call.RoleAssistant:
		return "AI: "
	case call.RoleUser:
		return "User: "
	}
	return ""
}

// lastLineRole inspects the final line of a transcript and reports which
// speaker it belongs to, based on its prefix.
func lastLineRole(existing string) call.Role {
	idx := strings.LastIndexByte(existing, '\n')
	last := existing[idx+1:]
	switch {
	case strings.HasPrefix(last, "AI: "):
		return call.RoleAssistant
	case strings.HasPrefix(last, "User: "):
		return call.RoleUser
	}
	return call.RoleUnknown
}

// Merge appends one fragment to an existing transcript and returns the
// updated transcript plus the chunk that was appended.
//
// If the last line belongs to the same speaker the raw fragment is
// concatenated directly, modelling a continuous utterance being streamed. A
// speaker change (or an empty transcript) starts a new line of
// prefix + trimmed fragment. Merge is pure; persistence is the caller's
// problem.
//
// A fragment that is empty or whitespace-only is a no-op: the transcript is
// returned unchanged and the chunk is empty.
func Merge(existing, fragment string, role call.Role) (full, chunk string) {
	if strings.TrimSpace(fragment) == "" {
		return existing, ""
	}

	if existing == "" {
		chunk = strings.TrimSpace(prefix(role) + fragment)
		return chunk, chunk
	}

	if lastLineRole(existing) == role && role != call.RoleUnknown {
		return existing + fragment, fragment
	}

	chunk = strings.TrimSpace(prefix(role) + fragment)
	return existing + "\n" + chunk, chunk
}
