// Package identity resolves user IDs to display names for call records.
// Resolution is best-effort: a cache or directory failure yields no name,
// never an error surfaced to the caller.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callsight/callsight/internal/call"
)

// cacheTTL bounds how stale a cached display name can get after a profile
// edit.
const cacheTTL = 10 * time.Minute

const cachePrefix = "callsight:displayname:"

// Directory is the authoritative profile lookup, backed by the profiles
// table.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Resolver caches directory lookups in Redis. A nil redis client disables
// caching; a nil directory disables resolution entirely.
type Resolver struct {
	directory Directory
	cache     *redis.Client
}

// New creates a Resolver.
func New(directory Directory, cache *redis.Client) *Resolver {
	return &Resolver{directory: directory, cache: cache}
}

// DisplayName resolves userID to a human-readable name. The second return is
// false when no name could be resolved, for any reason.
func (r *Resolver) DisplayName(ctx context.Context, userID string) (string, bool) {
	if r.directory == nil || userID == "" {
		return "", false
	}

	key := cachePrefix + userID
	if r.cache != nil {
		name, err := r.cache.Get(ctx, key).Result()
		switch {
		case err == nil && name != "":
			return name, true
		case err != nil && !errors.Is(err, redis.Nil):
			slog.Debug("display name cache read failed", "user_id", userID, "err", err)
		}
	}

	name, err := r.directory.DisplayName(ctx, userID)
	if err != nil {
		if !errors.Is(err, call.ErrNotFound) {
			slog.Warn("display name lookup failed", "user_id", userID, "err", err)
		}
		return "", false
	}
	if name == "" {
		return "", false
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, name, cacheTTL).Err(); err != nil {
			slog.Debug("display name cache write failed", "user_id", userID, "err", err)
		}
	}
	return name, true
}
