package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/callsight/callsight/internal/call"
)

// handleListCalls returns the caller's visible calls for one tenant, newest
// first. Admins see every tenant call; everyone else only their own.
func (s *Server) handleListCalls(c *gin.Context) {
	p := principal(c)
	tenantID := c.Param("tenant")
	if tenantID != p.TenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "wrong tenant"})
		return
	}

	userFilter := p.UserID
	if p.IsAdmin() {
		userFilter = ""
	}

	calls, err := s.store.ListByTenant(c.Request.Context(), tenantID, userFilter)
	if err != nil {
		slog.Error("list calls failed", "tenant_id", tenantID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	snaps := make([]call.Snapshot, 0, len(calls))
	for _, rec := range calls {
		snaps = append(snaps, call.NewSnapshot(rec))
	}
	c.JSON(http.StatusOK, gin.H{"calls": snaps})
}

// handleGetCall returns one call in full, with a signed playback URL when a
// recording is archived and signing is configured.
func (s *Server) handleGetCall(c *gin.Context) {
	p := principal(c)
	id := c.Param("id")

	rec, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, call.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		slog.Error("get call failed", "call_id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !canAccess(rec, p) {
		// Indistinguishable from a missing call, so IDs cannot be probed
		// across tenants.
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	resp := gin.H{"call": call.NewFullSnapshot(rec)}
	if s.signer != nil && rec.RecordingRef != "" {
		url, err := s.signer.SignedURL(c.Request.Context(), rec.RecordingRef)
		if err != nil {
			slog.Warn("recording sign failed", "call_id", id, "err", err)
		} else {
			resp["recordingUrl"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}
