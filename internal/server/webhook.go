package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/event"
)

// maxWebhookBody caps a single provider payload.
const maxWebhookBody = 4 << 20

// handleWebhook ingests one provider event for the tenant in the path. The
// optional user_id query parameter attributes the event to the agent whose
// session produced the call.
func (s *Server) handleWebhook(c *gin.Context) {
	tenantID := c.Param("tenant")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant required"})
		return
	}

	if !auth.CheckWebhookToken(s.cfg.Auth.WebhookToken, webhookToken(c)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	env, err := event.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	res, err := s.ingest.ProcessEvent(c.Request.Context(), tenantID, env, c.Query("user_id"))
	if err != nil {
		slog.Error("webhook processing failed",
			"tenant_id", tenantID, "call_id", env.CallID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	if res.Ignored {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"type":    res.Type,
		"callId":  res.CallID,
		"eventId": res.EventID,
	})
}

// webhookToken reads the provider credential from either the dedicated
// header or a bearer Authorization header.
func webhookToken(c *gin.Context) string {
	if tok := c.GetHeader("X-Webhook-Token"); tok != "" {
		return tok
	}
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	return strings.TrimPrefix(raw, "Bearer ")
}
