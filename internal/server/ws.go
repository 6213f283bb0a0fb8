package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/hub"
)

// clientCommand is the only message shape dashboard clients send.
type clientCommand struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

// handleDashboardWS upgrades a dashboard connection, registers it with the
// hub and serves its subscribe/unsubscribe loop until the peer goes away.
func (s *Server) handleDashboardWS(c *gin.Context) {
	p, ok := s.verifyWS(c)
	if !ok {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("dashboard upgrade failed", "err", err)
		return
	}

	wsc := hub.NewWSConn(conn)
	s.hub.Register(wsc, hub.ClientInfo{UserID: p.UserID, Role: p.Role, TenantID: p.TenantID})
	defer s.hub.Unregister(wsc)
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := c.Request.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !isClientGone(err) {
				slog.Debug("dashboard read failed", "user_id", p.UserID, "err", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.CallID == "" {
			continue
		}

		switch cmd.Type {
		case "subscribe":
			s.subscribe(ctx, wsc, cmd.CallID, p)
		case "unsubscribe":
			s.hub.Unsubscribe(wsc, cmd.CallID)
		}
	}
}

// subscribe vets the caller's access to the call, adds the subscription and
// pushes the current transcript so the viewer does not start from a blank
// pane. Unknown calls are subscribed blind: events may arrive before the
// record exists.
func (s *Server) subscribe(ctx context.Context, wsc *hub.WSConn, callID string, p auth.Principal) {
	rec, err := s.store.Get(ctx, callID)
	switch {
	case errors.Is(err, call.ErrNotFound):
		s.hub.Subscribe(wsc, callID)
		return
	case err != nil:
		slog.Warn("subscribe lookup failed", "call_id", callID, "err", err)
		return
	}

	if !canAccess(rec, p) {
		slog.Warn("subscribe denied", "call_id", callID, "user_id", p.UserID)
		return
	}
	s.hub.Subscribe(wsc, callID)

	transcript := rec.LiveTranscript
	if transcript == "" {
		transcript = rec.FinalTranscript
	}
	if transcript != "" {
		s.hub.SendTo(ctx, wsc, hub.NewTranscriptUpdate(rec.TenantID, callID, "", transcript))
	}
}

// handleListenWS upgrades a listen connection and hands it to the relay
// bridge. Authorisation happens inside the bridge, which closes the socket
// with a distinct status code on denial.
func (s *Server) handleListenWS(c *gin.Context) {
	p, ok := s.verifyWS(c)
	if !ok {
		return
	}
	callID := c.Param("callID")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("listen upgrade failed", "call_id", callID, "err", err)
		return
	}

	if err := s.bridge.Serve(c.Request.Context(), conn, callID, p); err != nil {
		slog.Warn("relay ended with error", "call_id", callID, "err", err)
	}
}

// isClientGone reports whether a read error is an ordinary disconnect.
func isClientGone(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
