// Package server is the HTTP boundary: the provider webhook, the dashboard
// and listen websockets, the REST read API, and the operational endpoints.
// Handlers stay thin; all semantics live in the internal services.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/call"
	"github.com/callsight/callsight/internal/config"
	"github.com/callsight/callsight/internal/health"
	"github.com/callsight/callsight/internal/hub"
	"github.com/callsight/callsight/internal/ingest"
	"github.com/callsight/callsight/internal/relay"
)

// shutdownTimeout bounds the drain of in-flight requests on shutdown.
const shutdownTimeout = 10 * time.Second

// CallStore is the read surface the API handlers need.
type CallStore interface {
	call.Repository
	ListByTenant(ctx context.Context, tenantID, userID string) ([]*call.Call, error)
}

// Signer turns a stored recording reference into a short-lived playback URL.
type Signer interface {
	SignedURL(ctx context.Context, ref string) (string, error)
}

// Server wires the HTTP surface to the internal services.
type Server struct {
	cfg      config.Config
	store    CallStore
	ingest   *ingest.Service
	hub      *hub.Hub
	bridge   *relay.Bridge
	verifier *auth.Verifier
	health   *health.Handler

	// signer is nil when recording storage is not configured; the detail
	// endpoint then omits playback URLs.
	signer Signer
}

// Options holds the Server dependencies.
type Options struct {
	Config   config.Config
	Store    CallStore
	Ingest   *ingest.Service
	Hub      *hub.Hub
	Bridge   *relay.Bridge
	Verifier *auth.Verifier
	Health   *health.Handler
	Signer   Signer
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		ingest:   opts.Ingest,
		hub:      opts.Hub,
		bridge:   opts.Bridge,
		verifier: opts.Verifier,
		health:   opts.Health,
		signer:   opts.Signer,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.POST("/webhooks/provider/:tenant", s.handleWebhook)

	r.GET("/ws/dashboard", s.handleDashboardWS)
	r.GET("/ws/listen/:callID", s.handleListenWS)

	api := r.Group("/api", s.requireToken())
	api.GET("/:tenant/calls", s.handleListCalls)
	api.GET("/calls/:id", s.handleGetCall)

	r.GET("/healthz", gin.WrapF(s.health.Healthz))
	r.GET("/readyz", gin.WrapF(s.health.Readyz))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Run serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening",
			"addr", s.cfg.Server.ListenAddr, "tls", s.cfg.Server.TLS != nil)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// canAccess applies the per-call visibility rule shared by the REST API and
// the dashboard subscribe path: same tenant, and admin, owner, or an unowned
// call.
func canAccess(c *call.Call, p auth.Principal) bool {
	if c.TenantID != p.TenantID {
		return false
	}
	if p.IsAdmin() || c.UserID == "" {
		return true
	}
	return c.UserID == p.UserID
}
