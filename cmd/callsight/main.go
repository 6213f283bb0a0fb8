// Command callsight is the call-dashboard backend: it ingests provider
// webhooks, maintains call records, and fans live state out to dashboard
// websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/callsight/callsight/internal/auth"
	"github.com/callsight/callsight/internal/config"
	"github.com/callsight/callsight/internal/health"
	"github.com/callsight/callsight/internal/hub"
	"github.com/callsight/callsight/internal/identity"
	"github.com/callsight/callsight/internal/ingest"
	"github.com/callsight/callsight/internal/observe"
	"github.com/callsight/callsight/internal/recordings"
	"github.com/callsight/callsight/internal/relay"
	"github.com/callsight/callsight/internal/server"
	"github.com/callsight/callsight/internal/store/memstore"
	"github.com/callsight/callsight/internal/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	devMode := flag.Bool("dev", false, "run with an in-memory store instead of PostgreSQL")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callsight: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callsight: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("callsight starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"dev", *devMode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Call store ────────────────────────────────────────────────────────────
	var (
		store   server.CallStore
		checks  []health.Checker
		profile identity.Directory
	)
	if *devMode {
		store = memstore.New()
		slog.Warn("dev mode: call records are not persisted")
	} else {
		pg, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		profile = pg
		checks = append(checks, health.Database(pg))
	}

	// ── Identity cache ────────────────────────────────────────────────────────
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer cache.Close()
		checks = append(checks, health.Redis(cache))
	}
	resolver := identity.New(profile, cache)

	// ── Recording archive (optional) ──────────────────────────────────────────
	var (
		archive ingest.RecordingStore
		signer  server.Signer
	)
	if cfg.Recordings.Bucket != "" {
		a, err := recordings.New(ctx, cfg.Recordings)
		if err != nil {
			slog.Error("failed to initialise recording archive", "err", err)
			return 1
		}
		archive, signer = a, a
		slog.Info("recording archive enabled", "bucket", cfg.Recordings.Bucket)
	} else {
		slog.Info("recording archive disabled: no bucket configured")
	}

	// ── Services ──────────────────────────────────────────────────────────────
	h := hub.New(cfg.Broadcast.SendTimeout, metrics)
	svc := ingest.New(ingest.Config{
		Repository: store,
		Broadcast:  h,
		Recordings: archive,
		Identity:   resolver,
		Metrics:    metrics,
	})

	srv := server.New(server.Options{
		Config:   *cfg,
		Store:    store,
		Ingest:   svc,
		Hub:      h,
		Bridge:   relay.New(store, metrics, nil),
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret),
		Health:   health.New(checks...),
		Signer:   signer,
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
