package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, fills in
// defaults for unset optional fields, and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret must be set"))
	}
	if cfg.Auth.WebhookToken == "" {
		slog.Warn("auth.webhook_token is empty; provider webhooks will be accepted unauthenticated")
	}

	if cfg.Broadcast.SendTimeout <= 0 {
		cfg.Broadcast.SendTimeout = DefaultSendTimeout
	}
	if cfg.Recordings.SignTTL <= 0 {
		cfg.Recordings.SignTTL = DefaultSignTTL
	}
	if cfg.Recordings.FetchTimeout <= 0 {
		cfg.Recordings.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Recordings.Bucket != "" && cfg.Recordings.Region == "" && cfg.Recordings.Endpoint == "" {
		errs = append(errs, errors.New("recordings.bucket is set but neither region nor endpoint is configured"))
	}
	if cfg.Recordings.Bucket == "" {
		slog.Warn("recordings.bucket is empty; call recordings will not be archived")
	}

	return errors.Join(errs...)
}
