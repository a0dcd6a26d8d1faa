package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/deckrelay/internal/api"
	"github.com/mattjoyce/deckrelay/internal/auth"
	"github.com/mattjoyce/deckrelay/internal/config"
	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/launch"
	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/metrics"
	"github.com/mattjoyce/deckrelay/internal/relay"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// services are the process-wide collaborators every mode shares.
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	hub     *events.Hub

	db      *sql.DB
	journal *storage.RelayJournal
}

// setup loads configuration and initializes logging. Errors are printed to
// stderr here; callers only map them to exit codes.
func setup(configPath string) (*services, error) {
	path, err := config.Discover(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("deckrelay starting", "version", version, "config", cfg.Path, "config_hash", cfg.Fingerprint)

	return &services{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		hub:     events.NewHub(256),
	}, nil
}

// openJournal opens the relay journal when one is configured.
func (s *services) openJournal(ctx context.Context) error {
	if s.cfg.Relay.JournalPath == "" {
		return nil
	}
	db, err := storage.OpenSQLite(ctx, s.cfg.Relay.JournalPath)
	if err != nil {
		return fmt.Errorf("open relay journal %s: %w", s.cfg.Relay.JournalPath, err)
	}
	s.db = db
	s.journal = storage.NewRelayJournal(db)
	s.logger.Info("relay journal opened", "path", s.cfg.Relay.JournalPath)
	return nil
}

func (s *services) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *services) relayOptions() relay.Options {
	return relay.Options{
		Host:         s.cfg.Relay.Host,
		BasePort:     s.cfg.Relay.BasePort,
		ProbeTimeout: s.cfg.Relay.ProbeTimeout,
		RetryBackoff: s.cfg.Relay.RetryBackoff,
		Metrics:      s.metrics,
	}
}

// brokerOptions wire a broker to the journal, hub and metrics. Broadcasts
// must carry valid launch parameters.
func (s *services) brokerOptions() []relay.BrokerOption {
	opts := []relay.BrokerOption{
		relay.WithPublisher(s.hub),
		relay.WithMetrics(s.metrics),
		relay.WithValidator(func(args []string) error {
			_, err := launch.Parse(args)
			return err
		}),
	}
	if s.journal != nil {
		opts = append(opts, relay.WithJournal(s.journal))
	}
	return opts
}

// startAPI runs the inspection server in the background when enabled.
// Either source may be nil.
func (s *services) startAPI(ctx context.Context, broker api.BrokerInspector, routers api.RouterInspector) {
	if !s.cfg.API.Enabled {
		return
	}
	tokens := make([]auth.TokenConfig, 0, len(s.cfg.API.Tokens))
	for _, t := range s.cfg.API.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	cfg := api.Config{
		Listen:      s.cfg.API.Listen,
		Tokens:      tokens,
		Fingerprint: s.cfg.Fingerprint,
		Broker:      broker,
		Routers:     routers,
		Events:      s.hub,
		Metrics:     s.metrics.Handler(),
	}
	if s.journal != nil {
		cfg.Journal = s.journal
	}
	srv := api.New(cfg, log.WithComponent("api"))
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}
