package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/scry-deck/internal/config"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/platform/anki"
	"github.com/phrazzld/scry-deck/internal/platform/deckapi"
	"github.com/phrazzld/scry-deck/internal/platform/logger"
	"github.com/phrazzld/scry-deck/internal/platform/sqlite"
	"github.com/phrazzld/scry-deck/internal/redact"
	"github.com/phrazzld/scry-deck/internal/service"
	"github.com/phrazzld/scry-deck/internal/session"
	"github.com/phrazzld/scry-deck/internal/state"
	"github.com/phrazzld/scry-deck/internal/store"
)

// app holds the wired client for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.KVStore
	remote     generation.Service
	anki       *anki.Client
	state      *state.Container
	sessions   *session.Manager
	generation *service.GenerationService
	review     *service.ReviewService
	sync       *service.SyncService
}

// newApp loads configuration, sets up logging and wires every component.
// Log records go to logOut.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.SetupWithWriter(cfg.Client, logOut)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		slog.String("server_url", redact.String(cfg.Client.ServerURL)),
		slog.String("anki_url", cfg.Anki.URL),
		slog.Bool("durable_storage", cfg.Storage.Path != ""))

	kv := openStore(ctx, cfg.Storage, log)

	remote, err := deckapi.NewClient(cfg.Client, log)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	ankiClient, err := anki.NewClient(cfg.Anki, cfg.Client.RequestTimeout, log)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to create anki client: %w", err)
	}

	a, err := wire(cfg, log, kv, remote, ankiClient)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.anki = ankiClient
	return a, nil
}

// wire builds the services on top of already constructed collaborators.
func wire(
	cfg *config.Config,
	log *slog.Logger,
	kv store.KVStore,
	remote generation.Service,
	ankiClient service.AnkiClient,
) (*app, error) {
	st := state.New(log)

	sessions, err := session.NewManager(st, kv, remote, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	gen, err := service.NewGenerationService(st, remote, sessions, service.GenerationOptions{
		StreamIdleTimeout: cfg.Generation.StreamIdleTimeout,
		DefaultModel:      cfg.Generation.DefaultModel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation service: %w", err)
	}

	syncer, err := service.NewSyncService(st, remote, service.SyncOptions{
		StreamIdleTimeout: cfg.Generation.StreamIdleTimeout,
		SuccessBannerTTL:  cfg.Sync.SuccessBannerTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}

	review, err := service.NewReviewService(st, remote, ankiClient, syncer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create review service: %w", err)
	}

	return &app{
		cfg:        cfg,
		logger:     log,
		store:      kv,
		remote:     remote,
		state:      st,
		sessions:   sessions,
		generation: gen,
		review:     review,
		sync:       syncer,
	}, nil
}

// openStore opens the sqlite store, falling back to memory when no path is
// configured or the database cannot be opened.
func openStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) store.KVStore {
	if cfg.Path == "" {
		log.Debug("no storage path configured, session tracked in memory")
		return store.NewMemoryKVStore()
	}

	kv, err := sqlite.Open(ctx, cfg.Path, log)
	if err != nil {
		log.Warn("durable storage unavailable, session tracked in memory",
			slog.String("path", redact.String(cfg.Path)),
			redact.Attr(err))
		return store.NewMemoryKVStore()
	}
	return kv
}

// reset detaches any running sync before tearing down the workflow.
func (a *app) reset(ctx context.Context) {
	a.sync.Detach()
	a.generation.Reset(ctx)
}

func (a *app) Close() {
	a.sync.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", redact.Attr(err))
	}
}
