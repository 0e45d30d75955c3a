package main

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftsync/driftsync/internal/access"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/drivefeed"
	"github.com/driftsync/driftsync/internal/httpapi"
	"github.com/driftsync/driftsync/internal/ingest"
	"github.com/driftsync/driftsync/internal/knowledge"
	"github.com/driftsync/driftsync/internal/syncengine"
	"github.com/driftsync/driftsync/internal/token"
)

// runtime wires the configured components together for one command
// invocation.
type runtime struct {
	cfg       *config.Config
	logger    *log.Logger
	store     knowledge.Store
	credStore token.Store
	tokens    *token.Manager
	hub       *httpapi.EventHub
	engine    *syncengine.Engine
	scheduler *syncengine.Scheduler
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := buildLogger(cfg.Logging)

	store, err := knowledge.BuildStoreFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("build knowledge store: %w", err)
	}

	encryptionKey, err := cfg.DecodeEncryptionKey()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var credStore token.Store
	if cfg.Tokens.PostgresDSN != "" {
		credStore, err = token.NewPostgresStore(cfg.Tokens.PostgresDSN)
	} else {
		credStore, err = token.NewFileStore(cfg.Tokens.Dir)
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build credential store: %w", err)
	}
	tokens, err := token.NewManager(token.ManagerOptions{
		Store:         credStore,
		EncryptionKey: encryptionKey,
		TokenURL:      cfg.Tokens.TokenURL,
		ClientID:      cfg.Tokens.ClientID,
		Scopes:        cfg.Tokens.Scopes,
		RefreshMargin: cfg.Tokens.RefreshMargin,
		Logger:        logger,
	})
	if err != nil {
		_ = credStore.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build token manager: %w", err)
	}

	feed := drivefeed.NewHTTPClient(drivefeed.HTTPClientOptions{
		BaseURL:           cfg.Drive.BaseURL,
		MaxRetries:        cfg.Drive.MaxRetries,
		BaseDelay:         cfg.Drive.BaseDelay,
		MaxDelay:          cfg.Drive.MaxDelay,
		RequestsPerSecond: cfg.Drive.RequestsPerSecond,
		RequestBurst:      cfg.Drive.RequestBurst,
	})
	pipeline := ingest.NewHTTPPipeline(cfg.Ingest.BaseURL, cfg.Ingest.Token, nil)

	var identities access.IdentityResolver
	if len(cfg.Identity.Users) > 0 || len(cfg.Identity.Groups) > 0 {
		identities = access.StaticResolver{
			Users:  cfg.Identity.Users,
			Groups: cfg.Identity.Groups,
		}
	}

	hub := httpapi.NewEventHub()
	provider := cfg.Tokens.Provider
	engine, err := syncengine.NewEngine(syncengine.Options{
		Store:      store,
		Feed:       feed,
		Pipeline:   pipeline,
		Identities: identities,
		TokenSource: func(targetID string) drivefeed.TokenSource {
			return tokens.Source(token.Key{Provider: provider, Subject: targetID})
		},
		MaxWorkers:     cfg.Sync.MaxWorkers,
		MaxItemsPerRun: cfg.Sync.MaxItemsPerRun,
		OnProgress:     hub.Publish,
		Logger:         logger,
	})
	if err != nil {
		_ = credStore.Close()
		_ = store.Close()
		return nil, err
	}

	scheduler, err := syncengine.NewScheduler(syncengine.SchedulerOptions{
		Engine:       engine,
		Store:        store,
		PollInterval: cfg.Sync.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		_ = credStore.Close()
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		credStore: credStore,
		tokens:    tokens,
		hub:       hub,
		engine:    engine,
		scheduler: scheduler,
	}, nil
}

func (rt *runtime) close() {
	rt.engine.Close()
	if err := rt.credStore.Close(); err != nil {
		rt.logger.Printf("close credential store: %v", err)
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Printf("close knowledge store: %v", err)
	}
}

func buildLogger(cfg config.LoggingConfig) *log.Logger {
	if cfg.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}, "", log.LstdFlags)
}
