package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/example/timetracker/internal/config"
	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/logging"
	"github.com/example/timetracker/internal/queue"
	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/remote/folder"
	"github.com/example/timetracker/internal/remote/httpapi"
	"github.com/example/timetracker/internal/retention"
	"github.com/example/timetracker/internal/store"
	"github.com/example/timetracker/internal/syncer"
)

// app bundles the components every command needs: configuration, the opened
// store, and the remote backend selected by it.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	repo    *entity.Repo
	queue   *queue.Queue
	backend remote.Backend
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagDataDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	removed, err := st.Migrate(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	// The dedupe sweep only deletes rows; their capture files are unlinked
	// here, after the transaction has committed.
	for _, path := range removed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove deduped capture file", "path", path, "error", err)
		}
	}

	var backend remote.Backend
	switch cfg.RemoteBackend {
	case config.BackendHTTP:
		backend = httpapi.New(cfg, logger)
	default:
		backend = folder.New(cfg, logger)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		repo:    entity.NewRepo(st, time.Now),
		queue:   queue.New(st, time.Now),
		backend: backend,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

func (a *app) newEngine() *syncer.Engine {
	ret := retention.New(a.repo, a.backend,
		a.cfg.RetentionDaysLocal, a.cfg.RetentionDaysRemote, time.Now, a.logger)
	return syncer.New(a.repo, a.queue, a.backend, ret, syncer.Options{
		AppVersion: version,
		Logger:     a.logger,
	})
}
