package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vanntrong/qaserve-go/internal/config"
	"github.com/vanntrong/qaserve-go/internal/embedder"
	"github.com/vanntrong/qaserve-go/internal/engine"
	"github.com/vanntrong/qaserve-go/internal/jobs"
	"github.com/vanntrong/qaserve-go/internal/locking"
	"github.com/vanntrong/qaserve-go/internal/store"
)

// app bundles the wired components shared by the subcommands. Construct it
// with buildApp and always call close (it is safe on partial failure paths).
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  *store.SQLiteStore
	model  *embedder.ModelServer
	queue  *jobs.Queue
	engine *engine.Engine
}

// buildApp opens the record store, wires the model client, lock coordinator,
// job queue and engine, and reconciles the cache and index against the
// store. The returned close function releases everything in reverse order.
func buildApp(ctx context.Context, log *slog.Logger) (*app, func(), error) {
	cfg := loadedConfig

	s, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open record store: %w", err)
	}

	model := embedder.NewModelServer(&embedder.ModelServerConfig{
		Endpoint:       cfg.Model.Endpoint,
		CheckpointPath: cfg.Model.CheckpointPath,
		APIKey:         cfg.Model.APIKey,
	})

	locker, err := locking.NewFileLocker(cfg.Snapshot.LockDir, log)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	queue := jobs.New(jobs.Options{DeadLetter: s, Logger: log})

	eng, err := engine.New(engine.Options{
		Store:    s,
		Embedder: model,
		Trainer:  model,
		Locker:   locker,
		Queue:    queue,
		Config:   cfg,
		Logger:   log,
	})
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	if err := eng.Reconcile(ctx); err != nil {
		_ = eng.Close()
		_ = s.Close()
		return nil, nil, err
	}

	a := &app{cfg: cfg, log: log, store: s, model: model, queue: queue, engine: eng}
	closeAll := func() {
		_ = a.engine.Close()
		_ = a.store.Close()
	}
	return a, closeAll, nil
}
