package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvsink/internal/config"
	"github.com/JonMunkholm/csvsink/internal/database"
	"github.com/JonMunkholm/csvsink/internal/ingest"
	"github.com/JonMunkholm/csvsink/internal/logging"
	"github.com/JonMunkholm/csvsink/internal/notify"
	"github.com/JonMunkholm/csvsink/internal/storage"
)

// loadConfig reads .env (when present), the environment, and sets up logging.
func loadConfig() (*config.Config, error) {
	// Overload lets a local .env win over stale shell variables.
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if envErr == nil {
		slog.Debug("loaded .env file")
	}
	slog.Debug("configuration loaded", "config", cfg.String())
	return cfg, nil
}

// app wires the pipeline for one process. Connections are opened lazily,
// so building an app never touches the network.
type app struct {
	cfg        *config.Config
	store      storage.Store
	db         *database.Provider
	dispatcher *notify.Dispatcher
}

// newApp builds the pipeline over store, or over the configured store when
// store is nil.
func newApp(cfg *config.Config, store storage.Store) (*app, error) {
	if store == nil {
		var err error
		store, err = storage.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	db, err := database.NewProvider(cfg.Database)
	if err != nil {
		store.Close()
		return nil, err
	}

	writer, err := ingest.NewWriter(ingest.WriterConfig{
		Table:   cfg.Sink.Table,
		Mode:    ingest.Mode(cfg.Sink.Mode),
		Method:  ingest.Method(cfg.Sink.WriteMethod),
		Dialect: db.Dialect(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sink: %w", err)
	}

	pipeline := ingest.NewPipeline(store, db, writer, ingest.Options{
		BatchSize:       cfg.Sink.BatchSize,
		AutoCreate:      cfg.Sink.AutoCreate,
		ReplaceExisting: cfg.Sink.ReplaceExisting,
		RollbackTimeout: cfg.Sink.RollbackTimeout,
	})

	dispatcher := notify.NewDispatcher(pipeline, notify.Options{
		ThrowOnError:  cfg.Dispatch.ThrowOnError,
		Concurrency:   cfg.Dispatch.Concurrency,
		ObjectTimeout: cfg.Dispatch.ObjectTimeout,
	})

	slog.Info("pipeline ready",
		"driver", cfg.Database.Driver,
		"table", cfg.Sink.Table,
		"storage", cfg.Storage.Backend,
		"batch_size", cfg.Sink.BatchSize,
		"throw_on_error", cfg.Dispatch.ThrowOnError,
	)

	return &app{cfg: cfg, store: store, db: db, dispatcher: dispatcher}, nil
}

// Close releases the database pool and storage clients.
func (a *app) Close() {
	a.db.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("closing object store", "error", err)
	}
}
