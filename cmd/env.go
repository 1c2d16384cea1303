package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"

	"kobold-gateway/internal/config"
	"kobold-gateway/internal/history"
	"kobold-gateway/internal/models"
	"kobold-gateway/internal/profile"
)

const sqliteFile = "history.db"

// environment is everything a command needs from the configuration file and
// the process environment.
type environment struct {
	cfg      config.Config
	markers  models.Markers
	profiles *profile.Registry
	store    history.Store
	closer   io.Closer
}

// loadEnvironment reads .env, the configuration and its model profiles,
// installs the default logger and opens the history store.
func loadEnvironment(cfgPath string) (*environment, error) {
	// A missing .env file is not an error.
	_ = gotenv.Load()

	cfg, profiles, err := config.LoadFull(cfgPath)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(config.NewLogger(os.Stderr, level))

	markers := config.ResolveMarkers(os.LookupEnv)

	registry := profile.NewRegistry(cfg.DefaultModel, models.Profile{
		Name:    cfg.DefaultModel,
		Markers: markers,
	})
	for _, p := range profiles {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	env := &environment{
		cfg:      cfg,
		markers:  markers,
		profiles: registry,
	}
	if err := env.openStore(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *environment) openStore() error {
	switch e.cfg.HistoryBackend {
	case config.HistoryBackendSQLite:
		if err := os.MkdirAll(e.cfg.HistoryPath, 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
		store, err := history.OpenSQLite(filepath.Join(e.cfg.HistoryPath, sqliteFile))
		if err != nil {
			return err
		}
		e.store = store
		e.closer = store
	default:
		e.store = history.NewFileStore(e.cfg.HistoryPath)
	}
	return nil
}

// Close releases the history store.
func (e *environment) Close() {
	if e.closer == nil {
		return
	}
	if err := e.closer.Close(); err != nil {
		slog.Warn("close history store", "error", err)
	}
}
