package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"kobold-gateway/internal/kobold"
	"kobold-gateway/internal/server"
)

const serveUsage = `Usage:
  kobold-gateway serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	env, err := loadEnvironment(cfgPath)
	if err != nil {
		return err
	}
	defer env.Close()

	if overridePort != 0 {
		if overridePort < 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		env.cfg.Server.Port = overridePort
	}

	client := kobold.New(
		kobold.WithMarkers(env.markers),
		kobold.WithLogger(slog.Default().With("component", "kobold")),
	)

	srv, err := server.New(env.cfg, client, env.store, env.profiles)
	if err != nil {
		return err
	}

	slog.Info("configuration loaded",
		"api_server", env.cfg.APIServer,
		"history_backend", env.cfg.HistoryBackend,
		"history_path", env.cfg.HistoryPath,
		"profiles", len(env.profiles.Names()),
		"default_model", env.cfg.DefaultModel,
	)

	return srv.Run(ctx)
}

var _ server.Backend = (*kobold.Client)(nil)
