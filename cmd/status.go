package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"kobold-gateway/internal/kobold"
)

const statusUsage = `Usage:
  kobold-gateway status --server <url> [--timeout <duration>]

Flags:
  --server  string     Backend base URL (required)
  --timeout duration   Overall deadline for the status calls (default 10s)`

func status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, statusUsage)
	}

	var apiServer string
	var timeout time.Duration
	fs.StringVar(&apiServer, "server", "", "backend base URL")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "deadline for the status calls")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse status flags: %w", err)
	}
	if apiServer == "" {
		return errors.New("status command requires --server <url>")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summary, err := kobold.New().Status(ctx, apiServer)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
