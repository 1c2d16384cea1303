package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"kobold-gateway/internal/session"
)

const renderUsage = `Usage:
  kobold-gateway render --config <path> --session <id> [--model <name>]

Flags:
  --config  string   Path to YAML configuration file (required)
  --session string   Session id to render (required)
  --model   string   Model profile; defaults to default_model`

func render(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, renderUsage)
	}

	var cfgPath, sessionID, model string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&sessionID, "session", "", "session id")
	fs.StringVar(&model, "model", "", "model profile name")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse render flags: %w", err)
	}
	if cfgPath == "" || sessionID == "" {
		return errors.New("render command requires --config <path> and --session <id>")
	}

	env, err := loadEnvironment(cfgPath)
	if err != nil {
		return err
	}
	defer env.Close()

	p, err := env.profiles.Lookup(model)
	if err != nil {
		return err
	}
	h, err := env.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Print(session.FromHistory(p, h).FormatPrompt())
	return nil
}
