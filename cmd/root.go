package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `kobold-gateway fronts a koboldcpp backend with prompt rendering and session history.

Usage:
  kobold-gateway <command> [flags]

Commands:
  serve    Start the HTTP server
  render   Print the rendered prompt of a stored session
  status   Print the status summary of a backend

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "render":
		return render(ctx, args[1:])
	case "status":
		return status(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
