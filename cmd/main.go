package main

import (
	"context"
	"errors"
	"os"

	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		Logger: logger,
	})

	app := &cli.Command{
		Name:     "crossfade",
		Usage:    "Synthesize cross-provider mixtapes from natural language prompts",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}
