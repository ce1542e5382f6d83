package main

import (
	"context"
	"fmt"

	"github.com/crossfade-fm/crossfade/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve starts the HTTP API and blocks until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	config := r.loadConfig(cmd)
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	if cmd.String("addr") != "" {
		addr = cmd.String("addr")
	}

	srv := server.New(server.Opts{
		Addr:     addr,
		Ledger:   s.ledger,
		Analyzer: s.analyzer,
		Gateway:  s.gw,
		Logger:   r.logger,
	})

	return srv.Run()
}
