package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/crossfade-fm/crossfade/internal/formatter"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/crossfade-fm/crossfade/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Synthesize runs one prompt-to-playlist turn from the command line.
func (r *Runner) Synthesize(ctx context.Context, cmd *cli.Command) error {
	prompt := cmd.StringArg("prompt")
	if prompt == "" {
		return fmt.Errorf("%w: prompt", shared.ErrMissingArgument)
	}

	userID := cmd.String("user")
	if userID == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	progress := make(chan tasks.ProgressUpdate, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			r.logger.Info(update.Message, "phase", update.Phase.String(), "step", update.Step, "total", update.Total)
		}
	}()

	outcome, err := s.ledger.Synthesize(ctx, progress, userID, cmd.String("conversation"), prompt)
	close(progress)
	wg.Wait()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"conversationId": outcome.Conversation.ID(),
			"playlistId":     outcome.Playlist.ID(),
			"reply":          outcome.Reply.Content,
			"defaulted":      outcome.Defaulted,
			"degraded":       outcome.Playlist.Degraded,
		}, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n\n", outcome.Reply.Content)

	text, err := formatter.ExportToText(outcome.Playlist)
	if err != nil {
		return err
	}
	r.writePlain("%s", string(text))
	r.writePlain("\nPlaylist ID: %s\nConversation ID: %s\n", outcome.Playlist.ID(), outcome.Conversation.ID())
	return nil
}
