package main

import (
	"context"
	"fmt"

	"github.com/crossfade-fm/crossfade/internal/formatter"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/urfave/cli/v3"
)

// PlaylistShow prints a synthesized playlist.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	playlist, err := s.ledger.Playlist(id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		metadata, err := formatter.ToMetadataJSON(playlist)
		if err != nil {
			return err
		}
		return r.writePlain("%s\n", string(metadata))
	}

	text, err := formatter.ExportToText(playlist)
	if err != nil {
		return err
	}
	return r.writePlain("%s", string(text))
}

// PlaylistExport pushes a playlist into a provider's catalog.
func (r *Runner) PlaylistExport(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	provider, err := models.ParseProvider(cmd.StringArg("provider"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	externalID, err := s.ledger.ExportPlaylist(ctx, id, provider)
	if err != nil {
		return fmt.Errorf("export to %s failed: %w", provider, err)
	}

	return r.writePlain("✓ Exported to %s as %s\n", provider, externalID)
}

// PlaylistSave writes a playlist to local files in the chosen format.
func (r *Runner) PlaylistSave(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	playlist, err := s.ledger.Playlist(id)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	switch format := cmd.String("format"); format {
	case "csv":
		result, err := formatter.WriteCSVExport(playlist, output)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %s and %s\n", result.TracksFile, result.MetadataFile)
	case "markdown":
		imageURL := ""
		if len(playlist.Tracks) > 0 {
			imageURL = playlist.Tracks[0].ImageURL
		}
		result, err := formatter.WriteMarkdownExport(playlist, output, imageURL)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %s\n", result.Directory)
	default:
		return fmt.Errorf("%w: format %q (want csv or markdown)", shared.ErrInvalidFlag, format)
	}
}
