package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/urfave/cli/v3"
)

// ProfileShow prints the user's taste profile, building it when absent.
func (r *Runner) ProfileShow(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	if userID == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	prof, err := s.analyzer.Profile(ctx, userID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"userId":          prof.UserID,
			"topArtists":      prof.TopArtists,
			"topTracks":       prof.TopTracks,
			"topGenres":       prof.TopGenres,
			"featureAverages": prof.FeatureAverages,
			"moodClusters":    prof.MoodClusters,
			"lastAnalyzed":    prof.LastAnalyzed,
		}, cmd.Bool("pretty"))
	}

	return r.printProfile(prof)
}

// ProfileRefresh rebuilds the profile from live provider data.
func (r *Runner) ProfileRefresh(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	if userID == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	prof, err := s.analyzer.BuildProfile(ctx, userID)
	if err != nil {
		return err
	}

	r.logger.Info("profile rebuilt",
		"user", userID,
		"artists", len(prof.TopArtists),
		"tracks", len(prof.TopTracks))
	return r.printProfile(prof)
}

func (r *Runner) printProfile(prof *models.MusicProfile) error {
	r.writePlain("Profile for %s (analyzed %s)\n\n", prof.UserID, prof.LastAnalyzed.Format("2006-01-02 15:04"))
	r.writePlain("%s\n\n", profile.Summary(prof))

	if len(prof.TopArtists) > 0 {
		r.writePlain("Top artists:\n")
		limit := min(len(prof.TopArtists), 10)
		for i, artist := range prof.TopArtists[:limit] {
			genres := ""
			if len(artist.Genres) > 0 {
				genres = " (" + strings.Join(artist.Genres, ", ") + ")"
			}
			r.writePlain("  %d. %s%s\n", i+1, artist.Name, genres)
		}
	}

	if len(prof.MoodClusters) > 0 {
		r.writePlain("\nMood clusters:\n")
		for _, cluster := range prof.MoodClusters {
			r.writePlain("  %s: %d tracks\n", cluster.Name, cluster.Size)
		}
	}
	return nil
}
