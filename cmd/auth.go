package main

import (
	"context"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin prints the provider's authorization URL and opens it in the
// browser. The authorization code from the redirect completes the link via
// the --code flag or the running server's callback route.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	provider, err := models.ParseProvider(cmd.StringArg("provider"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
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

	if code := cmd.String("code"); code != "" {
		conn, err := s.gw.Link(ctx, userID, provider, code)
		if err != nil {
			return fmt.Errorf("failed to link %s: %w", provider, err)
		}
		r.logger.Info("provider linked", "provider", provider, "provider_user", conn.ProviderUserID)
		return r.writePlain("✓ Linked %s for %s\n", provider, userID)
	}

	client, err := s.gw.Provider(provider)
	if err != nil {
		return err
	}

	url := client.AuthCodeURL("cli:" + userID)
	r.writePlain("Open the following URL to authorize %s:\n\n%s\n\n", provider, url)
	r.writePlain("Then rerun with --code <authorization code>\n")

	if err := shared.OpenBrowser(url); err != nil {
		r.logger.Debug("could not open browser", "error", err)
	}
	return nil
}

// AuthStatus lists the user's provider connections and their token state.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	if userID == "" {
		return fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}

	s, err := r.buildStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	conns, err := s.gw.Connections(ctx, userID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return r.writePlain("No linked providers for %s\n", userID)
	}

	for _, conn := range conns {
		state := "valid"
		if conn.Expired(time.Now(), 0) {
			state = "expired"
		}
		r.writePlain("%s: %s (token %s, expires %s)\n",
			conn.Provider, conn.Status, state, conn.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// AuthRefresh forces a token refresh for one provider.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	provider, err := models.ParseProvider(cmd.StringArg("provider"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
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

	conn, err := s.gw.ForceRefresh(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("refresh failed for %s: %w", provider, err)
	}

	return r.writePlain("✓ Refreshed %s, expires %s\n", provider, conn.ExpiresAt.Format(time.RFC3339))
}
