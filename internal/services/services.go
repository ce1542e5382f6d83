// package services defines interface Provider for interacting with streaming catalog APIs
//
// Spotify, YouTube Music (via proxy)
package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"golang.org/x/oauth2"
)

// Provider defines the capability interface for streaming catalogs
// (Spotify, YouTube Music) that supply personalization data and search.
//
// Implementations are stateless with respect to users: the access token for
// each call is supplied by the gateway, which owns token custody.
type Provider interface {
	// Name returns the provider tag this client serves.
	Name() models.Provider

	// AuthCodeURL returns the OAuth2 authorization URL for user login.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Refresh mints a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// Me returns the provider-side user ID for the token's owner.
	Me(ctx context.Context, accessToken string) (string, error)

	// TopArtists retrieves the user's most listened artists, with genres.
	TopArtists(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error)

	// TopTracks retrieves the user's most listened tracks.
	TopTracks(ctx context.Context, accessToken string, limit int) ([]models.Track, error)

	// AudioFeatures retrieves feature vectors keyed by track ID.
	// Providers without an analysis endpoint return shared.ErrFeatureUnsupported.
	AudioFeatures(ctx context.Context, accessToken string, trackIDs []string) (map[string]models.AudioFeatures, error)

	// Search runs a catalog search and returns unified tracks.
	Search(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error)

	// CreatePlaylist creates a playlist with the given track URIs and
	// returns its provider-side ID.
	CreatePlaylist(ctx context.Context, accessToken, name, description string, trackURIs []string) (string, error)
}

// StatusError is a non-2xx provider response. The gateway inspects the
// status code to decide between retry, re-authorization, and failure.
type StatusError struct {
	Provider   models.Provider
	StatusCode int
	RetryAfter time.Duration
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
}

// Temporary reports whether the response class is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Unauthorized reports whether the token behind the request was rejected.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// parseRetryAfter reads a provider's Retry-After hint in seconds or as an
// HTTP date.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if when, err := http.ParseTime(retryAfter); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}

	return 0
}
