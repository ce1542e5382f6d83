// YouTube Music API [Provider] implementation
//
// Communicates with a ytmusicapi-backed REST proxy. The proxy forwards the
// user's Google OAuth token, so token custody stays with the gateway just
// like Spotify. YouTube Music has no audio-analysis endpoint; features are
// reported as unsupported and the mixer treats them as neutral.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"golang.org/x/oauth2"
)

const (
	youtubeAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	youtubeTokenURL  = "https://oauth2.googleapis.com/token"
	defaultYTBaseURL = "http://localhost:8081"
	youtubeWatchURL  = "https://music.youtube.com/watch?v="
)

// YouTubeImage represents an image/thumbnail from YouTube Music.
type YouTubeImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name   string   `json:"name"`
	ID     string   `json:"id"`
	Genres []string `json:"genres,omitempty"`
}

type youtubeAlbum struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a track/video in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	Album       *youtubeAlbum   `json:"album"`
	DurationSec int             `json:"duration_seconds"`
	Thumbnails  []YouTubeImage  `json:"thumbnails"`
}

// YouTubeService implements the [Provider] interface for YouTube Music via proxy.
type YouTubeService struct {
	config     *oauth2.Config
	baseURL    string
	httpClient *http.Client
}

var _ Provider = (*YouTubeService)(nil)

// NewYouTubeService creates a new YouTube Music service instance.
func NewYouTubeService(creds shared.ProviderCredentials) (*YouTubeService, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing youtube client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing youtube client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:8080/auth/youtube/callback"
	}

	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  youtubeAuthURL,
			TokenURL: youtubeTokenURL,
		},
	}

	return &YouTubeService{
		config:     config,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}, nil
}

// Name returns the provider tag.
func (y *YouTubeService) Name() models.Provider {
	return models.ProviderYouTube
}

// AuthCodeURL returns the OAuth2 authorization URL for user login.
func (y *YouTubeService) AuthCodeURL(state string) string {
	return y.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (y *YouTubeService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := y.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return token, nil
}

// Refresh mints a new access token from a refresh token.
func (y *YouTubeService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	source := y.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	return token, nil
}

func (y *YouTubeService) doRequest(ctx context.Context, accessToken, method, endpoint string, body *strings.Reader, result any) error {
	if accessToken == "" {
		return shared.ErrNotAuthenticated
	}

	apiURL := y.baseURL + endpoint

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, apiURL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, apiURL, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			detail = errResp.Detail
		}
		return &StatusError{
			Provider:   models.ProviderYouTube,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp),
			Detail:     detail,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Me retrieves the channel ID for the token's owner.
func (y *YouTubeService) Me(ctx context.Context, accessToken string) (string, error) {
	var me struct {
		ChannelID string `json:"channelId"`
	}
	if err := y.doRequest(ctx, accessToken, http.MethodGet, "/api/me", nil, &me); err != nil {
		return "", err
	}
	return me.ChannelID, nil
}

// TopArtists retrieves the user's most played artists from their library.
func (y *YouTubeService) TopArtists(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error) {
	limit = clampLimit(limit, 20, 50)
	endpoint := fmt.Sprintf("/api/library/top-artists?limit=%d", limit)

	var ytArtists []YouTubeArtist
	if err := y.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &ytArtists); err != nil {
		return nil, err
	}

	artists := make([]models.ArtistRef, 0, len(ytArtists))
	for _, a := range ytArtists {
		artists = append(artists, models.ArtistRef{
			ID:     a.ID,
			Name:   a.Name,
			Genres: a.Genres,
			Source: models.ProviderYouTube,
		})
	}

	return artists, nil
}

// TopTracks retrieves the user's most played tracks from their history.
func (y *YouTubeService) TopTracks(ctx context.Context, accessToken string, limit int) ([]models.Track, error) {
	limit = clampLimit(limit, 20, 50)
	endpoint := fmt.Sprintf("/api/library/top-tracks?limit=%d", limit)

	var ytTracks []YouTubeTrack
	if err := y.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &ytTracks); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(ytTracks))
	for _, yt := range ytTracks {
		tracks = append(tracks, mapYouTubeTrack(yt))
	}

	return tracks, nil
}

// AudioFeatures is unsupported: YouTube Music exposes no analysis endpoint.
func (y *YouTubeService) AudioFeatures(ctx context.Context, accessToken string, trackIDs []string) (map[string]models.AudioFeatures, error) {
	return nil, shared.ErrFeatureUnsupported
}

// Search runs a song search against the catalog.
func (y *YouTubeService) Search(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error) {
	limit = clampLimit(limit, 10, 50)
	endpoint := fmt.Sprintf("/api/search?q=%s&filter=songs&limit=%d", url.QueryEscape(query), limit)

	var ytTracks []YouTubeTrack
	if err := y.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &ytTracks); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(ytTracks))
	for _, yt := range ytTracks {
		tracks = append(tracks, mapYouTubeTrack(yt))
	}

	return tracks, nil
}

// CreatePlaylist creates a private playlist with the given video IDs.
func (y *YouTubeService) CreatePlaylist(ctx context.Context, accessToken, name, description string, trackURIs []string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"title":       name,
		"description": description,
		"privacy":     "PRIVATE",
		"videoIds":    trackURIs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal playlist body: %w", err)
	}

	var created struct {
		PlaylistID string `json:"playlistId"`
	}
	if err := y.doRequest(ctx, accessToken, http.MethodPost, "/api/playlists", strings.NewReader(string(body)), &created); err != nil {
		return "", err
	}

	return created.PlaylistID, nil
}

func mapYouTubeTrack(yt YouTubeTrack) models.Track {
	track := models.Track{
		ID:         yt.VideoID,
		Name:       yt.Title,
		DurationMS: yt.DurationSec * 1000,
		Source:     models.ProviderYouTube,
		URI:        yt.VideoID,
	}

	if len(yt.Artists) > 0 {
		track.Artist = yt.Artists[0].Name
	}
	if yt.Album != nil {
		track.Album = yt.Album.Name
	}
	if len(yt.Thumbnails) > 0 {
		track.ImageURL = yt.Thumbnails[len(yt.Thumbnails)-1].URL
	}
	if yt.VideoID != "" {
		track.ExternalURLs = map[models.Provider]string{models.ProviderYouTube: youtubeWatchURL + yt.VideoID}
	}

	return track
}
