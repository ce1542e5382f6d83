// Spotify API implementation of [Provider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
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
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	PreviewURL   string          `json:"preview_url"`
	ExternalURLs externalURLs    `json:"external_urls"`
	Popularity   int             `json:"popularity"`
	URI          string          `json:"uri"`
}

// SpotifyAudioFeatures represents the audio analysis summary for a track.
type SpotifyAudioFeatures struct {
	ID               string  `json:"id"`
	Energy           float64 `json:"energy"`
	Danceability     float64 `json:"danceability"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Speechiness      float64 `json:"speechiness"`
}

type spotifyPaging[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// SpotifyService implements the [Provider] interface for Spotify API interactions.
// Uses [oauth2] for the authorization-code and refresh-token grants.
type SpotifyService struct {
	config     *oauth2.Config
	baseURL    string
	httpClient *http.Client
}

var _ Provider = (*SpotifyService)(nil)

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(creds shared.ProviderCredentials) (*SpotifyService, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:8080/auth/spotify/callback"
	}

	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-top-read",
			"playlist-modify-private",
			"playlist-modify-public",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}, nil
}

func (s *SpotifyService) Name() models.Provider {
	return models.ProviderSpotify
}

// AuthCodeURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return token, nil
}

// Refresh mints a new access token from a refresh token.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	return token, nil
}

// doRequest performs an authenticated HTTP request against the Spotify API.
func (s *SpotifyService) doRequest(ctx context.Context, accessToken, method, endpoint string, body *strings.Reader, result any) error {
	if accessToken == "" {
		return shared.ErrNotAuthenticated
	}

	apiURL := s.baseURL + endpoint

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

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			detail = errResp.Error.Message
		}
		return &StatusError{
			Provider:   models.ProviderSpotify,
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

// Me retrieves the authenticated user's Spotify ID.
func (s *SpotifyService) Me(ctx context.Context, accessToken string) (string, error) {
	var user struct {
		ID string `json:"id"`
	}
	if err := s.doRequest(ctx, accessToken, http.MethodGet, "/me", nil, &user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// TopArtists retrieves the user's top artists over the medium term.
func (s *SpotifyService) TopArtists(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error) {
	limit = clampLimit(limit, 20, 50)
	endpoint := fmt.Sprintf("/me/top/artists?limit=%d&time_range=medium_term", limit)

	var response spotifyPaging[SpotifyArtist]
	if err := s.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	artists := make([]models.ArtistRef, 0, len(response.Items))
	for _, a := range response.Items {
		artists = append(artists, models.ArtistRef{
			ID:     a.ID,
			Name:   a.Name,
			Genres: a.Genres,
			Source: models.ProviderSpotify,
		})
	}

	return artists, nil
}

// TopTracks retrieves the user's top tracks over the medium term.
func (s *SpotifyService) TopTracks(ctx context.Context, accessToken string, limit int) ([]models.Track, error) {
	limit = clampLimit(limit, 20, 50)
	endpoint := fmt.Sprintf("/me/top/tracks?limit=%d&time_range=medium_term", limit)

	var response spotifyPaging[SpotifyTrack]
	if err := s.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(response.Items))
	for _, st := range response.Items {
		tracks = append(tracks, mapSpotifyTrack(st))
	}

	return tracks, nil
}

// AudioFeatures retrieves feature vectors for up to 100 tracks per request.
func (s *SpotifyService) AudioFeatures(ctx context.Context, accessToken string, trackIDs []string) (map[string]models.AudioFeatures, error) {
	features := make(map[string]models.AudioFeatures, len(trackIDs))

	const batchSize = 100
	for start := 0; start < len(trackIDs); start += batchSize {
		end := min(start+batchSize, len(trackIDs))
		ids := strings.Join(trackIDs[start:end], ",")
		endpoint := fmt.Sprintf("/audio-features?ids=%s", url.QueryEscape(ids))

		var response struct {
			AudioFeatures []*SpotifyAudioFeatures `json:"audio_features"`
		}
		if err := s.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &response); err != nil {
			return nil, err
		}

		for _, f := range response.AudioFeatures {
			if f == nil {
				// Spotify returns null for tracks without analysis.
				continue
			}
			features[f.ID] = models.AudioFeatures{
				Energy:           f.Energy,
				Danceability:     f.Danceability,
				Valence:          f.Valence,
				Tempo:            f.Tempo,
				Acousticness:     f.Acousticness,
				Instrumentalness: f.Instrumentalness,
				Liveness:         f.Liveness,
				Speechiness:      f.Speechiness,
			}
		}
	}

	return features, nil
}

// Search runs a track search against the catalog.
func (s *SpotifyService) Search(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error) {
	limit = clampLimit(limit, 10, 50)
	endpoint := fmt.Sprintf("/search?type=track&q=%s&limit=%d", url.QueryEscape(query), limit)

	var response struct {
		Tracks spotifyPaging[SpotifyTrack] `json:"tracks"`
	}
	if err := s.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(response.Tracks.Items))
	for _, st := range response.Tracks.Items {
		tracks = append(tracks, mapSpotifyTrack(st))
	}

	return tracks, nil
}

// CreatePlaylist creates a private playlist and adds the given track URIs.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, accessToken, name, description string, trackURIs []string) (string, error) {
	createBody, err := json.Marshal(map[string]any{
		"name":        name,
		"description": description,
		"public":      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal playlist body: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := s.doRequest(ctx, accessToken, http.MethodPost, "/me/playlists", strings.NewReader(string(createBody)), &created); err != nil {
		return "", err
	}

	const batchSize = 100
	for start := 0; start < len(trackURIs); start += batchSize {
		end := min(start+batchSize, len(trackURIs))
		addBody, err := json.Marshal(map[string]any{"uris": trackURIs[start:end]})
		if err != nil {
			return "", fmt.Errorf("failed to marshal track uris: %w", err)
		}

		endpoint := fmt.Sprintf("/playlists/%s/tracks", created.ID)
		if err := s.doRequest(ctx, accessToken, http.MethodPost, endpoint, strings.NewReader(string(addBody)), nil); err != nil {
			return "", err
		}
	}

	return created.ID, nil
}

func mapSpotifyTrack(st SpotifyTrack) models.Track {
	track := models.Track{
		ID:         st.ID,
		Name:       st.Name,
		DurationMS: st.DurationMS,
		PreviewURL: st.PreviewURL,
		Source:     models.ProviderSpotify,
		URI:        st.URI,
	}

	if len(st.Artists) > 0 {
		track.Artist = st.Artists[0].Name
	}
	if st.Album.Name != "" {
		track.Album = st.Album.Name
	}
	if len(st.Album.Images) > 0 {
		track.ImageURL = st.Album.Images[0].URL
	}
	if st.ExternalURLs.Spotify != "" {
		track.ExternalURLs = map[models.Provider]string{models.ProviderSpotify: st.ExternalURLs.Spotify}
	}

	return track
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
