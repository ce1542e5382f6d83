// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"golang.org/x/oauth2"
)

// FakeProvider is a configurable test double for [services.Provider].
// Unset hooks return zero values so tests only wire what they exercise.
type FakeProvider struct {
	Tag models.Provider

	ExchangeFunc       func(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	MeFunc             func(ctx context.Context, accessToken string) (string, error)
	TopArtistsFunc     func(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error)
	TopTracksFunc      func(ctx context.Context, accessToken string, limit int) ([]models.Track, error)
	AudioFeaturesFunc  func(ctx context.Context, accessToken string, trackIDs []string) (map[string]models.AudioFeatures, error)
	SearchFunc         func(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error)
	CreatePlaylistFunc func(ctx context.Context, accessToken, name, description string, trackURIs []string) (string, error)
}

func (f *FakeProvider) Name() models.Provider { return f.Tag }

func (f *FakeProvider) AuthCodeURL(state string) string {
	return "https://auth.test/authorize?state=" + state
}

func (f *FakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if f.ExchangeFunc != nil {
		return f.ExchangeFunc(ctx, code)
	}
	return &oauth2.Token{AccessToken: "exchanged-" + code, RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *FakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, refreshToken)
	}
	return &oauth2.Token{AccessToken: "refreshed", RefreshToken: refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *FakeProvider) Me(ctx context.Context, accessToken string) (string, error) {
	if f.MeFunc != nil {
		return f.MeFunc(ctx, accessToken)
	}
	return "user-" + string(f.Tag), nil
}

func (f *FakeProvider) TopArtists(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error) {
	if f.TopArtistsFunc != nil {
		return f.TopArtistsFunc(ctx, accessToken, limit)
	}
	return nil, nil
}

func (f *FakeProvider) TopTracks(ctx context.Context, accessToken string, limit int) ([]models.Track, error) {
	if f.TopTracksFunc != nil {
		return f.TopTracksFunc(ctx, accessToken, limit)
	}
	return nil, nil
}

func (f *FakeProvider) AudioFeatures(ctx context.Context, accessToken string, trackIDs []string) (map[string]models.AudioFeatures, error) {
	if f.AudioFeaturesFunc != nil {
		return f.AudioFeaturesFunc(ctx, accessToken, trackIDs)
	}
	return nil, shared.ErrFeatureUnsupported
}

func (f *FakeProvider) Search(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error) {
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, accessToken, query, limit)
	}
	return nil, nil
}

func (f *FakeProvider) CreatePlaylist(ctx context.Context, accessToken, name, description string, trackURIs []string) (string, error) {
	if f.CreatePlaylistFunc != nil {
		return f.CreatePlaylistFunc(ctx, accessToken, name, description, trackURIs)
	}
	return "external-id", nil
}

// MemoryConnectionStore is an in-memory [gateway.ConnectionStore].
type MemoryConnectionStore struct {
	mu    sync.Mutex
	conns map[string]*models.Connection
}

func NewMemoryConnectionStore(conns ...*models.Connection) *MemoryConnectionStore {
	store := &MemoryConnectionStore{conns: make(map[string]*models.Connection)}
	for _, conn := range conns {
		store.conns[connKey(conn.UserID, conn.Provider)] = cloneConn(conn)
	}
	return store
}

func connKey(userID string, provider models.Provider) string {
	return userID + "|" + string(provider)
}

func cloneConn(conn *models.Connection) *models.Connection {
	clone := *conn
	return &clone
}

func (s *MemoryConnectionStore) GetByUserProvider(userID string, provider models.Provider) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[connKey(userID, provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrConnectionNotFound, userID, provider)
	}
	return cloneConn(conn), nil
}

func (s *MemoryConnectionStore) Upsert(conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connKey(conn.UserID, conn.Provider)] = cloneConn(conn)
	return nil
}

func (s *MemoryConnectionStore) Update(conn *models.Connection) error {
	return s.Upsert(conn)
}

func (s *MemoryConnectionStore) ListActive(userID string) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*models.Connection
	for _, provider := range models.Providers() {
		conn, ok := s.conns[connKey(userID, provider)]
		if ok && conn.Status == models.ConnectionActive {
			active = append(active, cloneConn(conn))
		}
	}
	return active, nil
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
