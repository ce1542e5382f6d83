package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/intent"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/repositories"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/session"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/crossfade-fm/crossfade/internal/tasks"
	internaltest "github.com/crossfade-fm/crossfade/internal/testing"
)

type fakeModel struct{}

func (m *fakeModel) AnalyzeIntent(ctx context.Context, prompt, profileSummary string, history []string) (*services.IntentSchema, error) {
	return &services.IntentSchema{
		Name:                  "Test Mix",
		Explanation:           "a short test mix",
		SearchQueries:         []string{"test query"},
		TargetDurationSeconds: 540,
		TargetTrackCount:      3,
		EnergyProfile:         "steady",
	}, nil
}

func (m *fakeModel) DescribePlaylist(ctx context.Context, prompt string, trackSummaries, moodTags []string) (*services.PlaylistNotes, error) {
	return &services.PlaylistNotes{Name: "Described Mix"}, nil
}

func catalogTrack(source models.Provider, id, name, artist string) models.Track {
	track := models.Track{
		ID:         id,
		Name:       name,
		Artist:     artist,
		DurationMS: 180_000,
		Source:     source,
		URI:        string(source) + ":track:" + id,
	}
	if source == models.ProviderSpotify {
		track.Features = &models.AudioFeatures{Energy: 0.5, Valence: 0.5, Danceability: 0.5}
	}
	return track
}

type fixture struct {
	router http.Handler
	db     *sql.DB
}

// newFixture wires the full stack over an in-memory database and fake
// provider catalogs, with one user already linked to both providers.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	spotify := &internaltest.FakeProvider{
		Tag: models.ProviderSpotify,
		TopArtistsFunc: func(ctx context.Context, accessToken string, limit int) ([]models.ArtistRef, error) {
			return []models.ArtistRef{
				{ID: "a1", Name: "Khruangbin", Genres: []string{"funk"}, Source: models.ProviderSpotify},
			}, nil
		},
		TopTracksFunc: func(ctx context.Context, accessToken string, limit int) ([]models.Track, error) {
			return []models.Track{catalogTrack(models.ProviderSpotify, "top-1", "Time", "Khruangbin")}, nil
		},
		SearchFunc: func(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error) {
			return []models.Track{
				catalogTrack(models.ProviderSpotify, "s1", "One", "Artist A"),
				catalogTrack(models.ProviderSpotify, "s2", "Two", "Artist B"),
			}, nil
		},
	}
	youtube := &internaltest.FakeProvider{
		Tag: models.ProviderYouTube,
		SearchFunc: func(ctx context.Context, accessToken, query string, limit int) ([]models.Track, error) {
			return []models.Track{catalogTrack(models.ProviderYouTube, "y1", "Three", "Artist C")}, nil
		},
	}

	logger := shared.NewLogger(io.Discard)
	conns := repositories.NewConnectionRepository(db)

	gw := gateway.New(gateway.Opts{
		Providers:   []services.Provider{spotify, youtube},
		Connections: conns,
		Logger:      logger,
		RateLimit:   1000,
		CallTimeout: time.Second,
	})

	for _, provider := range models.Providers() {
		conn := models.NewConnection(0, "user-1", provider)
		conn.ApplyToken("access", "refresh", time.Now().Add(time.Hour))
		if err := conns.Upsert(conn); err != nil {
			t.Fatalf("failed to seed connection: %v", err)
		}
	}

	analyzer := profile.NewAnalyzer(gw, repositories.NewProfileRepository(db), logger)
	parser := intent.NewParser(&fakeModel{}, logger, 0)
	engine := tasks.NewMixEngine(gw, shared.MixerConfig{
		DedupeDurationDeltaMS: 2000,
		DedupeTitleRatio:      0.9,
		FeatureWeight:         0.5,
		NoveltyWeight:         0.3,
		MoodWeight:            0.2,
		QueryConcurrency:      4,
	}, logger)

	ledger := session.NewLedger(session.Opts{
		Gateway:       gw,
		Analyzer:      analyzer,
		Parser:        parser,
		Engine:        engine,
		Conversations: repositories.NewConversationRepository(db),
		Messages:      repositories.NewMessageRepository(db),
		Playlists:     repositories.NewPlaylistRepository(db),
		Logger:        logger,
	})

	srv := New(Opts{
		Addr:     "127.0.0.1:0",
		Ledger:   ledger,
		Analyzer: analyzer,
		Gateway:  gw,
		Logger:   logger,
	})

	return &fixture{router: srv.Router(), db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeResponse(t, rec)["status"]; got != "ok" {
		t.Errorf("expected ok status, got %v", got)
	}
}

func TestSynthesizeEndpoint(t *testing.T) {
	t.Run("ProducesPlaylist", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/synthesize", map[string]string{
			"userId": "user-1",
			"prompt": "something mellow for the evening",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		payload := decodeResponse(t, rec)
		if payload["conversationId"] == "" {
			t.Error("expected a conversation id")
		}
		playlist, ok := payload["playlist"].(map[string]any)
		if !ok {
			t.Fatalf("expected playlist object, got %T", payload["playlist"])
		}
		if playlist["name"] != "Test Mix" {
			t.Errorf("expected model-provided name, got %v", playlist["name"])
		}
		if count := playlist["trackCount"].(float64); count != 3 {
			t.Errorf("expected 3 tracks, got %v", count)
		}

		t.Run("PlaylistRetrievable", func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/playlists/"+playlist["id"].(string), nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			got := decodeResponse(t, rec)
			if got["name"] != "Test Mix" {
				t.Errorf("expected persisted playlist, got %v", got["name"])
			}
		})
	})

	t.Run("MissingUserID", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/synthesize", map[string]string{"prompt": "anything"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodPost, "/synthesize", map[string]string{
			"userId": "stranger",
			"prompt": "anything",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		f := newFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestProfileEndpoints(t *testing.T) {
	f := newFixture(t)

	t.Run("GetBeforeRefreshIsNotFound", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/profile/user-1", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 before any refresh, got %d", rec.Code)
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/profile/user-1/refresh", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("GetReturnsStoredProfile", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/profile/user-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		payload := decodeResponse(t, rec)
		if payload["userId"] != "user-1" {
			t.Errorf("expected user-1, got %v", payload["userId"])
		}
		genres, ok := payload["topGenres"].([]any)
		if !ok || len(genres) == 0 || genres[0] != "funk" {
			t.Errorf("expected funk on top, got %v", payload["topGenres"])
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/profile/stranger", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("RefreshUnknownUser", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/profile/stranger/refresh", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("LoginRedirects", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodGet, "/auth/spotify/login?userId=user-2", nil)
		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("expected 307, got %d", rec.Code)
		}
		location := rec.Header().Get("Location")
		if !strings.Contains(location, "state=") {
			t.Errorf("expected state in redirect, got %q", location)
		}
		if len(rec.Result().Cookies()) == 0 {
			t.Error("expected a state cookie")
		}
	})

	t.Run("CallbackLinksConnection", func(t *testing.T) {
		f := newFixture(t)

		login := f.do(t, http.MethodGet, "/auth/spotify/login?userId=user-2", nil)
		cookie := login.Result().Cookies()[0]
		state := cookie.Value + ":user-2"

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?code=abc&state="+state, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		payload := decodeResponse(t, rec)
		if payload["provider"] != "spotify" || payload["status"] != "active" {
			t.Errorf("unexpected connection payload: %v", payload)
		}
	})

	t.Run("CallbackRejectsStateMismatch", func(t *testing.T) {
		f := newFixture(t)

		login := f.do(t, http.MethodGet, "/auth/spotify/login?userId=user-2", nil)
		cookie := login.Result().Cookies()[0]

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?code=abc&state=forged:user-2", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		f := newFixture(t)

		rec := f.do(t, http.MethodGet, "/auth/tidal/login?userId=user-2", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRefreshConnectionEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/connections/spotify/refresh", map[string]string{"userId": "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["status"] != "active" {
		t.Errorf("expected active connection, got %v", payload)
	}

	t.Run("UnknownUser", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/connections/spotify/refresh", map[string]string{"userId": "stranger"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/synthesize", map[string]string{
		"userId": "user-1",
		"prompt": "mix for export",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("synthesis failed: %d %s", rec.Code, rec.Body.String())
	}
	playlistID := decodeResponse(t, rec)["playlist"].(map[string]any)["id"].(string)

	rec = f.do(t, http.MethodPost, "/playlists/"+playlistID+"/export/spotify", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["externalId"] == "" {
		t.Error("expected an external id")
	}

	t.Run("Idempotent", func(t *testing.T) {
		again := f.do(t, http.MethodPost, "/playlists/"+playlistID+"/export/spotify", nil)
		if again.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", again.Code)
		}
		if decodeResponse(t, again)["externalId"] != payload["externalId"] {
			t.Error("expected the same external id on repeat export")
		}
	})

	t.Run("UnknownPlaylist", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/playlists/missing/export/spotify", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
