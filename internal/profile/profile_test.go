package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/shared"
	internaltest "github.com/crossfade-fm/crossfade/internal/testing"
)

type memoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.MusicProfile
	sequence int
}

func newMemoryProfileStore() *memoryProfileStore {
	return &memoryProfileStore{profiles: make(map[string]*models.MusicProfile)}
}

func (s *memoryProfileStore) GetByUser(userID string) (*models.MusicProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrProfileNotFound, userID)
	}
	return profile, nil
}

func (s *memoryProfileStore) NextSequence() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence, nil
}

func (s *memoryProfileStore) Upsert(profile *models.MusicProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile
	return nil
}

func activeConnection(userID string, provider models.Provider) *models.Connection {
	conn := models.NewConnection(1, userID, provider)
	conn.SetID(shared.GenerateID())
	conn.ApplyToken("token", "refresh", time.Now().Add(time.Hour))
	return conn
}

func featuredTrack(id, name, artist string, energy, valence float64) models.Track {
	return models.Track{
		ID:         id,
		Name:       name,
		Artist:     artist,
		DurationMS: 200_000,
		Source:     models.ProviderSpotify,
		Features: &models.AudioFeatures{
			Energy:       energy,
			Valence:      valence,
			Danceability: 0.5,
			Acousticness: 0.2,
			Tempo:        120,
		},
	}
}

func testAnalyzer(t *testing.T, spotify, youtube *internaltest.FakeProvider) (*Analyzer, *memoryProfileStore) {
	t.Helper()
	store := internaltest.NewMemoryConnectionStore(
		activeConnection("user-1", models.ProviderSpotify),
		activeConnection("user-1", models.ProviderYouTube),
	)
	gw := gateway.New(gateway.Opts{
		Providers:   []services.Provider{spotify, youtube},
		Connections: store,
		Logger:      shared.NewLogger(io.Discard),
		RateLimit:   1000,
		BaseBackoff: time.Millisecond,
	})
	profiles := newMemoryProfileStore()
	return NewAnalyzer(gw, profiles, shared.NewLogger(io.Discard)), profiles
}

func TestBuildProfile(t *testing.T) {
	spotifyArtists := []models.ArtistRef{
		{ID: "a1", Name: "Khruangbin", Genres: []string{"psychedelic", "funk"}, Source: models.ProviderSpotify},
		{ID: "a2", Name: "Parcels", Genres: []string{"funk", "disco"}, Source: models.ProviderSpotify},
	}
	spotifyTracks := []models.Track{
		featuredTrack("s1", "Time (You and I)", "Khruangbin", 0.6, 0.8),
		featuredTrack("s2", "Overnight", "Parcels", 0.7, 0.7),
	}
	youtubeArtists := []models.ArtistRef{
		{ID: "y1", Name: "khruangbin", Genres: []string{"psychedelic"}, Source: models.ProviderYouTube},
		{ID: "y2", Name: "Men I Trust", Genres: []string{"indie"}, Source: models.ProviderYouTube},
	}
	youtubeTracks := []models.Track{
		{ID: "yt1", Name: "Time (You & I)", Artist: "Khruangbin", DurationMS: 200_000, Source: models.ProviderYouTube},
		{ID: "yt2", Name: "Show Me How", Artist: "Men I Trust", DurationMS: 210_000, Source: models.ProviderYouTube},
	}

	newSpotify := func() *internaltest.FakeProvider {
		return &internaltest.FakeProvider{
			Tag: models.ProviderSpotify,
			TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
				return spotifyArtists, nil
			},
			TopTracksFunc: func(ctx context.Context, token string, limit int) ([]models.Track, error) {
				return spotifyTracks, nil
			},
		}
	}
	newYouTube := func() *internaltest.FakeProvider {
		return &internaltest.FakeProvider{
			Tag: models.ProviderYouTube,
			TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
				return youtubeArtists, nil
			},
			TopTracksFunc: func(ctx context.Context, token string, limit int) ([]models.Track, error) {
				return youtubeTracks, nil
			},
		}
	}

	t.Run("merges and deduplicates across providers", func(t *testing.T) {
		analyzer, profiles := testAnalyzer(t, newSpotify(), newYouTube())

		profile, err := analyzer.BuildProfile(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}

		// Khruangbin appears on both providers, once in the merge.
		if len(profile.TopArtists) != 3 {
			t.Errorf("Expected 3 merged artists, got %d", len(profile.TopArtists))
		}
		// Time (You and I) and Time (You & I) collapse to one entry.
		if len(profile.TopTracks) != 3 {
			t.Errorf("Expected 3 merged tracks, got %d", len(profile.TopTracks))
		}

		// funk appears for both Khruangbin and Parcels in the merged list.
		if len(profile.TopGenres) == 0 || profile.TopGenres[0] != "funk" {
			t.Errorf("Expected funk ranked first, got %v", profile.TopGenres)
		}

		if _, err := profiles.GetByUser("user-1"); err != nil {
			t.Errorf("Expected profile persisted: %v", err)
		}
	})

	t.Run("feature means exclude tracks without features", func(t *testing.T) {
		analyzer, _ := testAnalyzer(t, newSpotify(), newYouTube())

		profile, err := analyzer.BuildProfile(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}

		// Only the two spotify tracks carry features: energies 0.6 and 0.7.
		energy := profile.FeatureAverages["energy"]
		if energy < 0.64 || energy > 0.66 {
			t.Errorf("Expected mean energy 0.65, got %f", energy)
		}
	})

	t.Run("degrades to surviving provider", func(t *testing.T) {
		failing := &internaltest.FakeProvider{
			Tag: models.ProviderYouTube,
			TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
				return nil, &services.StatusError{Provider: models.ProviderYouTube, StatusCode: 503}
			},
		}
		analyzer, _ := testAnalyzer(t, newSpotify(), failing)

		profile, err := analyzer.BuildProfile(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		if len(profile.TopTracks) != 2 {
			t.Errorf("Expected spotify-only tracks, got %d", len(profile.TopTracks))
		}
	})

	t.Run("fails when every provider fails", func(t *testing.T) {
		fail := func(tag models.Provider) *internaltest.FakeProvider {
			return &internaltest.FakeProvider{
				Tag: tag,
				TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
					return nil, &services.StatusError{Provider: tag, StatusCode: 500}
				},
			}
		}
		analyzer, _ := testAnalyzer(t, fail(models.ProviderSpotify), fail(models.ProviderYouTube))

		_, err := analyzer.BuildProfile(context.Background(), "user-1")
		if !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Errorf("Expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("no connections", func(t *testing.T) {
		gw := gateway.New(gateway.Opts{
			Providers:   []services.Provider{newSpotify()},
			Connections: internaltest.NewMemoryConnectionStore(),
			Logger:      shared.NewLogger(io.Discard),
		})
		analyzer := NewAnalyzer(gw, newMemoryProfileStore(), shared.NewLogger(io.Discard))

		_, err := analyzer.BuildProfile(context.Background(), "user-1")
		if !errors.Is(err, shared.ErrConnectionNotFound) {
			t.Errorf("Expected ErrConnectionNotFound, got %v", err)
		}
	})
}

func TestProfileCaching(t *testing.T) {
	t.Run("returns fresh stored profile without rebuilding", func(t *testing.T) {
		var pulls int
		spotify := &internaltest.FakeProvider{
			Tag: models.ProviderSpotify,
			TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
				pulls++
				return nil, nil
			},
		}
		analyzer, profiles := testAnalyzer(t, spotify, &internaltest.FakeProvider{Tag: models.ProviderYouTube})

		stored := models.NewMusicProfile(1, "user-1")
		stored.SetID(shared.GenerateID())
		stored.LastAnalyzed = time.Now()
		if err := profiles.Upsert(stored); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		profile, err := analyzer.Profile(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("Profile failed: %v", err)
		}
		if profile.ID() != stored.ID() {
			t.Errorf("Expected stored profile returned")
		}
		if pulls != 0 {
			t.Errorf("Expected no provider pulls, got %d", pulls)
		}
	})

	t.Run("rebuilds a stale profile", func(t *testing.T) {
		analyzer, profiles := testAnalyzer(t,
			&internaltest.FakeProvider{Tag: models.ProviderSpotify},
			&internaltest.FakeProvider{Tag: models.ProviderYouTube})

		stale := models.NewMusicProfile(1, "user-1")
		stale.SetID(shared.GenerateID())
		stale.LastAnalyzed = time.Now().Add(-48 * time.Hour)
		if err := profiles.Upsert(stale); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		profile, err := analyzer.Profile(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("Profile failed: %v", err)
		}
		if profile.ID() == stale.ID() {
			t.Errorf("Expected a rebuilt profile")
		}
	})

	t.Run("cached read never rebuilds", func(t *testing.T) {
		var pulls int
		spotify := &internaltest.FakeProvider{
			Tag: models.ProviderSpotify,
			TopArtistsFunc: func(ctx context.Context, token string, limit int) ([]models.ArtistRef, error) {
				pulls++
				return nil, nil
			},
		}
		analyzer, profiles := testAnalyzer(t, spotify, &internaltest.FakeProvider{Tag: models.ProviderYouTube})

		if _, err := analyzer.Cached("user-1"); !errors.Is(err, shared.ErrProfileNotFound) {
			t.Errorf("Expected ErrProfileNotFound for an absent profile, got %v", err)
		}

		stale := models.NewMusicProfile(1, "user-1")
		stale.SetID(shared.GenerateID())
		stale.LastAnalyzed = time.Now().Add(-48 * time.Hour)
		if err := profiles.Upsert(stale); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}

		profile, err := analyzer.Cached("user-1")
		if err != nil {
			t.Fatalf("Cached failed: %v", err)
		}
		if profile.ID() != stale.ID() {
			t.Error("Expected the stored profile returned as-is")
		}
		if pulls != 0 {
			t.Errorf("Expected no provider pulls, got %d", pulls)
		}
	})
}

func TestRankGenres(t *testing.T) {
	artists := []models.ArtistRef{
		{Name: "A", Genres: []string{"jazz", "soul"}},
		{Name: "B", Genres: []string{"soul", "funk"}},
		{Name: "C", Genres: []string{"soul", "jazz"}},
	}

	genres := rankGenres(artists)
	if len(genres) != 3 {
		t.Fatalf("Expected 3 genres, got %d", len(genres))
	}
	if genres[0] != "soul" {
		t.Errorf("Expected soul first (3 hits), got %q", genres[0])
	}
	// jazz and funk tie at lower counts; jazz was seen first.
	if genres[1] != "jazz" {
		t.Errorf("Expected jazz second on first-seen tie-break, got %q", genres[1])
	}
}

func TestMoodClusters(t *testing.T) {
	t.Run("too few featured tracks", func(t *testing.T) {
		tracks := []models.Track{
			featuredTrack("t1", "One", "A", 0.5, 0.5),
			featuredTrack("t2", "Two", "B", 0.6, 0.6),
		}
		if clusters := moodClusters(tracks); clusters != nil {
			t.Errorf("Expected nil clusters for sparse input, got %d", len(clusters))
		}
	})

	t.Run("partitions featured tracks", func(t *testing.T) {
		var tracks []models.Track
		for i := 0; i < 10; i++ {
			tracks = append(tracks, featuredTrack(fmt.Sprintf("hi%d", i), "High", "A", 0.9, 0.9))
			tracks = append(tracks, featuredTrack(fmt.Sprintf("lo%d", i), "Low", "B", 0.1, 0.2))
			tracks = append(tracks, featuredTrack(fmt.Sprintf("mid%d", i), "Mid", "C", 0.5, 0.5))
		}

		clusters := moodClusters(tracks)
		if len(clusters) == 0 {
			t.Fatal("Expected mood clusters")
		}
		total := 0
		for _, cluster := range clusters {
			total += cluster.Size
			if cluster.Name == "" {
				t.Error("Expected every cluster named")
			}
			if len(cluster.Centroid) != featureCount {
				t.Errorf("Expected %d centroid axes, got %d", featureCount, len(cluster.Centroid))
			}
		}
		if total != len(tracks) {
			t.Errorf("Expected all %d tracks assigned, got %d", len(tracks), total)
		}
	})
}

func TestMoodName(t *testing.T) {
	cases := []struct {
		name     string
		centroid map[string]float64
		want     string
	}{
		{"energetic", map[string]float64{"energy": 0.8, "valence": 0.7, "danceability": 0.6, "acousticness": 0.1}, "energetic"},
		{"acoustic", map[string]float64{"energy": 0.3, "valence": 0.5, "danceability": 0.4, "acousticness": 0.8}, "acoustic"},
		{"melancholy", map[string]float64{"energy": 0.3, "valence": 0.2, "danceability": 0.3, "acousticness": 0.4}, "melancholy"},
		{"balanced", map[string]float64{"energy": 0.5, "valence": 0.5, "danceability": 0.5, "acousticness": 0.3}, "balanced"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := moodName(tc.centroid); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	t.Run("nil profile", func(t *testing.T) {
		if got := Summary(nil); got != "no listening history available" {
			t.Errorf("Unexpected summary: %q", got)
		}
	})

	t.Run("renders artists and genres", func(t *testing.T) {
		profile := models.NewMusicProfile(1, "user-1")
		profile.TopArtists = []models.ArtistRef{{Name: "Khruangbin"}, {Name: "Parcels"}}
		profile.TopGenres = []string{"funk", "psychedelic"}
		profile.FeatureAverages = map[string]float64{"energy": 0.612}

		got := Summary(profile)
		for _, want := range []string{"Khruangbin", "Parcels", "funk", "0.61"} {
			if !strings.Contains(got, want) {
				t.Errorf("Expected summary to contain %q, got %q", want, got)
			}
		}
	})
}
