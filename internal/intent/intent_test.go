package intent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

type fakeModel struct {
	schema *services.IntentSchema
	notes  *services.PlaylistNotes
	err    error
}

func (f *fakeModel) AnalyzeIntent(ctx context.Context, prompt, profileSummary string, history []string) (*services.IntentSchema, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.schema, nil
}

func (f *fakeModel) DescribePlaylist(ctx context.Context, prompt string, trackSummaries, moodTags []string) (*services.PlaylistNotes, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.notes, nil
}

func testParser(model ModelClient) *Parser {
	return NewParser(model, shared.NewLogger(io.Discard), 0)
}

func profileWithHistory() *models.MusicProfile {
	profile := models.NewMusicProfile(1, "user-1")
	profile.TopGenres = []string{"funk", "soul", "disco", "jazz"}
	profile.TopArtists = []models.ArtistRef{{Name: "Parcels"}, {Name: "Khruangbin"}}
	profile.TopTracks = []models.Track{
		{ID: "t1", DurationMS: 240_000},
		{ID: "t2", DurationMS: 240_000},
	}
	return profile
}

func TestParse(t *testing.T) {
	t.Run("structures a workout prompt", func(t *testing.T) {
		model := &fakeModel{schema: &services.IntentSchema{
			Name:                  "Sprint Fuel",
			SearchQueries:         []string{"high energy workout", "power pop run"},
			MoodTags:              []string{"energetic", "driven"},
			TargetDurationSeconds: 1200,
			EnergyProfile:         "ascending",
			DiscoveryRatio:        0.4,
		}}
		parser := testParser(model)

		parsed, err := parser.Parse(context.Background(), "high energy workout, 20 minutes", profileWithHistory(), nil, nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}

		if parsed.Defaulted {
			t.Error("Expected model reading accepted")
		}
		if parsed.Intent.TargetDurationSeconds != 1200 {
			t.Errorf("Expected 1200s, got %d", parsed.Intent.TargetDurationSeconds)
		}
		// Profile mean track length is 240s: 1200/240 = 5 tracks.
		if parsed.Intent.TargetTrackCount != 5 {
			t.Errorf("Expected 5 tracks, got %d", parsed.Intent.TargetTrackCount)
		}
		if parsed.Intent.EnergyProfile != models.EnergyAscending {
			t.Errorf("Expected ascending profile, got %q", parsed.Intent.EnergyProfile)
		}
		if parsed.Intent.DiscoveryRatio != 0.4 {
			t.Errorf("Expected discovery 0.4, got %f", parsed.Intent.DiscoveryRatio)
		}
		if len(parsed.Queries) != 2 {
			t.Errorf("Expected model queries kept, got %v", parsed.Queries)
		}
		if parsed.Name != "Sprint Fuel" {
			t.Errorf("Expected name carried through, got %q", parsed.Name)
		}
	})

	t.Run("clamps out-of-range fields", func(t *testing.T) {
		model := &fakeModel{schema: &services.IntentSchema{
			TargetDurationSeconds: 999_999,
			TargetTrackCount:      1000,
			DiscoveryRatio:        2.5,
			EnergyProfile:         "chaotic",
		}}
		parser := testParser(model)

		parsed, err := parser.Parse(context.Background(), "everything forever", nil, nil, nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}

		if parsed.Intent.TargetDurationSeconds != maxDurationSeconds {
			t.Errorf("Expected duration clamped to %d, got %d", maxDurationSeconds, parsed.Intent.TargetDurationSeconds)
		}
		if parsed.Intent.TargetTrackCount != maxTrackCount {
			t.Errorf("Expected count clamped to %d, got %d", maxTrackCount, parsed.Intent.TargetTrackCount)
		}
		if parsed.Intent.DiscoveryRatio != 1 {
			t.Errorf("Expected discovery clamped to 1, got %f", parsed.Intent.DiscoveryRatio)
		}
		if parsed.Intent.EnergyProfile != models.EnergySteady {
			t.Errorf("Expected unknown profile defaulted to steady, got %q", parsed.Intent.EnergyProfile)
		}
	})

	t.Run("model failure falls back to default intent", func(t *testing.T) {
		parser := testParser(&fakeModel{err: errors.New("model offline")})

		parsed, err := parser.Parse(context.Background(), "something for the drive", profileWithHistory(), nil, nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}

		if !parsed.Defaulted {
			t.Error("Expected defaulted intent")
		}
		if parsed.Intent.TargetDurationSeconds != defaultDurationSeconds {
			t.Errorf("Expected default duration, got %d", parsed.Intent.TargetDurationSeconds)
		}
		if parsed.Intent.EnergyProfile != models.EnergySteady {
			t.Errorf("Expected steady profile, got %q", parsed.Intent.EnergyProfile)
		}
		if parsed.Intent.DiscoveryRatio != defaultDiscoveryRatio {
			t.Errorf("Expected default discovery ratio, got %f", parsed.Intent.DiscoveryRatio)
		}
		if len(parsed.Queries) == 0 {
			t.Error("Expected derived queries from prompt and profile")
		}
		if parsed.Queries[0] != "something for the drive" {
			t.Errorf("Expected prompt as first query, got %q", parsed.Queries[0])
		}
	})

	t.Run("empty model queries derive from profile", func(t *testing.T) {
		model := &fakeModel{schema: &services.IntentSchema{
			MoodTags:              []string{"mellow"},
			TargetDurationSeconds: 1800,
		}}
		parser := testParser(model)

		parsed, err := parser.Parse(context.Background(), "sunday afternoon", profileWithHistory(), nil, nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}

		found := false
		for _, query := range parsed.Queries {
			if strings.Contains(query, "funk") {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a genre-derived query, got %v", parsed.Queries)
		}
	})

	t.Run("caps query count", func(t *testing.T) {
		var queries []string
		for i := 0; i < 40; i++ {
			queries = append(queries, fmt.Sprintf("query %d", i))
		}
		parser := NewParser(&fakeModel{schema: &services.IntentSchema{SearchQueries: queries}}, shared.NewLogger(io.Discard), 5)

		parsed, err := parser.Parse(context.Background(), "lots of music", nil, nil, nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(parsed.Queries) != 5 {
			t.Errorf("Expected 5 queries, got %d", len(parsed.Queries))
		}
	})

	t.Run("empty prompt", func(t *testing.T) {
		parser := testParser(&fakeModel{})
		_, err := parser.Parse(context.Background(), "   ", nil, nil, nil)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestSourceWeights(t *testing.T) {
	t.Run("empty selection weights all providers equally", func(t *testing.T) {
		weights := sourceWeights(nil, nil)
		if len(weights) != len(models.Providers()) {
			t.Fatalf("Expected all providers weighted, got %v", weights)
		}
		for provider, weight := range weights {
			if weight != 0.5 {
				t.Errorf("Expected 0.5 for %s, got %f", provider, weight)
			}
		}
	})

	t.Run("single provider takes full weight", func(t *testing.T) {
		weights := sourceWeights([]string{"Spotify"}, nil)
		if weights[models.ProviderSpotify] != 1.0 {
			t.Errorf("Expected spotify weight 1, got %v", weights)
		}
		if _, ok := weights[models.ProviderYouTube]; ok {
			t.Error("Expected youtube excluded")
		}
	})

	t.Run("unknown names dropped", func(t *testing.T) {
		weights := sourceWeights([]string{"tidal", "youtube"}, nil)
		if len(weights) != 1 || weights[models.ProviderYouTube] != 1.0 {
			t.Errorf("Expected youtube only, got %v", weights)
		}
	})

	t.Run("empty selection weights only connected providers", func(t *testing.T) {
		weights := sourceWeights(nil, []models.Provider{models.ProviderSpotify})
		if len(weights) != 1 || weights[models.ProviderSpotify] != 1.0 {
			t.Errorf("Expected spotify only, got %v", weights)
		}
	})

	t.Run("unconnected selection falls back to connected", func(t *testing.T) {
		weights := sourceWeights([]string{"youtube"}, []models.Provider{models.ProviderSpotify})
		if len(weights) != 1 || weights[models.ProviderSpotify] != 1.0 {
			t.Errorf("Expected unconnected youtube dropped, got %v", weights)
		}
	})
}

func TestDefaultIntent(t *testing.T) {
	t.Run("without profile", func(t *testing.T) {
		intent := DefaultIntent(nil, nil)
		if intent.TargetDurationSeconds != 1800 {
			t.Errorf("Expected 1800s, got %d", intent.TargetDurationSeconds)
		}
		// 1800 / 210 rounds down to 8 tracks.
		if intent.TargetTrackCount != 8 {
			t.Errorf("Expected 8 tracks, got %d", intent.TargetTrackCount)
		}
		if err := intent.Validate(); err != nil {
			t.Errorf("Expected valid default intent: %v", err)
		}
	})

	t.Run("uses profile mean track length", func(t *testing.T) {
		intent := DefaultIntent(profileWithHistory(), nil)
		// 1800 / 240 = 7 tracks.
		if intent.TargetTrackCount != 7 {
			t.Errorf("Expected 7 tracks, got %d", intent.TargetTrackCount)
		}
	})

	t.Run("weights only the connected provider", func(t *testing.T) {
		intent := DefaultIntent(nil, []models.Provider{models.ProviderYouTube})
		if len(intent.SourceWeights) != 1 || intent.SourceWeights[models.ProviderYouTube] != 1.0 {
			t.Errorf("Expected youtube weighted alone, got %v", intent.SourceWeights)
		}
	})
}

func TestDescribe(t *testing.T) {
	t.Run("returns model notes", func(t *testing.T) {
		parser := testParser(&fakeModel{notes: &services.PlaylistNotes{Name: "Night Drive", Description: "Late tracks"}})
		notes := parser.Describe(context.Background(), "late night drive", nil, nil)
		if notes.Name != "Night Drive" {
			t.Errorf("Expected model name, got %q", notes.Name)
		}
	})

	t.Run("falls back when model fails", func(t *testing.T) {
		parser := testParser(&fakeModel{err: errors.New("model offline")})
		notes := parser.Describe(context.Background(), "late night drive", nil, []string{"moody"})
		if !strings.HasPrefix(notes.Name, "Moody Mix ") {
			t.Errorf("Expected mood-derived fallback name, got %q", notes.Name)
		}
		if !strings.Contains(notes.Description, "late night drive") {
			t.Errorf("Expected prompt in description, got %q", notes.Description)
		}
	})

	t.Run("falls back when model returns empty name", func(t *testing.T) {
		parser := testParser(&fakeModel{notes: &services.PlaylistNotes{Name: "  "}})
		notes := parser.Describe(context.Background(), "anything", nil, nil)
		if !strings.HasPrefix(notes.Name, "Crossfade Mix ") {
			t.Errorf("Expected fallback name, got %q", notes.Name)
		}
	})
}
