package tasks

import (
	"fmt"
	"testing"

	"github.com/crossfade-fm/crossfade/internal/models"
)

func scoredPool(tracks ...models.Track) []scoredTrack {
	scored := make([]scoredTrack, len(tracks))
	for i, track := range tracks {
		scored[i] = scoredTrack{track: track, score: 1.0 - float64(i)*0.01}
	}
	return scored
}

func steadyIntent(durationSeconds, count int) models.MixtapeIntent {
	return models.MixtapeIntent{
		TargetDurationSeconds: durationSeconds,
		TargetTrackCount:      count,
		EnergyProfile:         models.EnergySteady,
		SourceWeights: map[models.Provider]float64{
			models.ProviderSpotify: 0.5,
			models.ProviderYouTube: 0.5,
		},
		DiscoveryRatio: 0.3,
	}
}

func TestSelectTracks(t *testing.T) {
	bothProviders := []models.Provider{models.ProviderSpotify, models.ProviderYouTube}

	t.Run("respects the duration budget with overshoot allowance", func(t *testing.T) {
		pool := scoredPool(
			spotifyTrack("s1", "One", "A", 200_000, 0.5),
			spotifyTrack("s2", "Two", "B", 200_000, 0.5),
			spotifyTrack("s3", "Three", "C", 200_000, 0.5),
			spotifyTrack("s4", "Four", "D", 200_000, 0.5),
		)
		// 500s target: three 200s tracks overshoot to 600s > 550s cap.
		selected, _ := selectTracks(pool, steadyIntent(500, 10), bothProviders)

		totalMS := 0
		for _, track := range selected {
			totalMS += track.DurationMS
		}
		if totalMS > 550_000 {
			t.Errorf("Expected at most 550s, got %dms", totalMS)
		}
		if len(selected) != 2 {
			t.Errorf("Expected 2 tracks inside the budget, got %d", len(selected))
		}
	})

	t.Run("caps tracks per artist", func(t *testing.T) {
		pool := scoredPool(
			spotifyTrack("s1", "One", "Same Artist", 180_000, 0.5),
			spotifyTrack("s2", "Two", "Same Artist", 180_000, 0.5),
			spotifyTrack("s3", "Three", "Same Artist", 180_000, 0.5),
			spotifyTrack("s4", "Four", "Same Artist", 180_000, 0.5),
			spotifyTrack("s5", "Five", "Other", 180_000, 0.5),
		)
		selected, _ := selectTracks(pool, steadyIntent(3600, 8), bothProviders)

		perArtist := 0
		for _, track := range selected {
			if track.Artist == "Same Artist" {
				perArtist++
			}
		}
		// Cap is ceil(8/4) = 2.
		if perArtist > 2 {
			t.Errorf("Expected at most 2 tracks from one artist, got %d", perArtist)
		}
	})

	t.Run("reports shortfall when the pool runs dry", func(t *testing.T) {
		pool := scoredPool(
			spotifyTrack("s1", "One", "A", 180_000, 0.5),
			spotifyTrack("s2", "Two", "B", 180_000, 0.5),
		)
		selected, shortfall := selectTracks(pool, steadyIntent(3600, 10), bothProviders)
		if len(selected) != 2 {
			t.Fatalf("Expected all 2 tracks selected, got %d", len(selected))
		}
		if shortfall != 8 {
			t.Errorf("Expected shortfall 8, got %d", shortfall)
		}
	})

	t.Run("guarantees a minority source share", func(t *testing.T) {
		pool := scoredPool(
			spotifyTrack("s1", "One", "A", 180_000, 0.5),
			spotifyTrack("s2", "Two", "B", 180_000, 0.5),
			spotifyTrack("s3", "Three", "C", 180_000, 0.5),
			spotifyTrack("s4", "Four", "D", 180_000, 0.5),
			spotifyTrack("s5", "Five", "E", 180_000, 0.5),
			spotifyTrack("s6", "Six", "F", 180_000, 0.5),
			youtubeTrack("y1", "Seven", "G", 180_000),
			youtubeTrack("y2", "Eight", "H", 180_000),
		)
		selected, _ := selectTracks(pool, steadyIntent(1080, 6), bothProviders)

		if len(selected) < diversityMinPicked {
			t.Fatalf("Expected at least %d tracks, got %d", diversityMinPicked, len(selected))
		}
		counts := make(map[models.Provider]int)
		for _, track := range selected {
			counts[track.Source]++
		}
		minPer := (len(selected) + 4) / 5 // ceil(20%)
		if counts[models.ProviderYouTube] < minPer {
			t.Errorf("Expected at least %d youtube tracks, got %d", minPer, counts[models.ProviderYouTube])
		}
	})

	t.Run("single-source intent skips the quota", func(t *testing.T) {
		pool := scoredPool(
			spotifyTrack("s1", "One", "A", 180_000, 0.5),
			spotifyTrack("s2", "Two", "B", 180_000, 0.5),
			spotifyTrack("s3", "Three", "C", 180_000, 0.5),
			spotifyTrack("s4", "Four", "D", 180_000, 0.5),
			spotifyTrack("s5", "Five", "E", 180_000, 0.5),
			spotifyTrack("s6", "Six", "F", 180_000, 0.5),
		)
		selected, _ := selectTracks(pool, steadyIntent(1080, 6), []models.Provider{models.ProviderSpotify})
		for _, track := range selected {
			if track.Source != models.ProviderSpotify {
				t.Errorf("Expected spotify only, got %s", track.Source)
			}
		}
	})
}

func TestSequence(t *testing.T) {
	pool := []models.Track{
		spotifyTrack("s1", "High", "A", 180_000, 0.9),
		spotifyTrack("s2", "Low", "B", 180_000, 0.1),
		spotifyTrack("s3", "Mid", "C", 180_000, 0.5),
		spotifyTrack("s4", "Higher", "D", 180_000, 0.95),
		spotifyTrack("s5", "Lower", "E", 180_000, 0.05),
	}

	t.Run("ascending is monotone in energy", func(t *testing.T) {
		ordered := Sequence(pool, models.EnergyAscending, "seed")
		for i := 1; i < len(ordered); i++ {
			if energyOf(ordered[i]) < energyOf(ordered[i-1]) {
				t.Errorf("Energy dropped at position %d: %f after %f", i, energyOf(ordered[i]), energyOf(ordered[i-1]))
			}
		}
	})

	t.Run("descending is monotone in energy", func(t *testing.T) {
		ordered := Sequence(pool, models.EnergyDescending, "seed")
		for i := 1; i < len(ordered); i++ {
			if energyOf(ordered[i]) > energyOf(ordered[i-1]) {
				t.Errorf("Energy rose at position %d", i)
			}
		}
	})

	t.Run("steady keeps adjacent jumps small", func(t *testing.T) {
		flat := []models.Track{
			spotifyTrack("f1", "One", "A", 180_000, 0.5),
			spotifyTrack("f2", "Two", "B", 180_000, 0.45),
			spotifyTrack("f3", "Three", "C", 180_000, 0.55),
			spotifyTrack("f4", "Four", "D", 180_000, 0.6),
			spotifyTrack("f5", "Five", "E", 180_000, 0.4),
		}
		ordered := Sequence(flat, models.EnergySteady, "seed")
		if len(ordered) != len(flat) {
			t.Fatalf("Expected all tracks kept, got %d", len(ordered))
		}
		for i := 1; i < len(ordered); i++ {
			if jump := energyOf(ordered[i]) - energyOf(ordered[i-1]); jump > 0.2 || jump < -0.2 {
				t.Errorf("Adjacent jump of %f at position %d", jump, i)
			}
		}
	})

	t.Run("variable is deterministic for a seed", func(t *testing.T) {
		first := Sequence(pool, models.EnergyVariable, "playlist-123")
		second := Sequence(pool, models.EnergyVariable, "playlist-123")
		for i := range first {
			if first[i].ID != second[i].ID {
				t.Fatalf("Expected reproducible order, diverged at %d", i)
			}
		}
	})

	t.Run("different seeds reorder", func(t *testing.T) {
		var wide []models.Track
		for i := 0; i < 12; i++ {
			wide = append(wide, spotifyTrack(fmt.Sprintf("w%d", i), fmt.Sprintf("Track %d", i), fmt.Sprintf("Artist %d", i), 180_000, 0.5))
		}
		first := Sequence(wide, models.EnergyVariable, "playlist-123")
		second := Sequence(wide, models.EnergyVariable, "playlist-456")
		same := true
		for i := range first {
			if first[i].ID != second[i].ID {
				same = false
				break
			}
		}
		if same {
			t.Error("Expected different seeds to produce different orders")
		}
	})

	t.Run("steady separates back-to-back artists", func(t *testing.T) {
		clumped := []models.Track{
			spotifyTrack("s1", "One", "Same", 180_000, 0.2),
			spotifyTrack("s2", "Two", "Same", 180_000, 0.3),
			spotifyTrack("s3", "Three", "Other", 180_000, 0.4),
			spotifyTrack("s4", "Four", "Else", 180_000, 0.5),
		}
		ordered := Sequence(clumped, models.EnergySteady, "seed")
		for i := 1; i < len(ordered); i++ {
			if sameArtist(ordered[i-1], ordered[i]) {
				t.Errorf("Same artist back to back at position %d", i)
			}
		}
	})

	t.Run("ascending stays monotone when one artist clumps", func(t *testing.T) {
		clumped := []models.Track{
			spotifyTrack("s1", "One", "Same", 180_000, 0.2),
			spotifyTrack("s2", "Two", "Same", 180_000, 0.3),
			spotifyTrack("s3", "Three", "Other", 180_000, 0.4),
			spotifyTrack("s4", "Four", "Else", 180_000, 0.5),
		}
		ordered := Sequence(clumped, models.EnergyAscending, "seed")
		for i := 1; i < len(ordered); i++ {
			if energyOf(ordered[i]) < energyOf(ordered[i-1]) {
				t.Errorf("Energy dropped at position %d: %f after %f", i, energyOf(ordered[i]), energyOf(ordered[i-1]))
			}
		}
	})
}
