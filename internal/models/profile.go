package models

import (
	"fmt"
	"time"
)

// MoodCluster is a named cluster of the profile's top tracks grouped by
// audio-feature similarity.
type MoodCluster struct {
	Name     string             `json:"name"`
	Size     int                `json:"size"`
	Centroid map[string]float64 `json:"centroid"`
}

// MusicProfile aggregates a user's taste signals across connected providers.
//
// Profiles are rebuilt wholesale on each analysis run and never partially
// mutated. The profile package owns construction; everything else reads.
type MusicProfile struct {
	base
	UserID          string
	TopArtists      []ArtistRef
	TopTracks       []Track
	TopGenres       []string
	FeatureAverages map[string]float64
	MoodClusters    []MoodCluster
	LastAnalyzed    time.Time
}

// NewMusicProfile creates an empty profile shell for an analysis run.
func NewMusicProfile(sequence int, userID string) *MusicProfile {
	return &MusicProfile{
		base:         newBase(sequence),
		UserID:       userID,
		LastAnalyzed: time.Now().UTC(),
	}
}

// MeanTrackLengthSeconds returns the average top-track length, or 0 when the
// profile has no tracks. Used to derive track counts from durations.
func (p *MusicProfile) MeanTrackLengthSeconds() int {
	if len(p.TopTracks) == 0 {
		return 0
	}
	total := 0
	for _, t := range p.TopTracks {
		total += t.DurationMS
	}
	return total / len(p.TopTracks) / 1000
}

// KnowsTrack reports whether a candidate already appears among the user's
// top tracks, matched by provider ID or by normalized identity upstream.
func (p *MusicProfile) KnowsTrack(id string) bool {
	for _, t := range p.TopTracks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (p *MusicProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("profile requires a user id")
	}
	if p.LastAnalyzed.IsZero() {
		return fmt.Errorf("profile requires an analysis timestamp")
	}
	return nil
}
