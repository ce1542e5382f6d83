package tasks

import (
	"math"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// neutralScore is used whenever a signal is missing, so tracks without
// features or listeners without history neither sink nor float.
const neutralScore = 0.5

// featureScore measures how close a track's audio features sit to the
// listener's typical sound.
func featureScore(track models.Track, profile *models.MusicProfile) float64 {
	if track.Features == nil || profile == nil || len(profile.FeatureAverages) == 0 {
		return neutralScore
	}

	axes := [][2]float64{}
	push := func(name string, value float64) {
		if mean, ok := profile.FeatureAverages[name]; ok {
			axes = append(axes, [2]float64{value, mean})
		}
	}
	f := track.Features
	push("energy", f.Energy)
	push("valence", f.Valence)
	push("danceability", f.Danceability)
	push("acousticness", f.Acousticness)
	if len(axes) == 0 {
		return neutralScore
	}

	total := 0.0
	for _, axis := range axes {
		total += math.Abs(axis[0] - axis[1])
	}
	return 1 - total/float64(len(axes))
}

// noveltyScore aligns a track's familiarity with the requested discovery
// ratio: a fully exploratory intent rewards unknown tracks, a nostalgic
// one rewards known tracks and artists.
func noveltyScore(track models.Track, profile *models.MusicProfile, discoveryRatio float64) float64 {
	if profile == nil {
		return neutralScore
	}
	if isKnown(track, profile) {
		return 1 - discoveryRatio
	}
	return discoveryRatio
}

func isKnown(track models.Track, profile *models.MusicProfile) bool {
	if profile.KnowsTrack(track.ID) {
		return true
	}
	key := shared.NormalizeTrackKey(track.Name, track.Artist)
	for _, known := range profile.TopTracks {
		if shared.NormalizeTrackKey(known.Name, known.Artist) == key {
			return true
		}
	}
	artist := shared.NormalizeTitle(track.Artist)
	for _, known := range profile.TopArtists {
		if shared.NormalizeTitle(known.Name) == artist {
			return true
		}
	}
	return false
}

// moodScore measures how close a track sits to the listener's nearest
// mood cluster.
func moodScore(track models.Track, profile *models.MusicProfile) float64 {
	if track.Features == nil || profile == nil || len(profile.MoodClusters) == 0 {
		return neutralScore
	}

	f := track.Features
	best := math.MaxFloat64
	for _, cluster := range profile.MoodClusters {
		dist := clusterDistance(f, cluster.Centroid)
		if dist < best {
			best = dist
		}
	}
	if best == math.MaxFloat64 {
		return neutralScore
	}
	return 1 - best
}

func clusterDistance(f *models.AudioFeatures, centroid map[string]float64) float64 {
	axes := 0
	total := 0.0
	add := func(name string, value float64) {
		if center, ok := centroid[name]; ok {
			total += math.Abs(value - center)
			axes++
		}
	}
	add("energy", f.Energy)
	add("valence", f.Valence)
	add("danceability", f.Danceability)
	add("acousticness", f.Acousticness)
	if axes == 0 {
		return math.MaxFloat64
	}
	return total / float64(axes)
}
