package tasks

import (
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

const (
	defaultDurationDeltaMS = 2000
	defaultTitleRatio      = 0.9
)

// Deduplicate collapses candidates that are the same recording on
// different providers into a single entry.
//
// Two tracks merge when their normalized title|artist keys match exactly,
// or when their keys are at least titleRatio similar and their durations
// are within durationDeltaMS of each other. The merged entry keeps the variant
// that carries audio features and accumulates every provider's external
// URL, so a deduplicated track remains playable on each source that had
// it. Running the pass twice yields the same pool.
func Deduplicate(tracks []models.Track, durationDeltaMS int, titleRatio float64) []models.Track {
	if durationDeltaMS <= 0 {
		durationDeltaMS = defaultDurationDeltaMS
	}
	if titleRatio <= 0 || titleRatio > 1 {
		titleRatio = defaultTitleRatio
	}

	var kept []models.Track
	keys := make([]string, 0, len(tracks))
	byKey := make(map[string]int)

	for _, track := range tracks {
		key := shared.NormalizeTrackKey(track.Name, track.Artist)

		if idx, ok := byKey[key]; ok {
			kept[idx] = merge(kept[idx], track)
			continue
		}

		matched := -1
		for i := range kept {
			if !durationClose(kept[i], track, durationDeltaMS) {
				continue
			}
			if shared.Similarity(keys[i], key) >= titleRatio {
				matched = i
				break
			}
		}
		if matched >= 0 {
			kept[matched] = merge(kept[matched], track)
			continue
		}

		byKey[key] = len(kept)
		keys = append(keys, key)
		kept = append(kept, withURLMap(track))
	}

	return kept
}

func durationClose(a, b models.Track, deltaMS int) bool {
	diff := a.DurationMS - b.DurationMS
	if diff < 0 {
		diff = -diff
	}
	return diff <= deltaMS
}

// merge folds a duplicate into the canonical entry. The variant carrying
// audio features wins; external URLs accumulate across providers.
func merge(canonical, dup models.Track) models.Track {
	if canonical.Features == nil && dup.Features != nil {
		urls := canonical.ExternalURLs
		canonical, dup = withURLMap(dup), canonical
		for provider, url := range urls {
			if _, ok := canonical.ExternalURLs[provider]; !ok {
				canonical.ExternalURLs[provider] = url
			}
		}
		return canonical
	}

	canonical = withURLMap(canonical)
	for provider, url := range dup.ExternalURLs {
		if _, ok := canonical.ExternalURLs[provider]; !ok {
			canonical.ExternalURLs[provider] = url
		}
	}
	return canonical
}

func withURLMap(track models.Track) models.Track {
	if track.ExternalURLs == nil {
		track.ExternalURLs = make(map[models.Provider]string)
	}
	return track
}
