package tasks

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// selectTracks picks the final mixtape from the scored pool: best scores
// first, bounded by the intent's duration plus a ten percent overshoot
// allowance and its track count, with no artist taking more than a
// quarter of the slots.
//
// When more than one source is weighted and at least five tracks are
// picked, each weighted source is guaranteed at least twenty percent of
// the selection, swapping in lower-scored tracks from an underrepresented
// source when needed. The second return value is how many tracks short of
// the target count the pool left us.
func selectTracks(scored []scoredTrack, intent models.MixtapeIntent, providers []models.Provider) ([]models.Track, int) {
	targetMS := intent.TargetDurationSeconds * 1000
	maxMS := targetMS + int(float64(targetMS)*overshootTolerance)
	targetCount := intent.TargetTrackCount
	artistCap := (targetCount + 3) / 4
	if artistCap < 1 {
		artistCap = 1
	}

	var selected []models.Track
	picked := make([]bool, len(scored))
	perArtist := make(map[string]int)
	totalMS := 0

	for i, candidate := range scored {
		if len(selected) >= targetCount || totalMS >= targetMS {
			break
		}
		artist := shared.NormalizeTitle(candidate.track.Artist)
		if perArtist[artist] >= artistCap {
			continue
		}
		if totalMS+candidate.track.DurationMS > maxMS {
			continue
		}
		picked[i] = true
		perArtist[artist]++
		totalMS += candidate.track.DurationMS
		selected = append(selected, candidate.track)
	}

	if len(providers) > 1 && len(selected) >= diversityMinPicked {
		selected = enforceDiversity(scored, picked, selected, providers, maxMS)
	}

	shortfall := targetCount - len(selected)
	if shortfall < 0 {
		shortfall = 0
	}
	return selected, shortfall
}

// enforceDiversity swaps tracks until every weighted source holds at
// least the quota share of the selection, or no beneficial swap remains.
func enforceDiversity(scored []scoredTrack, picked []bool, selected []models.Track, providers []models.Provider, maxMS int) []models.Track {
	minPer := int(math.Ceil(float64(len(selected)) * diversityQuota))

	for {
		counts := make(map[models.Provider]int)
		for _, track := range selected {
			counts[track.Source]++
		}

		var short models.Provider
		found := false
		for _, provider := range providers {
			if counts[provider] < minPer {
				short = provider
				found = true
				break
			}
		}
		if !found {
			return selected
		}

		// Best unpicked candidate from the starved source.
		inIdx := -1
		for i, candidate := range scored {
			if !picked[i] && candidate.track.Source == short {
				inIdx = i
				break
			}
		}
		if inIdx < 0 {
			return selected
		}

		// Lowest-scored selected track from a source that can spare one.
		outIdx := -1
		for i := len(selected) - 1; i >= 0; i-- {
			source := selected[i].Source
			if source != short && counts[source] > minPer {
				outIdx = i
				break
			}
		}
		if outIdx < 0 {
			return selected
		}

		totalMS := 0
		for _, track := range selected {
			totalMS += track.DurationMS
		}
		if totalMS-selected[outIdx].DurationMS+scored[inIdx].track.DurationMS > maxMS {
			picked[inIdx] = true // exclude from further consideration
			continue
		}

		picked[inIdx] = true
		selected[outIdx] = scored[inIdx].track
	}
}

// Sequence orders the selection along the requested energy arc. Tracks
// without features sit at a neutral mid energy. The variable arc is a
// seeded shuffle so the same playlist always replays in the same order.
// The steady and variable arcs finish with a pass that separates
// back-to-back tracks by the same artist where another order exists; the
// monotone arcs keep their energy order intact.
func Sequence(tracks []models.Track, profile models.EnergyProfile, seed string) []models.Track {
	ordered := make([]models.Track, len(tracks))
	copy(ordered, tracks)

	switch profile {
	case models.EnergyAscending:
		sort.SliceStable(ordered, func(i, j int) bool { return energyOf(ordered[i]) < energyOf(ordered[j]) })
	case models.EnergyDescending:
		sort.SliceStable(ordered, func(i, j int) bool { return energyOf(ordered[i]) > energyOf(ordered[j]) })
	case models.EnergyVariable:
		rng := rand.New(rand.NewSource(seedFrom(seed)))
		rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
		ordered = separateArtists(ordered)
	default:
		ordered = steadyOrder(ordered)
		ordered = separateArtists(ordered)
	}

	return ordered
}

// steadyOrder walks the selection nearest-energy-first from the track
// closest to the mean, keeping adjacent energy jumps small.
func steadyOrder(tracks []models.Track) []models.Track {
	if len(tracks) < 3 {
		return tracks
	}

	mean := 0.0
	for _, track := range tracks {
		mean += energyOf(track)
	}
	mean /= float64(len(tracks))

	start := 0
	best := math.MaxFloat64
	for i, track := range tracks {
		if d := math.Abs(energyOf(track) - mean); d < best {
			best = d
			start = i
		}
	}

	used := make([]bool, len(tracks))
	ordered := make([]models.Track, 0, len(tracks))
	current := start
	for range tracks {
		used[current] = true
		ordered = append(ordered, tracks[current])

		next := -1
		bestDelta := math.MaxFloat64
		for i, track := range tracks {
			if used[i] {
				continue
			}
			if d := math.Abs(energyOf(track) - energyOf(tracks[current])); d < bestDelta {
				bestDelta = d
				next = i
			}
		}
		if next < 0 {
			break
		}
		current = next
	}
	return ordered
}

// separateArtists breaks up adjacent same-artist pairs by swapping the
// second track with a later one when any later track differs. Best
// effort: a selection dominated by one artist keeps its order.
func separateArtists(tracks []models.Track) []models.Track {
	for i := 1; i < len(tracks); i++ {
		if !sameArtist(tracks[i-1], tracks[i]) {
			continue
		}
		for j := i + 1; j < len(tracks); j++ {
			if sameArtist(tracks[i-1], tracks[j]) {
				continue
			}
			if j+1 < len(tracks) && sameArtist(tracks[i], tracks[j+1]) {
				continue
			}
			tracks[i], tracks[j] = tracks[j], tracks[i]
			break
		}
	}
	return tracks
}

func sameArtist(a, b models.Track) bool {
	return shared.NormalizeTitle(a.Artist) == shared.NormalizeTitle(b.Artist)
}

func energyOf(track models.Track) float64 {
	if track.Features == nil {
		return neutralScore
	}
	return track.Features.Energy
}

func seedFrom(seed string) int64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return int64(h.Sum64())
}
