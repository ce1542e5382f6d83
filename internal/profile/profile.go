// Package profile builds and serves per-user taste profiles aggregated
// across every linked provider.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

const (
	topLimit      = 50
	maxTopGenres  = 10
	moodClusterK  = 3
	minClusterIn  = moodClusterK * 2
	featureCount  = 4 // energy, valence, danceability, acousticness
	profileMaxAge = 24 * time.Hour
)

// Store is the persistence slice the analyzer needs. Implemented by
// repositories.ProfileRepository.
type Store interface {
	GetByUser(userID string) (*models.MusicProfile, error)
	NextSequence() (int, error)
	Upsert(profile *models.MusicProfile) error
}

// Analyzer aggregates listening data from every active connection into a
// single MusicProfile.
type Analyzer struct {
	gw       *gateway.Gateway
	profiles Store
	logger   *log.Logger
}

func NewAnalyzer(gw *gateway.Gateway, profiles Store, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Analyzer{gw: gw, profiles: profiles, logger: logger}
}

// Profile returns the stored profile for a user, rebuilding it when absent
// or older than a day. Callers that must not trigger provider traffic read
// through Cached instead.
func (a *Analyzer) Profile(ctx context.Context, userID string) (*models.MusicProfile, error) {
	profile, err := a.profiles.GetByUser(userID)
	if err == nil && time.Since(profile.LastAnalyzed) < profileMaxAge {
		return profile, nil
	}
	if err != nil && !errors.Is(err, shared.ErrProfileNotFound) {
		return nil, err
	}
	return a.BuildProfile(ctx, userID)
}

// Cached returns the stored profile without ever rebuilding it.
func (a *Analyzer) Cached(userID string) (*models.MusicProfile, error) {
	return a.profiles.GetByUser(userID)
}

// providerPull is one provider's contribution to an aggregation pass.
type providerPull struct {
	provider models.Provider
	artists  []models.ArtistRef
	tracks   []models.Track
	err      error
}

// BuildProfile pulls top artists and tracks from every active connection
// concurrently, merges them, and persists the resulting profile.
//
// Providers are pulled all-settle: one provider failing degrades the
// profile to the remaining sources instead of aborting the pass. The pass
// fails only when every provider fails.
func (a *Analyzer) BuildProfile(ctx context.Context, userID string) (*models.MusicProfile, error) {
	conns, err := a.gw.Connections(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: no active connections for %s", shared.ErrConnectionNotFound, userID)
	}

	pulls := make([]providerPull, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, provider models.Provider) {
			defer wg.Done()
			pulls[i] = a.pull(ctx, userID, provider)
		}(i, conn.Provider)
	}
	wg.Wait()

	var settled []providerPull
	for _, pull := range pulls {
		if pull.err != nil {
			a.logger.Warn("provider pull failed", "provider", pull.provider, "err", pull.err)
			continue
		}
		settled = append(settled, pull)
	}
	if len(settled) == 0 {
		return nil, fmt.Errorf("%w: all provider pulls failed", shared.ErrProviderUnavailable)
	}

	profile, err := a.assemble(ctx, userID, settled)
	if err != nil {
		return nil, err
	}

	if err := a.profiles.Upsert(profile); err != nil {
		return nil, fmt.Errorf("failed to persist profile: %w", err)
	}

	a.logger.Info("profile rebuilt",
		"user", userID,
		"sources", len(settled),
		"artists", len(profile.TopArtists),
		"tracks", len(profile.TopTracks),
		"clusters", len(profile.MoodClusters))
	return profile, nil
}

func (a *Analyzer) pull(ctx context.Context, userID string, provider models.Provider) providerPull {
	pull := providerPull{provider: provider}

	artists, err := a.gw.FetchTop(ctx, userID, provider, gateway.TopArtists, topLimit)
	if err != nil {
		pull.err = err
		return pull
	}
	pull.artists = artists.Artists

	tracks, err := a.gw.FetchTop(ctx, userID, provider, gateway.TopTracks, topLimit)
	if err != nil {
		pull.err = err
		return pull
	}
	pull.tracks = tracks.Tracks
	return pull
}

// assemble merges settled pulls into a profile: interleaved artist and
// track rankings, genre frequencies, feature means, and mood clusters.
func (a *Analyzer) assemble(ctx context.Context, userID string, pulls []providerPull) (*models.MusicProfile, error) {
	sequence, err := a.profiles.NextSequence()
	if err != nil {
		return nil, err
	}

	profile := models.NewMusicProfile(sequence, userID)
	profile.SetID(shared.GenerateID())
	profile.TopArtists = mergeArtists(pulls)
	profile.TopTracks = mergeTracks(pulls)
	profile.TopGenres = rankGenres(profile.TopArtists)

	a.attachFeatures(ctx, userID, profile)
	profile.FeatureAverages = featureMeans(profile.TopTracks)
	profile.MoodClusters = moodClusters(profile.TopTracks)
	profile.LastAnalyzed = time.Now()

	return profile, nil
}

// attachFeatures fetches audio features for tracks from providers that
// expose them. Providers without feature support are skipped.
func (a *Analyzer) attachFeatures(ctx context.Context, userID string, profile *models.MusicProfile) {
	byProvider := make(map[models.Provider][]string)
	for _, track := range profile.TopTracks {
		if track.Features == nil {
			byProvider[track.Source] = append(byProvider[track.Source], track.ID)
		}
	}

	for provider, ids := range byProvider {
		features, err := a.gw.AudioFeatures(ctx, userID, provider, ids)
		if err != nil {
			if !errors.Is(err, shared.ErrFeatureUnsupported) {
				a.logger.Warn("audio feature fetch failed", "provider", provider, "err", err)
			}
			continue
		}
		for i := range profile.TopTracks {
			track := &profile.TopTracks[i]
			if track.Source != provider || track.Features != nil {
				continue
			}
			if f, ok := features[track.ID]; ok {
				clone := f
				track.Features = &clone
			}
		}
	}
}

// mergeArtists interleaves provider rankings round-robin so no single
// provider dominates the head of the list, deduplicating on the
// normalized artist name.
func mergeArtists(pulls []providerPull) []models.ArtistRef {
	var merged []models.ArtistRef
	seen := make(map[string]bool)

	for rank := 0; ; rank++ {
		advanced := false
		for _, pull := range pulls {
			if rank >= len(pull.artists) {
				continue
			}
			advanced = true
			artist := pull.artists[rank]
			key := shared.NormalizeTitle(artist.Name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, artist)
		}
		if !advanced {
			break
		}
	}
	return merged
}

// mergeTracks interleaves provider rankings round-robin, deduplicating on
// the normalized title|artist key.
func mergeTracks(pulls []providerPull) []models.Track {
	var merged []models.Track
	seen := make(map[string]bool)

	for rank := 0; ; rank++ {
		advanced := false
		for _, pull := range pulls {
			if rank >= len(pull.tracks) {
				continue
			}
			advanced = true
			track := pull.tracks[rank]
			key := shared.NormalizeTrackKey(track.Name, track.Artist)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, track)
		}
		if !advanced {
			break
		}
	}
	return merged
}

// rankGenres counts genre occurrences across top artists and returns the
// most frequent ones, first-seen order breaking ties.
func rankGenres(artists []models.ArtistRef) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0

	for _, artist := range artists {
		for _, genre := range artist.Genres {
			if genre == "" {
				continue
			}
			if _, ok := counts[genre]; !ok {
				firstSeen[genre] = order
				order++
			}
			counts[genre]++
		}
	}

	genres := make([]string, 0, len(counts))
	for genre := range counts {
		genres = append(genres, genre)
	}
	sort.Slice(genres, func(i, j int) bool {
		if counts[genres[i]] != counts[genres[j]] {
			return counts[genres[i]] > counts[genres[j]]
		}
		return firstSeen[genres[i]] < firstSeen[genres[j]]
	})

	if len(genres) > maxTopGenres {
		genres = genres[:maxTopGenres]
	}
	return genres
}

// featureMeans averages each audio feature over the tracks that carry it.
// Tracks without features contribute nothing rather than dragging the
// means toward zero.
func featureMeans(tracks []models.Track) map[string]float64 {
	sums := make(map[string]float64)
	n := 0

	for _, track := range tracks {
		f := track.Features
		if f == nil {
			continue
		}
		n++
		sums["energy"] += f.Energy
		sums["danceability"] += f.Danceability
		sums["valence"] += f.Valence
		sums["tempo"] += f.Tempo
		sums["acousticness"] += f.Acousticness
		sums["instrumentalness"] += f.Instrumentalness
		sums["liveness"] += f.Liveness
		sums["speechiness"] += f.Speechiness
	}
	if n == 0 {
		return map[string]float64{}
	}

	means := make(map[string]float64, len(sums))
	for key, sum := range sums {
		means[key] = sum / float64(n)
	}
	return means
}

// moodClusters partitions featured tracks into k mood groups over the
// energy, valence, danceability, and acousticness axes. Returns nil when
// too few tracks carry features to cluster meaningfully.
func moodClusters(tracks []models.Track) []models.MoodCluster {
	var observations clusters.Observations
	for _, track := range tracks {
		f := track.Features
		if f == nil {
			continue
		}
		observations = append(observations, clusters.Coordinates{
			f.Energy, f.Valence, f.Danceability, f.Acousticness,
		})
	}
	if len(observations) < minClusterIn {
		return nil
	}

	km := kmeans.New()
	partitioned, err := km.Partition(observations, moodClusterK)
	if err != nil {
		return nil
	}

	moods := make([]models.MoodCluster, 0, len(partitioned))
	for _, cluster := range partitioned {
		center := cluster.Center
		if len(center) < featureCount {
			continue
		}
		centroid := map[string]float64{
			"energy":       center[0],
			"valence":      center[1],
			"danceability": center[2],
			"acousticness": center[3],
		}
		moods = append(moods, models.MoodCluster{
			Name:     moodName(centroid),
			Size:     len(cluster.Observations),
			Centroid: centroid,
		})
	}

	sort.Slice(moods, func(i, j int) bool { return moods[i].Size > moods[j].Size })
	return moods
}

// moodName derives a human label from a cluster centroid.
func moodName(centroid map[string]float64) string {
	energy := centroid["energy"]
	valence := centroid["valence"]
	dance := centroid["danceability"]
	acoustic := centroid["acousticness"]

	switch {
	case acoustic > 0.6 && energy < 0.5:
		return "acoustic"
	case energy > 0.7 && valence > 0.5:
		return "energetic"
	case energy > 0.7:
		return "intense"
	case dance > 0.65 && valence > 0.5:
		return "upbeat"
	case valence < 0.35 && energy < 0.5:
		return "melancholy"
	case energy < 0.4:
		return "mellow"
	default:
		return "balanced"
	}
}

// Summary renders a compact description of the profile for prompt
// grounding.
func Summary(profile *models.MusicProfile) string {
	if profile == nil {
		return "no listening history available"
	}

	var artists []string
	for i, artist := range profile.TopArtists {
		if i >= 5 {
			break
		}
		artists = append(artists, artist.Name)
	}

	var moods []string
	for _, cluster := range profile.MoodClusters {
		moods = append(moods, fmt.Sprintf("%s (%d tracks)", cluster.Name, cluster.Size))
	}

	summary := "top artists: " + joinOr(artists, "none") +
		"; top genres: " + joinOr(profile.TopGenres, "none")
	if len(moods) > 0 {
		summary += "; moods: " + joinOr(moods, "none")
	}
	if energy, ok := profile.FeatureAverages["energy"]; ok {
		summary += fmt.Sprintf("; typical energy %.2f", roundTo(energy, 2))
	}
	return summary
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	out := items[0]
	for _, item := range items[1:] {
		out += ", " + item
	}
	return out
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
