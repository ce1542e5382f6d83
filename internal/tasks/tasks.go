// package tasks implements mixtape synthesis over aggregated provider catalogs.
//
// The core abstraction is MixEngine, which runs the synthesis pipeline:
// candidate resolution across providers, feature attachment, cross-provider
// deduplication, scoring, duration-bounded selection, and energy
// sequencing. Operations emit progress updates via channels for
// non-blocking status reporting to CLI/HTTP layers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"golang.org/x/sync/semaphore"
)

const (
	searchLimit        = 10
	defaultConcurrency = 4
	overshootTolerance = 0.10
	diversityQuota     = 0.20
	diversityMinPicked = 5
)

// SynthesisRequest carries everything one synthesis run needs.
type SynthesisRequest struct {
	UserID  string
	Intent  models.MixtapeIntent
	Queries []string
	Profile *models.MusicProfile
	// Seed makes the variable sequencing shuffle reproducible; the
	// playlist ID is used in practice.
	Seed string
}

// SynthesisResult contains the outcome of a synthesis run.
type SynthesisResult struct {
	Tracks               []models.Track    // Final sequenced selection
	CandidateCount       int               // Deduplicated candidate pool size
	Degraded             bool              // At least one weighted provider failed
	FailedSources        []models.Provider // Providers that contributed nothing
	Shortfall            int               // Tracks short of the intent's target count
	TotalDurationSeconds int
}

// MixEngine orchestrates synthesis runs against the provider gateway.
type MixEngine struct {
	gw     *gateway.Gateway
	logger *log.Logger
	cfg    shared.MixerConfig
}

// NewMixEngine creates a MixEngine with the provided gateway and tuning.
func NewMixEngine(gw *gateway.Gateway, cfg shared.MixerConfig, logger *log.Logger) *MixEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if cfg.QueryConcurrency <= 0 {
		cfg.QueryConcurrency = defaultConcurrency
	}
	return &MixEngine{gw: gw, logger: logger, cfg: cfg}
}

// sendProgress sends a progress update through the channel without blocking.
// If the channel is full or nil, the update is dropped.
func (e *MixEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Drop update rather than block the pipeline
	}
}

// Synthesize runs the full pipeline for one request.
//
// Provider failures degrade the run to the surviving sources; the run
// fails outright only when every weighted provider fails (no candidate
// pool at all) or when healthy providers return zero candidates.
func (e *MixEngine) Synthesize(ctx context.Context, progress chan<- ProgressUpdate, req SynthesisRequest) (*SynthesisResult, error) {
	if len(req.Queries) == 0 {
		return nil, fmt.Errorf("%w: no catalog queries", shared.ErrInvalidInput)
	}
	providers := req.Intent.WeightedProviders()
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no weighted sources", shared.ErrInvalidInput)
	}

	candidates, failed, err := e.resolve(ctx, progress, req, providers)
	if err != nil {
		return nil, err
	}

	e.attachFeatures(ctx, progress, req.UserID, candidates)

	before := len(candidates)
	candidates = Deduplicate(candidates, e.cfg.DedupeDurationDeltaMS, e.cfg.DedupeTitleRatio)
	e.sendProgress(progress, dedupedUpdate(before, len(candidates)))

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates for %d queries", shared.ErrSynthesisExhausted, len(req.Queries))
	}

	scored := e.score(req, candidates)
	e.sendProgress(progress, scoredUpdate(len(scored)))

	selected, shortfall := selectTracks(scored, req.Intent, providers)
	duration := totalDurationSeconds(selected)
	e.sendProgress(progress, selectedUpdate(len(selected), duration))

	sequenced := Sequence(selected, req.Intent.EnergyProfile, req.Seed)
	e.sendProgress(progress, sequencedUpdate(string(req.Intent.EnergyProfile)))

	result := &SynthesisResult{
		Tracks:               sequenced,
		CandidateCount:       len(candidates),
		Degraded:             len(failed) > 0,
		FailedSources:        failed,
		Shortfall:            shortfall,
		TotalDurationSeconds: totalDurationSeconds(sequenced),
	}

	e.logger.Info("synthesis complete",
		"user", req.UserID,
		"candidates", result.CandidateCount,
		"selected", len(result.Tracks),
		"duration", result.TotalDurationSeconds,
		"degraded", result.Degraded,
		"shortfall", result.Shortfall)
	return result, nil
}

type searchOutcome struct {
	provider models.Provider
	tracks   []models.Track
	err      error
}

// resolve fans search queries out across every weighted provider, bounded
// by the configured concurrency. Queries settle independently; a provider
// counts as failed only when every one of its queries errored.
func (e *MixEngine) resolve(ctx context.Context, progress chan<- ProgressUpdate, req SynthesisRequest, providers []models.Provider) ([]models.Track, []models.Provider, error) {
	total := len(providers) * len(req.Queries)
	outcomes := make([]searchOutcome, total)
	sem := semaphore.NewWeighted(int64(e.cfg.QueryConcurrency))

	var wg sync.WaitGroup
	i := 0
	for _, provider := range providers {
		for _, query := range req.Queries {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil, nil, err
			}
			wg.Add(1)
			go func(i int, provider models.Provider, query string) {
				defer wg.Done()
				defer sem.Release(1)
				tracks, err := e.gw.Search(ctx, req.UserID, provider, query, searchLimit)
				outcomes[i] = searchOutcome{provider: provider, tracks: tracks, err: err}
			}(i, provider, query)
			e.sendProgress(progress, resolvingUpdate(i+1, total, query))
			i++
		}
	}
	wg.Wait()

	succeeded := make(map[models.Provider]bool)
	attempted := make(map[models.Provider]bool)
	var candidates []models.Track
	for _, outcome := range outcomes {
		attempted[outcome.provider] = true
		if outcome.err != nil {
			e.logger.Warn("catalog search failed", "provider", outcome.provider, "err", outcome.err)
			continue
		}
		succeeded[outcome.provider] = true
		candidates = append(candidates, outcome.tracks...)
	}

	var failed []models.Provider
	for _, provider := range providers {
		if attempted[provider] && !succeeded[provider] {
			failed = append(failed, provider)
		}
	}
	if len(failed) == len(providers) {
		return nil, nil, fmt.Errorf("%w: every weighted source failed", shared.ErrProviderUnavailable)
	}

	e.sendProgress(progress, resolvedUpdate(total, len(candidates)))
	return candidates, failed, nil
}

// attachFeatures fetches audio features for candidates from providers that
// expose them. Feature absence is tolerated everywhere downstream, so
// failures here only log.
func (e *MixEngine) attachFeatures(ctx context.Context, progress chan<- ProgressUpdate, userID string, candidates []models.Track) {
	byProvider := make(map[models.Provider][]string)
	for _, track := range candidates {
		if track.Features == nil {
			byProvider[track.Source] = append(byProvider[track.Source], track.ID)
		}
	}

	attached := 0
	for provider, ids := range byProvider {
		features, err := e.gw.AudioFeatures(ctx, userID, provider, ids)
		if err != nil {
			if !errors.Is(err, shared.ErrFeatureUnsupported) {
				e.logger.Warn("audio feature fetch failed", "provider", provider, "err", err)
			}
			continue
		}
		for i := range candidates {
			track := &candidates[i]
			if track.Source != provider || track.Features != nil {
				continue
			}
			if f, ok := features[track.ID]; ok {
				clone := f
				track.Features = &clone
				attached++
			}
		}
	}
	e.sendProgress(progress, featuresUpdate(attached))
}

// scoredTrack pairs a candidate with its composite score.
type scoredTrack struct {
	track models.Track
	score float64
}

// score ranks candidates by the weighted composite of feature proximity,
// novelty alignment, and mood fit. The sort is stable over a deterministic
// candidate order so equal scores keep resolution order.
func (e *MixEngine) score(req SynthesisRequest, candidates []models.Track) []scoredTrack {
	weights := e.scoreWeights()

	scored := make([]scoredTrack, len(candidates))
	for i, track := range candidates {
		scored[i] = scoredTrack{
			track: track,
			score: weights.feature*featureScore(track, req.Profile) +
				weights.novelty*noveltyScore(track, req.Profile, req.Intent.DiscoveryRatio) +
				weights.mood*moodScore(track, req.Profile),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

type scoreWeights struct {
	feature, novelty, mood float64
}

func (e *MixEngine) scoreWeights() scoreWeights {
	w := scoreWeights{feature: e.cfg.FeatureWeight, novelty: e.cfg.NoveltyWeight, mood: e.cfg.MoodWeight}
	if w.feature+w.novelty+w.mood <= 0 {
		return scoreWeights{feature: 0.5, novelty: 0.3, mood: 0.2}
	}
	return w
}

func totalDurationSeconds(tracks []models.Track) int {
	total := 0
	for _, track := range tracks {
		total += track.DurationMS
	}
	return total / 1000
}
