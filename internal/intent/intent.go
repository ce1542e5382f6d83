// Package intent turns free-text prompts into structured mixtape intents.
//
// A language model proposes the structured reading; everything it returns
// is validated and clamped here, and an unparseable or unreachable model
// degrades to a deterministic default intent built from the user's profile
// rather than failing the request.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

const (
	defaultDurationSeconds = 1800
	defaultTrackSeconds    = 210
	defaultDiscoveryRatio  = 0.3
	minDurationSeconds     = 60
	maxDurationSeconds     = 14400
	maxTrackCount          = 200
	defaultMaxQueries      = 12
)

// ModelClient is the slice of the language model the parser needs.
// Implemented by services.ModelService.
type ModelClient interface {
	AnalyzeIntent(ctx context.Context, prompt, profileSummary string, history []string) (*services.IntentSchema, error)
	DescribePlaylist(ctx context.Context, prompt string, trackSummaries, moodTags []string) (*services.PlaylistNotes, error)
}

// Parsed is a prompt resolved into an intent plus the catalog queries
// that should satisfy it.
type Parsed struct {
	Intent      models.MixtapeIntent
	Queries     []string
	Name        string
	Description string
	Explanation string
	// Defaulted reports that the model reading was unusable and the
	// intent was synthesized from the profile instead.
	Defaulted bool
}

// Parser resolves prompts against a user's profile.
type Parser struct {
	model      ModelClient
	logger     *log.Logger
	maxQueries int
}

func NewParser(model ModelClient, logger *log.Logger, maxQueries int) *Parser {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if maxQueries <= 0 {
		maxQueries = defaultMaxQueries
	}
	return &Parser{model: model, logger: logger, maxQueries: maxQueries}
}

// Parse asks the model for a structured reading of the prompt, then
// validates and clamps it. Only the user's connected providers receive
// source weight. Model failure is never surfaced: the parser falls back
// to DefaultIntent so a prompt always produces a mixtape.
func (p *Parser) Parse(ctx context.Context, prompt string, prof *models.MusicProfile, connected []models.Provider, history []string) (*Parsed, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", shared.ErrInvalidInput)
	}

	schema, err := p.model.AnalyzeIntent(ctx, prompt, profile.Summary(prof), history)
	if err != nil {
		p.logger.Warn("intent analysis failed, using default intent", "err", err)
		return p.defaulted(prompt, prof, connected), nil
	}

	parsed := p.fromSchema(prompt, schema, prof, connected)
	if err := parsed.Intent.Validate(); err != nil {
		p.logger.Warn("model intent invalid, using default intent", "err", err)
		return p.defaulted(prompt, prof, connected), nil
	}
	return parsed, nil
}

// Describe asks the model to name and describe a finished mixtape,
// falling back to a deterministic name when the model is unavailable.
func (p *Parser) Describe(ctx context.Context, prompt string, trackSummaries, moodTags []string) *services.PlaylistNotes {
	notes, err := p.model.DescribePlaylist(ctx, prompt, trackSummaries, moodTags)
	if err == nil && strings.TrimSpace(notes.Name) != "" {
		return notes
	}
	if err != nil {
		p.logger.Warn("playlist description failed, using fallback", "err", err)
	}
	return FallbackNotes(prompt, moodTags)
}

// FallbackNotes builds deterministic playlist notes from the prompt.
func FallbackNotes(prompt string, moodTags []string) *services.PlaylistNotes {
	name := "Crossfade Mix " + time.Now().Format("2006-01-02")
	if len(moodTags) > 0 {
		name = capitalize(moodTags[0]) + " Mix " + time.Now().Format("2006-01-02")
	}
	return &services.PlaylistNotes{
		Name:        name,
		Description: "Generated from the prompt: " + truncate(prompt, 160),
	}
}

// fromSchema converts the model's reading into a clamped intent.
func (p *Parser) fromSchema(prompt string, schema *services.IntentSchema, prof *models.MusicProfile, connected []models.Provider) *Parsed {
	duration := schema.TargetDurationSeconds
	if duration <= 0 {
		duration = defaultDurationSeconds
	}
	duration = shared.ClampInt(duration, minDurationSeconds, maxDurationSeconds)

	trackSeconds := trackEstimate(prof)
	count := schema.TargetTrackCount
	if count <= 0 {
		count = duration / trackSeconds
	}
	count = shared.ClampInt(count, 1, maxTrackCount)

	discovery := schema.DiscoveryRatio
	if discovery <= 0 {
		discovery = defaultDiscoveryRatio
	}
	discovery = shared.ClampFloat(discovery, 0, 1)

	intent := models.MixtapeIntent{
		MoodTags:              dedupeStrings(schema.MoodTags),
		TargetDurationSeconds: duration,
		TargetTrackCount:      count,
		EnergyProfile:         models.ParseEnergyProfile(schema.EnergyProfile),
		SourceWeights:         sourceWeights(schema.IncludeSources, connected),
		DiscoveryRatio:        discovery,
	}

	queries := dedupeStrings(schema.SearchQueries)
	if len(queries) == 0 {
		queries = derivedQueries(prompt, intent.MoodTags, prof)
	}
	if len(queries) > p.maxQueries {
		queries = queries[:p.maxQueries]
	}

	return &Parsed{
		Intent:      intent,
		Queries:     queries,
		Name:        strings.TrimSpace(schema.Name),
		Description: strings.TrimSpace(schema.Description),
		Explanation: strings.TrimSpace(schema.Explanation),
	}
}

// defaulted builds the recovery result for an unusable model reading.
func (p *Parser) defaulted(prompt string, prof *models.MusicProfile, connected []models.Provider) *Parsed {
	intent := DefaultIntent(prof, connected)
	queries := derivedQueries(prompt, nil, prof)
	if len(queries) > p.maxQueries {
		queries = queries[:p.maxQueries]
	}
	return &Parsed{Intent: intent, Queries: queries, Defaulted: true}
}

// DefaultIntent is the intent used when a prompt cannot be parsed: a
// thirty minute steady mix weighted equally across the user's connected
// providers.
func DefaultIntent(prof *models.MusicProfile, connected []models.Provider) models.MixtapeIntent {
	trackSeconds := trackEstimate(prof)
	return models.MixtapeIntent{
		TargetDurationSeconds: defaultDurationSeconds,
		TargetTrackCount:      defaultDurationSeconds / trackSeconds,
		EnergyProfile:         models.EnergySteady,
		SourceWeights:         sourceWeights(nil, connected),
		DiscoveryRatio:        defaultDiscoveryRatio,
	}
}

// trackEstimate is the per-track length assumption: the profile's mean
// track length when known, 210 seconds otherwise.
func trackEstimate(prof *models.MusicProfile) int {
	if prof != nil {
		if mean := prof.MeanTrackLengthSeconds(); mean > 0 {
			return mean
		}
	}
	return defaultTrackSeconds
}

// sourceWeights normalizes the model's provider selection into weights
// summing to one. Unknown and unconnected names are dropped; an empty or
// fully dropped selection weights every connected provider equally. Only
// a caller with no connection information at all falls back to weighting
// every known provider.
func sourceWeights(include []string, connected []models.Provider) map[models.Provider]float64 {
	var selected []models.Provider
	for _, name := range include {
		provider, err := models.ParseProvider(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			continue
		}
		if len(connected) > 0 && !containsProvider(connected, provider) {
			continue
		}
		if !containsProvider(selected, provider) {
			selected = append(selected, provider)
		}
	}
	if len(selected) == 0 {
		selected = connected
	}
	if len(selected) == 0 {
		selected = models.Providers()
	}

	weights := make(map[models.Provider]float64, len(selected))
	for _, provider := range selected {
		weights[provider] = 1.0 / float64(len(selected))
	}
	return weights
}

// derivedQueries builds catalog queries without the model: the prompt
// itself, mood tags crossed with top genres, and top artists.
func derivedQueries(prompt string, moodTags []string, prof *models.MusicProfile) []string {
	queries := []string{prompt}

	tags := moodTags
	if prof != nil {
		for i, genre := range prof.TopGenres {
			if i >= 3 {
				break
			}
			if len(tags) > 0 {
				queries = append(queries, tags[0]+" "+genre)
			} else {
				queries = append(queries, genre)
			}
		}
		for i, artist := range prof.TopArtists {
			if i >= 3 {
				break
			}
			queries = append(queries, artist.Name)
		}
	}
	for _, tag := range tags {
		queries = append(queries, tag+" music")
	}

	return dedupeStrings(queries)
}

func dedupeStrings(items []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func containsProvider(providers []models.Provider, p models.Provider) bool {
	for _, candidate := range providers {
		if candidate == p {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
