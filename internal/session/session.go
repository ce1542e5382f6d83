// Package session is the append-only ledger of mixtape conversations.
//
// A Ledger ties the synthesis pieces together: it records every prompt
// and reply as conversation turns, runs the pipeline for a prompt, and
// persists the resulting playlist before any response leaves the system.
// Conversations are never mutated in place; corrections arrive as new
// turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/intent"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/shared"
	"github.com/crossfade-fm/crossfade/internal/tasks"
)

// historyDepth limits how many earlier prompts ground an intent parse.
const historyDepth = 5

// exportMatchRatio is the minimum title similarity for resolving a track
// on the export target's catalog.
const exportMatchRatio = 0.75

// ConversationStore persists conversations.
type ConversationStore interface {
	Get(id string) (*models.Conversation, error)
	Create(conv *models.Conversation) error
	NextSequence() (int, error)
}

// MessageStore persists conversation turns.
type MessageStore interface {
	Create(msg *models.Message) error
	ListByConversation(conversationID string) ([]*models.Message, error)
	NextSequence() (int, error)
}

// PlaylistStore persists synthesized playlists and their exports.
type PlaylistStore interface {
	Get(id string) (*models.Playlist, error)
	Create(playlist *models.Playlist) error
	Update(playlist *models.Playlist) error
	NextSequence() (int, error)
	RecordExport(playlistID string, provider models.Provider, externalID string) error
	GetExport(playlistID string, provider models.Provider) (string, error)
}

// Ledger orchestrates synthesis runs and records every turn.
type Ledger struct {
	gw            *gateway.Gateway
	analyzer      *profile.Analyzer
	parser        *intent.Parser
	engine        *tasks.MixEngine
	conversations ConversationStore
	messages      MessageStore
	playlists     PlaylistStore
	logger        *log.Logger
}

type Opts struct {
	Gateway       *gateway.Gateway
	Analyzer      *profile.Analyzer
	Parser        *intent.Parser
	Engine        *tasks.MixEngine
	Conversations ConversationStore
	Messages      MessageStore
	Playlists     PlaylistStore
	Logger        *log.Logger
}

func NewLedger(opts Opts) *Ledger {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Ledger{
		gw:            opts.Gateway,
		analyzer:      opts.Analyzer,
		parser:        opts.Parser,
		engine:        opts.Engine,
		conversations: opts.Conversations,
		messages:      opts.Messages,
		playlists:     opts.Playlists,
		logger:        opts.Logger,
	}
}

// Outcome is everything one synthesis turn produced.
type Outcome struct {
	Conversation *models.Conversation
	UserTurn     *models.Message
	Reply        *models.Message
	Playlist     *models.Playlist
	Explanation  string
	// Defaulted reports the prompt could not be structured and the
	// fallback intent drove the run.
	Defaulted     bool
	FailedSources []models.Provider
}

// Synthesize runs the full prompt-to-playlist pipeline for one turn.
//
// The user's prompt is recorded before synthesis starts, so a failed run
// still leaves its turn in the ledger. An empty conversationID starts a
// new conversation.
func (l *Ledger) Synthesize(ctx context.Context, progress chan<- tasks.ProgressUpdate, userID, conversationID, prompt string) (*Outcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", shared.ErrInvalidInput)
	}

	conv, err := l.conversation(userID, conversationID)
	if err != nil {
		return nil, err
	}

	history, err := l.promptHistory(conv.ID())
	if err != nil {
		return nil, err
	}

	userTurn, err := l.RecordTurn(conv.ID(), models.RoleUser, prompt, "")
	if err != nil {
		return nil, err
	}

	prof := l.profileFor(ctx, userID)

	conns, err := l.gw.Connections(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: no active connections for %s", shared.ErrConnectionNotFound, userID)
	}
	connected := make([]models.Provider, len(conns))
	for i, conn := range conns {
		connected[i] = conn.Provider
	}

	parsed, err := l.parser.Parse(ctx, prompt, prof, connected, history)
	if err != nil {
		return nil, err
	}

	sequence, err := l.playlists.NextSequence()
	if err != nil {
		return nil, err
	}
	playlist := models.NewPlaylist(sequence, userID, "", prompt)
	playlist.SetID(shared.GenerateID())
	playlist.MessageID = userTurn.ID()

	result, err := l.engine.Synthesize(ctx, progress, tasks.SynthesisRequest{
		UserID:  userID,
		Intent:  parsed.Intent,
		Queries: parsed.Queries,
		Profile: prof,
		Seed:    playlist.ID(),
	})
	if err != nil {
		return nil, err
	}

	name, description, explanation := l.describe(ctx, prompt, parsed, result.Tracks)
	playlist.Name = name
	playlist.Description = description
	playlist.SetTracks(result.Tracks)
	playlist.Degraded = result.Degraded
	playlist.Shortfall = result.Shortfall

	if err := playlist.Validate(); err != nil {
		return nil, err
	}
	if err := l.playlists.Create(playlist); err != nil {
		return nil, fmt.Errorf("failed to persist playlist: %w", err)
	}

	reply, err := l.RecordTurn(conv.ID(), models.RoleAssistant, replyContent(playlist, explanation, result), playlist.ID())
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Conversation:  conv,
		UserTurn:      userTurn,
		Reply:         reply,
		Playlist:      playlist,
		Explanation:   explanation,
		Defaulted:     parsed.Defaulted,
		FailedSources: result.FailedSources,
	}, nil
}

// RecordTurn appends a message to a conversation. Turns are never
// updated or removed.
func (l *Ledger) RecordTurn(conversationID string, role models.MessageRole, content, playlistID string) (*models.Message, error) {
	sequence, err := l.messages.NextSequence()
	if err != nil {
		return nil, err
	}

	msg := models.NewMessage(sequence, conversationID, role, content)
	msg.SetID(shared.GenerateID())
	msg.PlaylistID = playlistID
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := l.messages.Create(msg); err != nil {
		return nil, fmt.Errorf("failed to record turn: %w", err)
	}
	return msg, nil
}

// Turns lists a conversation's messages in order.
func (l *Ledger) Turns(conversationID string) ([]*models.Message, error) {
	if _, err := l.conversations.Get(conversationID); err != nil {
		return nil, err
	}
	return l.messages.ListByConversation(conversationID)
}

// Playlist fetches a synthesized playlist by ID.
func (l *Ledger) Playlist(id string) (*models.Playlist, error) {
	return l.playlists.Get(id)
}

// ExportPlaylist pushes a playlist to one provider's catalog, resolving
// tracks sourced elsewhere by searching the target catalog. Repeating an
// export returns the already-created provider playlist.
func (l *Ledger) ExportPlaylist(ctx context.Context, playlistID string, provider models.Provider) (string, error) {
	playlist, err := l.playlists.Get(playlistID)
	if err != nil {
		return "", err
	}

	if externalID, err := l.playlists.GetExport(playlistID, provider); err == nil && externalID != "" {
		return externalID, nil
	}

	uris := l.resolveExportURIs(ctx, playlist, provider)
	if len(uris) == 0 {
		return "", fmt.Errorf("%w: no tracks resolvable on %s", shared.ErrSynthesisExhausted, provider)
	}

	externalID, err := l.gw.CreatePlaylist(ctx, playlist.UserID, provider, playlist.Name, playlist.Description, uris)
	if err != nil {
		return "", err
	}

	if err := l.playlists.RecordExport(playlistID, provider, externalID); err != nil {
		return "", err
	}
	if playlist.MarkExported(provider) {
		if err := l.playlists.Update(playlist); err != nil {
			l.logger.Error("failed to update playlist export state", "playlist", playlistID, "err", err)
		}
	}

	l.logger.Info("playlist exported", "playlist", playlistID, "provider", provider, "external", externalID, "tracks", len(uris))
	return externalID, nil
}

// resolveExportURIs maps each track to a URI on the target provider,
// searching the target catalog for tracks sourced elsewhere. Unresolvable
// tracks are skipped.
func (l *Ledger) resolveExportURIs(ctx context.Context, playlist *models.Playlist, provider models.Provider) []string {
	var uris []string
	for _, track := range playlist.Tracks {
		if track.Source == provider && track.URI != "" {
			uris = append(uris, track.URI)
			continue
		}

		matches, err := l.gw.Search(ctx, playlist.UserID, provider, track.Name+" "+track.Artist, 5)
		if err != nil {
			l.logger.Warn("export track search failed", "track", track.Name, "provider", provider, "err", err)
			continue
		}

		key := shared.NormalizeTrackKey(track.Name, track.Artist)
		for _, match := range matches {
			if shared.Similarity(key, shared.NormalizeTrackKey(match.Name, match.Artist)) >= exportMatchRatio {
				if match.URI != "" {
					uris = append(uris, match.URI)
				}
				break
			}
		}
	}
	return uris
}

func (l *Ledger) conversation(userID, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := l.conversations.Get(conversationID)
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID {
			return nil, fmt.Errorf("%w: %s", shared.ErrConversationNotFound, conversationID)
		}
		return conv, nil
	}

	sequence, err := l.conversations.NextSequence()
	if err != nil {
		return nil, err
	}
	conv := models.NewConversation(sequence, userID)
	conv.SetID(shared.GenerateID())
	if err := l.conversations.Create(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// promptHistory returns the most recent user prompts in the conversation,
// oldest first.
func (l *Ledger) promptHistory(conversationID string) ([]string, error) {
	msgs, err := l.messages.ListByConversation(conversationID)
	if err != nil {
		return nil, err
	}

	var prompts []string
	for _, msg := range msgs {
		if msg.Role == models.RoleUser {
			prompts = append(prompts, msg.Content)
		}
	}
	if len(prompts) > historyDepth {
		prompts = prompts[len(prompts)-historyDepth:]
	}
	return prompts, nil
}

// profileFor returns the best available profile, tolerating everything
// except a hard failure to even look one up. A degraded or absent
// profile weakens scoring but never blocks synthesis.
func (l *Ledger) profileFor(ctx context.Context, userID string) *models.MusicProfile {
	prof, err := l.analyzer.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, shared.ErrProfileNotFound) {
			l.logger.Warn("profile unavailable for synthesis", "user", userID, "err", err)
		}
		return nil
	}
	return prof
}

// describe settles the playlist's name, description, and explanation,
// preferring what the intent parse already produced over a second model
// round trip.
func (l *Ledger) describe(ctx context.Context, prompt string, parsed *intent.Parsed, tracks []models.Track) (name, description, explanation string) {
	if parsed.Name != "" {
		return parsed.Name, parsed.Description, parsed.Explanation
	}

	summaries := make([]string, 0, len(tracks))
	for _, track := range tracks {
		summaries = append(summaries, track.Name+" by "+track.Artist)
	}
	notes := l.parser.Describe(ctx, prompt, summaries, parsed.Intent.MoodTags)
	return notes.Name, notes.Description, notes.Explanation
}

// replyContent renders the assistant turn for a finished run.
func replyContent(playlist *models.Playlist, explanation string, result *tasks.SynthesisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d tracks, %d minutes.", playlist.Name, len(playlist.Tracks), playlist.TotalDurationSeconds/60)
	if explanation != "" {
		b.WriteString(" ")
		b.WriteString(explanation)
	}
	if result.Degraded {
		b.WriteString(" Some sources were unavailable; the mix leans on what could be reached.")
	}
	if result.Shortfall > 0 {
		fmt.Fprintf(&b, " The catalogs came up %d tracks short of the target.", result.Shortfall)
	}
	return b.String()
}
