package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/crossfade-fm/crossfade/internal/gateway"
	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/profile"
	"github.com/crossfade-fm/crossfade/internal/session"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

const stateCookie = "oauth_state"

// Handlers contains the HTTP handlers for the API surface.
type Handlers struct {
	ledger   *session.Ledger
	analyzer *profile.Analyzer
	gw       *gateway.Gateway
	logger   *log.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(ledger *session.Ledger, analyzer *profile.Analyzer, gw *gateway.Gateway, logger *log.Logger) *Handlers {
	return &Handlers{
		ledger:   ledger,
		analyzer: analyzer,
		gw:       gw,
		logger:   logger,
	}
}

// Health reports liveness (GET /health).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login starts the OAuth flow for a provider (GET /auth/{provider}/login).
//
// The user ID rides inside the state parameter so the callback can link
// the connection without a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.fail(w, fmt.Errorf("%w: userId query parameter", shared.ErrMissingArgument))
		return
	}

	client, err := h.gw.Provider(provider)
	if err != nil {
		h.fail(w, err)
		return
	}

	nonce, err := generateNonce()
	if err != nil {
		h.fail(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    nonce,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	state := nonce + ":" + userID
	http.Redirect(w, r, client.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /auth/{provider}/callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.fail(w, fmt.Errorf("%w: provider declined authorization: %s", shared.ErrNotAuthenticated, errMsg))
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		h.fail(w, fmt.Errorf("%w: missing state cookie", shared.ErrInvalidInput))
		return
	}

	nonce, userID, ok := strings.Cut(r.URL.Query().Get("state"), ":")
	if !ok || nonce != cookie.Value || userID == "" {
		h.fail(w, fmt.Errorf("%w: state mismatch", shared.ErrInvalidInput))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.fail(w, fmt.Errorf("%w: code query parameter", shared.ErrMissingArgument))
		return
	}

	conn, err := h.gw.Link(r.Context(), userID, provider, code)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.respond(w, http.StatusOK, connectionPayload(conn))
}

// RefreshConnection forces a token refresh
// (POST /connections/{provider}/refresh).
func (h *Handlers) RefreshConnection(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.UserID == "" {
		h.fail(w, fmt.Errorf("%w: userId", shared.ErrMissingArgument))
		return
	}

	conn, err := h.gw.ForceRefresh(r.Context(), req.UserID, provider)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.respond(w, http.StatusOK, connectionPayload(conn))
}

// GetProfile returns the stored taste profile (GET /profile/{userId}).
// Rebuilding happens only through RefreshProfile.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.analyzer.Cached(chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, profilePayload(prof))
}

// RefreshProfile rebuilds the taste profile from live provider data
// (POST /profile/{userId}/refresh).
func (h *Handlers) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.analyzer.BuildProfile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, profilePayload(prof))
}

// Synthesize runs one prompt-to-playlist turn (POST /synthesize).
func (h *Handlers) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"userId"`
		Prompt         string `json:"prompt"`
		ConversationID string `json:"conversationId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.UserID == "" {
		h.fail(w, fmt.Errorf("%w: userId", shared.ErrMissingArgument))
		return
	}

	outcome, err := h.ledger.Synthesize(r.Context(), nil, req.UserID, req.ConversationID, req.Prompt)
	if err != nil {
		h.fail(w, err)
		return
	}

	failed := make([]string, 0, len(outcome.FailedSources))
	for _, p := range outcome.FailedSources {
		failed = append(failed, string(p))
	}

	h.respond(w, http.StatusOK, map[string]any{
		"conversationId": outcome.Conversation.ID(),
		"reply":          outcome.Reply.Content,
		"explanation":    outcome.Explanation,
		"defaulted":      outcome.Defaulted,
		"degraded":       outcome.Playlist.Degraded,
		"failedSources":  failed,
		"playlist":       playlistPayload(outcome.Playlist),
	})
}

// GetPlaylist returns a synthesized playlist (GET /playlists/{id}).
func (h *Handlers) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	playlist, err := h.ledger.Playlist(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, playlistPayload(playlist))
}

// ExportPlaylist pushes a playlist to a provider catalog
// (POST /playlists/{id}/export/{provider}).
func (h *Handlers) ExportPlaylist(w http.ResponseWriter, r *http.Request) {
	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	playlistID := chi.URLParam(r, "id")
	externalID, err := h.ledger.ExportPlaylist(r.Context(), playlistID, provider)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.respond(w, http.StatusOK, map[string]string{
		"playlistId": playlistID,
		"provider":   string(provider),
		"externalId": externalID,
	})
}

func (h *Handlers) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// fail maps a domain error to an HTTP status and writes a JSON error body.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "status", status)
	} else {
		h.logger.Debug("request rejected", "error", err, "status", status)
	}
	h.respond(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrProviderUnknown):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotAuthenticated),
		errors.Is(err, shared.ErrConnectionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrPlaylistNotFound),
		errors.Is(err, shared.ErrConversationNotFound),
		errors.Is(err, shared.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrReauthRequired):
		return http.StatusConflict
	case errors.Is(err, shared.ErrSynthesisExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", shared.ErrInvalidInput)
	}
	return nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func connectionPayload(conn *models.Connection) map[string]any {
	return map[string]any{
		"provider":       string(conn.Provider),
		"status":         string(conn.Status),
		"providerUserId": conn.ProviderUserID,
		"expiresAt":      conn.ExpiresAt.Format(time.RFC3339),
	}
}

func profilePayload(prof *models.MusicProfile) map[string]any {
	return map[string]any{
		"userId":          prof.UserID,
		"topArtists":      prof.TopArtists,
		"topTracks":       prof.TopTracks,
		"topGenres":       prof.TopGenres,
		"featureAverages": prof.FeatureAverages,
		"moodClusters":    prof.MoodClusters,
		"lastAnalyzed":    prof.LastAnalyzed.Format(time.RFC3339),
	}
}

func playlistPayload(playlist *models.Playlist) map[string]any {
	exported := make([]string, 0, len(playlist.ExportedTo))
	for _, p := range playlist.ExportedTo {
		exported = append(exported, string(p))
	}
	return map[string]any{
		"id":                   playlist.ID(),
		"name":                 playlist.Name,
		"description":          playlist.Description,
		"prompt":               playlist.Prompt,
		"userId":               playlist.UserID,
		"tracks":               playlist.Tracks,
		"trackCount":           len(playlist.Tracks),
		"totalDurationSeconds": playlist.TotalDurationSeconds,
		"degraded":             playlist.Degraded,
		"shortfall":            playlist.Shortfall,
		"exportedTo":           exported,
		"createdAt":            playlist.CreatedAt().Format(time.RFC3339),
	}
}
