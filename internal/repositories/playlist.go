package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// PlaylistRepository persists synthesized playlists.
//
// A playlist is stored as a header row plus a playlist_tracks row per
// position; the track rows are denormalized copies so a playlist replays
// exactly as synthesized even after catalogs drift. Export records live
// in playlist_exports keyed by (playlist, provider).
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// NextSequence reserves the next playlist sequence number.
func (r *PlaylistRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "playlists")
}

// Create inserts a playlist header and its track sequence in one
// transaction.
func (r *PlaylistRepository) Create(playlist *models.Playlist) error {
	if playlist.ID() == "" {
		playlist.SetID(shared.GenerateID())
	}
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO playlists (id, sequence, user_id, message_id, name, description, prompt, total_duration_seconds, degraded, shortfall, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(query,
		playlist.ID(),
		playlist.Sequence(),
		playlist.UserID,
		playlist.MessageID,
		playlist.Name,
		playlist.Description,
		playlist.Prompt,
		playlist.TotalDurationSeconds,
		boolToInt(playlist.Degraded),
		playlist.Shortfall,
		playlist.CreatedAt(),
		playlist.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	if err := insertTracks(tx, playlist.ID(), playlist.Tracks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playlist: %w", err)
	}
	return nil
}

// Get retrieves a playlist with its full track sequence and export set.
func (r *PlaylistRepository) Get(id string) (*models.Playlist, error) {
	query := `
		SELECT id, sequence, user_id, message_id, name, description, prompt, total_duration_seconds, degraded, shortfall, created_at, updated_at
		FROM playlists
		WHERE id = ?
	`

	var playlist models.Playlist
	var playlistID string
	var sequence, degraded int
	var messageID sql.NullString
	var createdAt, updatedAt time.Time

	err := r.db.QueryRow(query, id).Scan(&playlistID, &sequence, &playlist.UserID, &messageID,
		&playlist.Name, &playlist.Description, &playlist.Prompt, &playlist.TotalDurationSeconds,
		&degraded, &playlist.Shortfall, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist: %w", err)
	}

	playlist.SetID(playlistID)
	playlist.SetSequence(sequence)
	playlist.MessageID = messageID.String
	playlist.Degraded = degraded != 0
	playlist.SetCreatedAt(createdAt)
	playlist.SetUpdatedAt(updatedAt)

	tracks, err := r.tracksFor(playlistID)
	if err != nil {
		return nil, err
	}
	playlist.Tracks = tracks

	exports, err := r.exportsFor(playlistID)
	if err != nil {
		return nil, err
	}
	playlist.ExportedTo = exports

	return &playlist, nil
}

// ListByUser lists a user's playlist headers, newest first, without track
// sequences.
func (r *PlaylistRepository) ListByUser(userID string) ([]*models.Playlist, error) {
	query := `
		SELECT id, sequence, user_id, message_id, name, description, prompt, total_duration_seconds, degraded, shortfall, created_at, updated_at
		FROM playlists
		WHERE user_id = ?
		ORDER BY sequence DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		var playlist models.Playlist
		var id string
		var sequence, degraded int
		var messageID sql.NullString
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &sequence, &playlist.UserID, &messageID, &playlist.Name,
			&playlist.Description, &playlist.Prompt, &playlist.TotalDurationSeconds,
			&degraded, &playlist.Shortfall, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		playlist.SetID(id)
		playlist.SetSequence(sequence)
		playlist.MessageID = messageID.String
		playlist.Degraded = degraded != 0
		playlist.SetCreatedAt(createdAt)
		playlist.SetUpdatedAt(updatedAt)
		playlists = append(playlists, &playlist)
	}
	return playlists, rows.Err()
}

// Update rewrites a playlist header and replaces its track sequence.
func (r *PlaylistRepository) Update(playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	playlist.SetUpdatedAt(now)

	query := `
		UPDATE playlists
		SET name = ?, description = ?, total_duration_seconds = ?, degraded = ?, shortfall = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := tx.Exec(query,
		playlist.Name,
		playlist.Description,
		playlist.TotalDurationSeconds,
		boolToInt(playlist.Degraded),
		playlist.Shortfall,
		now,
		playlist.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlist.ID())
	}

	if _, err := tx.Exec(`DELETE FROM playlist_tracks WHERE playlist_id = ?`, playlist.ID()); err != nil {
		return fmt.Errorf("failed to clear playlist tracks: %w", err)
	}
	if err := insertTracks(tx, playlist.ID(), playlist.Tracks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playlist update: %w", err)
	}
	return nil
}

// RecordExport stores the provider-side playlist ID for an export.
// Recording the same export twice is a no-op.
func (r *PlaylistRepository) RecordExport(playlistID string, provider models.Provider, externalID string) error {
	query := `
		INSERT INTO playlist_exports (playlist_id, provider, external_id, exported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (playlist_id, provider) DO NOTHING
	`
	if _, err := r.db.Exec(query, playlistID, string(provider), externalID, time.Now()); err != nil {
		return fmt.Errorf("failed to record export: %w", err)
	}
	return nil
}

// GetExport returns the provider-side playlist ID for a prior export.
func (r *PlaylistRepository) GetExport(playlistID string, provider models.Provider) (string, error) {
	var externalID string
	err := r.db.QueryRow(`SELECT external_id FROM playlist_exports WHERE playlist_id = ? AND provider = ?`,
		playlistID, string(provider)).Scan(&externalID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s not exported to %s", shared.ErrPlaylistNotFound, playlistID, provider)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query export: %w", err)
	}
	return externalID, nil
}

func (r *PlaylistRepository) tracksFor(playlistID string) ([]models.Track, error) {
	query := `
		SELECT track_id, name, artist, album, duration_ms, preview_url, image_url, external_urls, source, uri, features
		FROM playlist_tracks
		WHERE playlist_id = ?
		ORDER BY position
	`

	rows, err := r.db.Query(query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var track models.Track
		var source string
		var externalURLs []byte
		var features sql.NullString
		if err := rows.Scan(&track.ID, &track.Name, &track.Artist, &track.Album, &track.DurationMS,
			&track.PreviewURL, &track.ImageURL, &externalURLs, &source, &track.URI, &features); err != nil {
			return nil, err
		}
		track.Source = models.Provider(source)
		if err := json.Unmarshal(externalURLs, &track.ExternalURLs); err != nil {
			return nil, fmt.Errorf("failed to decode external urls: %w", err)
		}
		if features.Valid && features.String != "" {
			var f models.AudioFeatures
			if err := json.Unmarshal([]byte(features.String), &f); err != nil {
				return nil, fmt.Errorf("failed to decode features: %w", err)
			}
			track.Features = &f
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

func (r *PlaylistRepository) exportsFor(playlistID string) ([]models.Provider, error) {
	rows, err := r.db.Query(`SELECT provider FROM playlist_exports WHERE playlist_id = ? ORDER BY provider`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, err
		}
		providers = append(providers, models.Provider(provider))
	}
	return providers, rows.Err()
}

func insertTracks(tx *sql.Tx, playlistID string, tracks []models.Track) error {
	query := `
		INSERT INTO playlist_tracks (playlist_id, position, track_id, name, artist, album, duration_ms, preview_url, image_url, external_urls, source, uri, features)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for position, track := range tracks {
		urls := track.ExternalURLs
		if urls == nil {
			urls = map[models.Provider]string{}
		}
		urlsJSON, err := json.Marshal(urls)
		if err != nil {
			return fmt.Errorf("failed to encode external urls: %w", err)
		}

		var featuresJSON any
		if track.Features != nil {
			data, err := json.Marshal(track.Features)
			if err != nil {
				return fmt.Errorf("failed to encode features: %w", err)
			}
			featuresJSON = string(data)
		}

		_, err = tx.Exec(query, playlistID, position, track.ID, track.Name, track.Artist, track.Album,
			track.DurationMS, track.PreviewURL, track.ImageURL, string(urlsJSON), string(track.Source),
			track.URI, featuresJSON)
		if err != nil {
			return fmt.Errorf("failed to insert playlist track: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
