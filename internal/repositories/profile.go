package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// ProfileRepository persists aggregated taste profiles. Rankings and
// feature statistics are stored as JSON columns; there is one profile row
// per user, replaced wholesale on every analysis pass.
type ProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository creates a new ProfileRepository with the given database connection
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// NextSequence reserves the next profile sequence number.
func (r *ProfileRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "profiles")
}

// GetByUser retrieves a user's profile.
func (r *ProfileRepository) GetByUser(userID string) (*models.MusicProfile, error) {
	query := `
		SELECT id, sequence, user_id, top_artists, top_tracks, top_genres, feature_averages, mood_clusters, last_analyzed, created_at, updated_at
		FROM profiles
		WHERE user_id = ?
	`

	var profile models.MusicProfile
	var id string
	var sequence int
	var topArtists, topTracks, topGenres, featureAverages, moodClusters []byte
	var lastAnalyzed, createdAt, updatedAt time.Time

	err := r.db.QueryRow(query, userID).Scan(&id, &sequence, &profile.UserID,
		&topArtists, &topTracks, &topGenres, &featureAverages, &moodClusters,
		&lastAnalyzed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	for _, unmarshal := range []struct {
		data   []byte
		target any
	}{
		{topArtists, &profile.TopArtists},
		{topTracks, &profile.TopTracks},
		{topGenres, &profile.TopGenres},
		{featureAverages, &profile.FeatureAverages},
		{moodClusters, &profile.MoodClusters},
	} {
		if err := json.Unmarshal(unmarshal.data, unmarshal.target); err != nil {
			return nil, fmt.Errorf("failed to decode profile column: %w", err)
		}
	}

	profile.SetID(id)
	profile.SetSequence(sequence)
	profile.LastAnalyzed = lastAnalyzed
	profile.SetCreatedAt(createdAt)
	profile.SetUpdatedAt(updatedAt)
	return &profile, nil
}

// Upsert replaces the stored profile for the user.
func (r *ProfileRepository) Upsert(profile *models.MusicProfile) error {
	if profile.ID() == "" {
		profile.SetID(shared.GenerateID())
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	columns := make([][]byte, 5)
	for i, value := range []any{profile.TopArtists, profile.TopTracks, profile.TopGenres, profile.FeatureAverages, profile.MoodClusters} {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode profile column: %w", err)
		}
		columns[i] = data
	}

	query := `
		INSERT INTO profiles (id, sequence, user_id, top_artists, top_tracks, top_genres, feature_averages, mood_clusters, last_analyzed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			top_artists = excluded.top_artists,
			top_tracks = excluded.top_tracks,
			top_genres = excluded.top_genres,
			feature_averages = excluded.feature_averages,
			mood_clusters = excluded.mood_clusters,
			last_analyzed = excluded.last_analyzed,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	profile.SetUpdatedAt(now)

	_, err := r.db.Exec(query,
		profile.ID(),
		profile.Sequence(),
		profile.UserID,
		string(columns[0]),
		string(columns[1]),
		string(columns[2]),
		string(columns[3]),
		string(columns[4]),
		profile.LastAnalyzed,
		profile.CreatedAt(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
