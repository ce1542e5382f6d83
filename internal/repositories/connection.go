package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// ConnectionRepository persists provider connections. It is the concrete
// gateway.ConnectionStore: one row per (user, provider) pair with the
// current token material.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new ConnectionRepository with the given database connection
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetByUserProvider retrieves the connection for a (user, provider) pair.
func (r *ConnectionRepository) GetByUserProvider(userID string, provider models.Provider) (*models.Connection, error) {
	query := `
		SELECT id, sequence, user_id, provider, access_token, refresh_token, expires_at, provider_user_id, status, created_at, updated_at
		FROM connections
		WHERE user_id = ? AND provider = ?
	`

	return r.scanOne(r.db.QueryRow(query, userID, string(provider)))
}

// ListActive lists a user's connections that still hold usable grants.
func (r *ConnectionRepository) ListActive(userID string) ([]*models.Connection, error) {
	query := `
		SELECT id, sequence, user_id, provider, access_token, refresh_token, expires_at, provider_user_id, status, created_at, updated_at
		FROM connections
		WHERE user_id = ? AND status = ?
		ORDER BY provider
	`

	rows, err := r.db.Query(query, userID, string(models.ConnectionActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Upsert inserts a connection, replacing any existing link for the same
// (user, provider) pair. A relink after reauthorization lands here.
func (r *ConnectionRepository) Upsert(conn *models.Connection) error {
	if conn.ID() == "" {
		conn.SetID(shared.GenerateID())
	}
	if conn.Sequence() == 0 {
		sequence, err := NextSequence(r.db, "connections")
		if err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}
		conn.SetSequence(sequence)
	}

	if err := conn.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO connections (id, sequence, user_id, provider, access_token, refresh_token, expires_at, provider_user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			provider_user_id = excluded.provider_user_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	conn.SetUpdatedAt(now)

	_, err := r.db.Exec(query,
		conn.ID(),
		conn.Sequence(),
		conn.UserID,
		string(conn.Provider),
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.ProviderUserID,
		string(conn.Status),
		conn.CreatedAt(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// Update rewrites the token material and status for an existing connection.
func (r *ConnectionRepository) Update(conn *models.Connection) error {
	now := time.Now()
	conn.SetUpdatedAt(now)

	query := `
		UPDATE connections
		SET access_token = ?, refresh_token = ?, expires_at = ?, provider_user_id = ?, status = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?
	`

	result, err := r.db.Exec(query,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.ProviderUserID,
		string(conn.Status),
		now,
		conn.UserID,
		string(conn.Provider),
	)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrConnectionNotFound, conn.UserID, conn.Provider)
	}
	return nil
}

// Delete removes a connection outright. Revoking a link is a hard delete;
// token material should not linger.
func (r *ConnectionRepository) Delete(userID string, provider models.Provider) error {
	result, err := r.db.Exec(`DELETE FROM connections WHERE user_id = ? AND provider = ?`, userID, string(provider))
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", shared.ErrConnectionNotFound, userID, provider)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConnectionRepository) scanOne(row *sql.Row) (*models.Connection, error) {
	conn, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, shared.ErrConnectionNotFound
	}
	return conn, err
}

func (r *ConnectionRepository) scanRow(row rowScanner) (*models.Connection, error) {
	var conn models.Connection
	var id, provider, status string
	var sequence int
	var expiresAt, createdAt, updatedAt time.Time

	err := row.Scan(&id, &sequence, &conn.UserID, &provider, &conn.AccessToken, &conn.RefreshToken,
		&expiresAt, &conn.ProviderUserID, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	conn.SetID(id)
	conn.SetSequence(sequence)
	conn.Provider = models.Provider(provider)
	conn.Status = models.ConnectionStatus(status)
	conn.ExpiresAt = expiresAt
	conn.SetCreatedAt(createdAt)
	conn.SetUpdatedAt(updatedAt)
	return &conn, nil
}
