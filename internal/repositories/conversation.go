package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/models"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

// ConversationRepository persists conversation containers for the ledger.
type ConversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new ConversationRepository with the given database connection
func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// NextSequence reserves the next conversation sequence number.
func (r *ConversationRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "conversations")
}

// Get retrieves a conversation by ID.
func (r *ConversationRepository) Get(id string) (*models.Conversation, error) {
	query := `SELECT id, sequence, user_id, created_at, updated_at FROM conversations WHERE id = ?`

	var conv models.Conversation
	var convID string
	var sequence int
	var createdAt, updatedAt time.Time

	err := r.db.QueryRow(query, id).Scan(&convID, &sequence, &conv.UserID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", shared.ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conv.SetID(convID)
	conv.SetSequence(sequence)
	conv.SetCreatedAt(createdAt)
	conv.SetUpdatedAt(updatedAt)
	return &conv, nil
}

// ListByUser lists a user's conversations, newest first.
func (r *ConversationRepository) ListByUser(userID string) ([]*models.Conversation, error) {
	query := `SELECT id, sequence, user_id, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY sequence DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var id string
		var sequence int
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &sequence, &conv.UserID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		conv.SetID(id)
		conv.SetSequence(sequence)
		conv.SetCreatedAt(createdAt)
		conv.SetUpdatedAt(updatedAt)
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// Create inserts a new conversation.
func (r *ConversationRepository) Create(conv *models.Conversation) error {
	if conv.ID() == "" {
		conv.SetID(shared.GenerateID())
	}
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `INSERT INTO conversations (id, sequence, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query, conv.ID(), conv.Sequence(), conv.UserID, conv.CreatedAt(), conv.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// MessageRepository persists ledger turns. Messages are append-only:
// there is deliberately no update or delete.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new MessageRepository with the given database connection
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// NextSequence reserves the next message sequence number.
func (r *MessageRepository) NextSequence() (int, error) {
	return NextSequence(r.db, "messages")
}

// Create appends a turn to its conversation.
func (r *MessageRepository) Create(msg *models.Message) error {
	if msg.ID() == "" {
		msg.SetID(shared.GenerateID())
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO messages (id, sequence, conversation_id, role, content, playlist_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, msg.ID(), msg.Sequence(), msg.ConversationID, string(msg.Role), msg.Content, msg.PlaylistID, msg.CreatedAt(), msg.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListByConversation lists a conversation's turns in ledger order.
func (r *MessageRepository) ListByConversation(conversationID string) ([]*models.Message, error) {
	query := `
		SELECT id, sequence, conversation_id, role, content, playlist_id, created_at, updated_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence
	`

	rows, err := r.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var id, role string
		var sequence int
		var playlistID sql.NullString
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &sequence, &msg.ConversationID, &role, &msg.Content, &playlistID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		msg.SetID(id)
		msg.SetSequence(sequence)
		msg.Role = models.MessageRole(role)
		msg.PlaylistID = playlistID.String
		msg.SetCreatedAt(createdAt)
		msg.SetUpdatedAt(updatedAt)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
