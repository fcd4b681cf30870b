// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'chat',
			content_type TEXT NOT NULL DEFAULT 'text/plain',
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS user_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_user_participants_user
			ON user_participants(user_id);

		CREATE TABLE IF NOT EXISTS assistant_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			assistant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			status TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, assistant_id)
		);

		CREATE INDEX IF NOT EXISTS idx_assistant_participants_assistant
			ON assistant_participants(assistant_id);

		CREATE TABLE IF NOT EXISTS assistant_registrations (
			assistant_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			service_url TEXT NOT NULL,
			online INTEGER NOT NULL DEFAULT 0,
			online_expires_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	meta, err := encodeMetadata(conv.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, title, owner_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		conv.ID.String(),
		conv.Title,
		conv.OwnerID,
		meta,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "owner", conv.OwnerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, title, owner_id, metadata, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id.String())
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversation updates the title and metadata of an existing conversation.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	meta, err := encodeMetadata(conv.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE conversations
		SET title = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		conv.Title,
		meta,
		conv.UpdatedAt.UTC().Format(time.RFC3339),
		conv.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationsByUser returns conversations where the user is an active
// participant, most recently updated first.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.title, c.owner_id, c.metadata, c.created_at, c.updated_at
		FROM conversations c
		JOIN user_participants up ON up.conversation_id = c.id
		WHERE up.user_id = ? AND up.active = 1
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// CreateMessage inserts a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, sender_role, type, content_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID.String(),
		msg.ConversationID.String(),
		msg.Sender,
		msg.SenderRole,
		msg.Type,
		msg.ContentType,
		msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// GetMessage retrieves a single message scoped to a conversation.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender, sender_role, type, content_type, content, created_at
		FROM messages
		WHERE conversation_id = ? AND id = ?
	`

	row := s.db.QueryRowContext(ctx, query, conversationID.String(), messageID.String())
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages for a conversation in chronological order.
// A limit of 0 returns all messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender, sender_role, type, content_type, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{conversationID.String()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessage removes a message from a conversation.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID.String(), messageID.String())
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var id, meta, createdAtStr, updatedAtStr string

	if err := row.Scan(&id, &conv.Title, &conv.OwnerID, &meta, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing conversation id: %w", err)
	}
	conv.ID = parsed

	if err := json.Unmarshal([]byte(meta), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var id, convID, createdAtStr string

	if err := row.Scan(&id, &convID, &msg.Sender, &msg.SenderRole, &msg.Type, &msg.ContentType, &msg.Content, &createdAtStr); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing message id: %w", err)
	}
	msg.ID = parsed

	parsed, err = uuid.Parse(convID)
	if err != nil {
		return nil, fmt.Errorf("parsing conversation id: %w", err)
	}
	msg.ConversationID = parsed

	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(raw), nil
}
