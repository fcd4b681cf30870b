// ABOUTME: Participant and assistant registration operations for SQLiteStore
// ABOUTME: Includes the audience queries used by the event fanout subsystem

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpsertUserParticipant inserts or updates a user's membership in a conversation.
func (s *SQLiteStore) UpsertUserParticipant(ctx context.Context, p *UserParticipant) error {
	query := `
		INSERT INTO user_participants (conversation_id, user_id, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ConversationID.String(),
		p.UserID,
		p.Name,
		boolToInt(p.Active),
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting user participant: %w", err)
	}

	s.logger.Debug("upserted user participant",
		"conversation_id", p.ConversationID, "user_id", p.UserID, "active", p.Active)
	return nil
}

// UpsertAssistantParticipant inserts or updates an assistant's membership in a conversation.
func (s *SQLiteStore) UpsertAssistantParticipant(ctx context.Context, p *AssistantParticipant) error {
	query := `
		INSERT INTO assistant_participants (conversation_id, assistant_id, name, active, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, assistant_id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ConversationID.String(),
		p.AssistantID.String(),
		p.Name,
		boolToInt(p.Active),
		p.Status,
		p.CreatedAt.UTC().Format(time.RFC3339),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting assistant participant: %w", err)
	}

	s.logger.Debug("upserted assistant participant",
		"conversation_id", p.ConversationID, "assistant_id", p.AssistantID, "active", p.Active)
	return nil
}

// ListUserParticipants returns user participants for a conversation.
func (s *SQLiteStore) ListUserParticipants(ctx context.Context, conversationID uuid.UUID, includeInactive bool) ([]*UserParticipant, error) {
	query := `
		SELECT conversation_id, user_id, name, active, created_at, updated_at
		FROM user_participants
		WHERE conversation_id = ?
	`
	if !includeInactive {
		query += " AND active = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("querying user participants: %w", err)
	}
	defer rows.Close()

	var participants []*UserParticipant
	for rows.Next() {
		var p UserParticipant
		var convID, createdAtStr, updatedAtStr string
		var active int

		if err := rows.Scan(&convID, &p.UserID, &p.Name, &active, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning user participant: %w", err)
		}

		p.ConversationID, err = uuid.Parse(convID)
		if err != nil {
			return nil, fmt.Errorf("parsing conversation id: %w", err)
		}
		p.Active = active != 0
		p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

// ListAssistantParticipants returns assistant participants for a conversation.
func (s *SQLiteStore) ListAssistantParticipants(ctx context.Context, conversationID uuid.UUID, includeInactive bool) ([]*AssistantParticipant, error) {
	query := `
		SELECT conversation_id, assistant_id, name, active, status, created_at, updated_at
		FROM assistant_participants
		WHERE conversation_id = ?
	`
	if !includeInactive {
		query += " AND active = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("querying assistant participants: %w", err)
	}
	defer rows.Close()

	var participants []*AssistantParticipant
	for rows.Next() {
		var p AssistantParticipant
		var convID, assistantID, createdAtStr, updatedAtStr string
		var active int
		var status sql.NullString

		if err := rows.Scan(&convID, &assistantID, &p.Name, &active, &status, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning assistant participant: %w", err)
		}

		p.ConversationID, err = uuid.Parse(convID)
		if err != nil {
			return nil, fmt.Errorf("parsing conversation id: %w", err)
		}
		p.AssistantID, err = uuid.Parse(assistantID)
		if err != nil {
			return nil, fmt.Errorf("parsing assistant id: %w", err)
		}
		p.Active = active != 0
		if status.Valid {
			p.Status = &status.String
		}
		p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

// IsUserParticipant reports whether the user is an active participant in the conversation.
func (s *SQLiteStore) IsUserParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_participants WHERE conversation_id = ? AND user_id = ? AND active = 1`,
		conversationID.String(), userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user participant: %w", err)
	}
	return true, nil
}

// IsAssistantParticipant reports whether the assistant is an active participant in the conversation.
func (s *SQLiteStore) IsAssistantParticipant(ctx context.Context, conversationID, assistantID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM assistant_participants WHERE conversation_id = ? AND assistant_id = ? AND active = 1`,
		conversationID.String(), assistantID.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking assistant participant: %w", err)
	}
	return true, nil
}

// UpsertAssistantRegistration inserts or updates an assistant service registration.
func (s *SQLiteStore) UpsertAssistantRegistration(ctx context.Context, reg *AssistantRegistration) error {
	var expiresAt any
	if reg.OnlineExpiresAt != nil {
		expiresAt = reg.OnlineExpiresAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO assistant_registrations (assistant_id, name, service_url, online, online_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (assistant_id) DO UPDATE SET
			name = excluded.name,
			service_url = excluded.service_url,
			online = excluded.online,
			online_expires_at = excluded.online_expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		reg.AssistantID.String(),
		reg.Name,
		reg.ServiceURL,
		boolToInt(reg.Online),
		expiresAt,
		reg.CreatedAt.UTC().Format(time.RFC3339),
		reg.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting assistant registration: %w", err)
	}

	s.logger.Debug("upserted assistant registration",
		"assistant_id", reg.AssistantID, "online", reg.Online)
	return nil
}

// GetAssistantRegistration retrieves a registration by assistant ID.
// Returns ErrNotFound if the assistant has never registered.
func (s *SQLiteStore) GetAssistantRegistration(ctx context.Context, assistantID uuid.UUID) (*AssistantRegistration, error) {
	query := `
		SELECT assistant_id, name, service_url, online, online_expires_at, created_at, updated_at
		FROM assistant_registrations
		WHERE assistant_id = ?
	`

	var reg AssistantRegistration
	var id, createdAtStr, updatedAtStr string
	var online int
	var expiresAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, assistantID.String()).Scan(
		&id, &reg.Name, &reg.ServiceURL, &online, &expiresAt, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assistant registration: %w", err)
	}

	reg.AssistantID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing assistant id: %w", err)
	}
	reg.Online = online != 0
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing online_expires_at: %w", err)
		}
		reg.OnlineExpiresAt = &t
	}
	reg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	reg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &reg, nil
}

// ExpireAssistantRegistrations marks registrations offline once their online
// window has lapsed. Returns the number of registrations flipped offline.
func (s *SQLiteStore) ExpireAssistantRegistrations(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE assistant_registrations
		SET online = 0, updated_at = ?
		WHERE online = 1 AND online_expires_at IS NOT NULL AND online_expires_at < ?
	`, now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("expiring assistant registrations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Info("expired assistant registrations", "count", rows)
	}
	return int(rows), nil
}

// ListOnlineAssistantParticipants returns IDs of assistants that are active in
// the conversation and whose service registration is currently online.
func (s *SQLiteStore) ListOnlineAssistantParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT ap.assistant_id
		FROM assistant_participants ap
		JOIN assistant_registrations ar ON ar.assistant_id = ap.assistant_id
		WHERE ap.conversation_id = ? AND ap.active = 1 AND ar.online = 1
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("querying online assistant participants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning assistant id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing assistant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveUserParticipants filters the candidate user IDs down to those that
// are active participants in the conversation.
func (s *SQLiteStore) ListActiveUserParticipants(ctx context.Context, conversationID uuid.UUID, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(candidates))
	placeholders = placeholders[:len(placeholders)-2]
	query := fmt.Sprintf(`
		SELECT user_id
		FROM user_participants
		WHERE conversation_id = ? AND active = 1 AND user_id IN (%s)
	`, placeholders)

	args := make([]any, 0, len(candidates)+1)
	args = append(args, conversationID.String())
	for _, c := range candidates {
		args = append(args, c)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying active user participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
