package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetConversation returns a conversation by ID, or ErrNotFound.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, title, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// ListConversations returns conversations ordered by recency (updated_at descending).
func (s *Store) ListConversations(limit, offset int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteConversation removes a conversation; its messages are removed by
// the ON DELETE CASCADE constraint.
func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecentMessages returns up to limit messages of a conversation ordered
// by creation time descending (most recent first).
func (s *Store) GetRecentMessages(conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessages returns all messages of a conversation in chronological order.
func (s *Store) GetMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SaveTurn persists one question/answer turn atomically: the optional new
// conversation, both messages, and the conversation's updated_at refresh.
// Pass a non-nil conv to create the conversation in the same transaction.
func (s *Store) SaveTurn(conv *Conversation, user, assistant Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	conversationID := user.ConversationID
	if conv != nil {
		conversationID = conv.ID
		createdAt := conv.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?)`,
			conv.ID, conv.Title, createdAt.Format(time.RFC3339), createdAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
	}

	for _, m := range []Message{user, assistant} {
		sources := m.Sources
		if sources == nil {
			sources = []SourceReference{}
		}
		sourcesJSON, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshalling sources: %w", err)
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, role, content, sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, conversationID, m.Role, m.Content, string(sourcesJSON), createdAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting %s message: %w", m.Role, err)
		}
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), conversationID); err != nil {
		return fmt.Errorf("refreshing conversation: %w", err)
	}

	return tx.Commit()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var results []Message
	for rows.Next() {
		var m Message
		var sources, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &sources, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return nil, fmt.Errorf("parsing sources for message %s: %w", m.ID, err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}
