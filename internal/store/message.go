package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message delivery statuses. A message is created as StatusSent and moves to
// StatusDelivered once at least one live push to the recipient succeeded.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

// Message is a persisted direct message. Immutable after creation except for
// the Status field.
type Message struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	RecipientID   string    `json:"recipientId"`
	Text          string    `json:"text,omitempty"`
	AttachmentURL string    `json:"attachmentRef,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateMessage inserts a new message record, assigning its ID, status, and
// creation timestamp in place.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, text, attachment_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Text, m.AttachmentURL, m.Status,
		m.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// MessagesBetween returns one page of the conversation between two users.
// The query walks newest-first so paging starts at the most recent exchange,
// but each page is returned oldest-first for display.
func (s *Store) MessagesBetween(ctx context.Context, userID, peerID string, page, limit int) ([]*Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, text, attachment_url, status, created_at
		 FROM messages
		 WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		userID, peerID, peerID, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessageByID returns a single message, or ErrNotFound.
func (s *Store) MessageByID(ctx context.Context, id string) (*Message, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, sender_id, recipient_id, text, attachment_url, status, created_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// MarkDelivered transitions a message's status to delivered.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ?`, StatusDelivered, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var createdAt string
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.AttachmentURL,
		&m.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.CreatedAt, _ = time.ParseInLocation(timeLayout, createdAt, time.UTC)
	return &m, nil
}
