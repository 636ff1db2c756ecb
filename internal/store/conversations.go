package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const conversationColumns = `id, user_id, store_id, customer_email, customer_name, customer_ip,
	status, rating, extra_data, started_at, ended_at`

// CreateConversation opens a new conversation in the active state.
func (s *DB) CreateConversation(ctx context.Context, c *Conversation) error {
	if c == nil {
		return fmt.Errorf("conversation is nil")
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = ConversationActive
	}
	if c.ExtraData == "" {
		c.ExtraData = "{}"
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.StoreID, c.CustomerEmail, c.CustomerName, c.CustomerIP,
		c.Status, nullableInt(c.Rating), c.ExtraData, c.StartedAt.Unix(), nullableTimeUnix(c.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// UpdateConversationStatus sets the status. Resolving a conversation also
// stamps ended_at.
func (s *DB) UpdateConversationStatus(ctx context.Context, id, status string) error {
	var endedAt any
	if status == ConversationResolved {
		endedAt = s.now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
		status, endedAt, id)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RateConversation records the customer's rating.
func (s *DB) RateConversation(ctx context.Context, id string, rating int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return fmt.Errorf("rate conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores one message. IDs are ULIDs so messages sort by
// creation order.
func (s *DB) AppendMessage(ctx context.Context, m *Message) error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, model_used, tokens_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.ModelUsed, m.TokensUsed, m.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent limit messages of a conversation,
// oldest first. A non-positive limit returns the whole history.
func (s *DB) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, model_used, tokens_used, timestamp FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ModelUsed, &m.TokensUsed, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func scanConversation(sc scanner) (*Conversation, error) {
	var c Conversation
	var rating, endedAt sql.NullInt64
	var startedAt int64
	err := sc.Scan(&c.ID, &c.UserID, &c.StoreID, &c.CustomerEmail, &c.CustomerName, &c.CustomerIP,
		&c.Status, &rating, &c.ExtraData, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Rating = intFromNull(rating)
	c.StartedAt = time.Unix(startedAt, 0).UTC()
	c.EndedAt = timeFromNull(endedAt)
	return &c, nil
}
