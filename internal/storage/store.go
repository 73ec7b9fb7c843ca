// Package storage persists conversations, their messages and the interrupt a
// conversation is suspended on.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"palchat/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureConversation creates the conversation if it does not exist yet and
// returns the stored record.
func (s *Store) EnsureConversation(ctx context.Context, threadID, userID, title string) (*models.Conversation, error) {
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	conv, err := s.GetConversation(ctx, threadID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (thread_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		threadID, userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &models.Conversation{ThreadID: threadID, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetConversation(ctx context.Context, threadID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, user_id, title, created_at, updated_at FROM conversations WHERE thread_id = ?`,
		threadID,
	).Scan(&conv.ThreadID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// TouchConversation marks the conversation as active now.
func (s *Store) TouchConversation(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE thread_id = ?`, time.Now().UTC(), threadID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns a user's conversations ordered by last activity.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ThreadID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AppendMessage stores msg at the end of the thread and touches the
// conversation. A missing id or timestamp is filled in.
func (s *Store) AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var meta sql.NullString
	if msg.Metadata != nil {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return msg, fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, threadID, string(msg.Role), msg.Text, meta, msg.CreatedAt,
	); err != nil {
		return msg, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE thread_id = ?`, msg.CreatedAt, threadID); err != nil {
		return msg, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return msg, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the thread's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, metadata, created_at FROM messages WHERE thread_id = ? ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			m    models.Message
			role string
			meta sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		if meta.Valid && meta.String != "" {
			var md models.ResponseMetadata
			if err := json.Unmarshal([]byte(meta.String), &md); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
			}
			m.Metadata = &md
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SetPendingInterrupt records the interrupt threadID is suspended on,
// replacing any previous one. checkpoint is opaque to the store.
func (s *Store) SetPendingInterrupt(ctx context.Context, threadID string, in models.Interrupt, checkpoint json.RawMessage) error {
	options, err := json.Marshal(in.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	var cp sql.NullString
	if len(checkpoint) > 0 {
		cp = sql.NullString{String: string(checkpoint), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_interrupts WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("replace interrupt: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_interrupts (thread_id, interrupt_type, message, options, checkpoint, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		threadID, in.WireType, in.Message, string(options), cp, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert interrupt: %w", err)
	}
	return tx.Commit()
}

// PendingInterrupt returns the interrupt threadID is suspended on and its
// checkpoint, or ErrNotFound.
func (s *Store) PendingInterrupt(ctx context.Context, threadID string) (*models.Interrupt, json.RawMessage, error) {
	var (
		wireType, message string
		options, cp       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT interrupt_type, message, options, checkpoint FROM pending_interrupts WHERE thread_id = ?`,
		threadID,
	).Scan(&wireType, &message, &options, &cp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get interrupt: %w", err)
	}

	in := &models.Interrupt{Kind: models.KindFromWire(wireType), WireType: wireType, Message: message}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &in.Options); err != nil {
			return nil, nil, fmt.Errorf("decode options: %w", err)
		}
	}
	var checkpoint json.RawMessage
	if cp.Valid {
		checkpoint = json.RawMessage(cp.String)
	}
	return in, checkpoint, nil
}

func (s *Store) ClearPendingInterrupt(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_interrupts WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("clear interrupt: %w", err)
	}
	return nil
}
