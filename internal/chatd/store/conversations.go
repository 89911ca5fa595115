package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tOgg1/atelier/internal/chat"
)

type queryer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// UpsertUser stores the profile shown to the other participant.
func (s *Store) UpsertUser(ctx context.Context, user chat.Counterpart) error {
	uid := strings.TrimSpace(user.UID)
	if uid == "" {
		return fmt.Errorf("%w: user uid is required", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, username, name, avatar_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			avatar_url = excluded.avatar_url
	`, uid, user.Username, user.Name, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ListConversations returns the conversations visible to viewer, most
// recent activity first.
func (s *Store) ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error) {
	viewer = strings.TrimSpace(viewer)
	if viewer == "" {
		return nil, fmt.Errorf("%w: user uid is required", ErrInvalid)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.uid = ? AND p.hidden = 0
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
	`, viewer)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]chat.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := loadConversation(ctx, s.db, id, viewer)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// Conversation returns the summary of id as seen by viewer.
func (s *Store) Conversation(ctx context.Context, id, viewer string) (chat.Conversation, error) {
	return loadConversation(ctx, s.db, strings.TrimSpace(id), strings.TrimSpace(viewer))
}

// Participants returns the two uids of conversation id.
func (s *Store) Participants(ctx context.Context, id string) ([]string, error) {
	return participants(ctx, s.db, strings.TrimSpace(id))
}

// StartConversation returns the conversation between viewer and other,
// creating it when needed. A conversation the viewer had hidden becomes
// visible again. created reports whether a new conversation was made.
func (s *Store) StartConversation(ctx context.Context, viewer, other string) (conv chat.Conversation, created bool, err error) {
	viewer = strings.TrimSpace(viewer)
	other = strings.TrimSpace(other)
	if viewer == "" || other == "" {
		return chat.Conversation{}, false, fmt.Errorf("%w: both participants are required", ErrInvalid)
	}
	if viewer == other {
		return chat.Conversation{}, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalid)
	}
	userA, userB := viewer, other
	if userB < userA {
		userA, userB = userB, userA
	}

	var id string
	err = s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, uid := range []string{viewer, other} {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (uid) VALUES (?)`, uid); err != nil {
				return fmt.Errorf("failed to register user: %w", err)
			}
		}

		err := tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE user_a = ? AND user_b = ?`, userA, userB).Scan(&id)
		switch {
		case err == nil:
			created = false
			_, err = tx.ExecContext(ctx,
				`UPDATE participants SET hidden = 0 WHERE conversation_id = ? AND uid = ?`, id, viewer)
			if err != nil {
				return fmt.Errorf("failed to restore conversation: %w", err)
			}
			return nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("failed to look up conversation: %w", err)
		}

		created = true
		id = uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?)
		`, id, userA, userB, formatTime(s.now())); err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		for _, uid := range []string{userA, userB} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participants (conversation_id, uid) VALUES (?, ?)`, id, uid); err != nil {
				return fmt.Errorf("failed to add participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return chat.Conversation{}, false, err
	}

	conv, err = loadConversation(ctx, s.db, id, viewer)
	return conv, created, err
}

// DeleteConversation hides id for viewer only. The other participant keeps
// the conversation, and a new message makes it visible again.
func (s *Store) DeleteConversation(ctx context.Context, id, viewer string) error {
	id = strings.TrimSpace(id)
	viewer = strings.TrimSpace(viewer)
	if id == "" || viewer == "" {
		return fmt.Errorf("%w: conversation id and user uid are required", ErrInvalid)
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := requireParticipant(ctx, tx, id, viewer); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE participants SET hidden = 1, unread = 0 WHERE conversation_id = ? AND uid = ?`, id, viewer)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// MarkRead zeroes viewer's unread counter for id.
func (s *Store) MarkRead(ctx context.Context, id, viewer string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET unread = 0 WHERE conversation_id = ? AND uid = ?`,
		strings.TrimSpace(id), strings.TrimSpace(viewer))
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotParticipant
	}
	return nil
}

func loadConversation(ctx context.Context, q queryer, id, viewer string) (chat.Conversation, error) {
	var (
		userA, userB string
		lastText     sql.NullString
		lastAt       sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_a, user_b, last_message_text, last_message_at
		FROM conversations WHERE id = ?
	`, id).Scan(&userA, &userB, &lastText, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}

	conv := chat.Conversation{
		ID:              id,
		LastMessageText: lastText.String,
		LastMessageAt:   parseNullableTime(lastAt),
		UnreadByUser:    make(map[string]int, 2),
	}

	rows, err := q.QueryContext(ctx,
		`SELECT uid, unread FROM participants WHERE conversation_id = ?`, id)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to load participants: %w", err)
	}
	for rows.Next() {
		var (
			uid    string
			unread int
		)
		if err := rows.Scan(&uid, &unread); err != nil {
			rows.Close()
			return chat.Conversation{}, fmt.Errorf("failed to scan participant: %w", err)
		}
		conv.UnreadByUser[uid] = unread
	}
	rows.Close()

	other := userA
	if other == viewer {
		other = userB
	}
	conv.Counterpart = chat.Counterpart{UID: other}
	var username, name, avatar string
	err = q.QueryRowContext(ctx,
		`SELECT username, name, avatar_url FROM users WHERE uid = ?`, other).Scan(&username, &name, &avatar)
	switch {
	case err == nil:
		conv.Counterpart.Username = username
		conv.Counterpart.Name = name
		conv.Counterpart.AvatarURL = avatar
	case errors.Is(err, sql.ErrNoRows):
	default:
		return chat.Conversation{}, fmt.Errorf("failed to load user: %w", err)
	}
	return conv, nil
}

func participants(ctx context.Context, q queryer, id string) ([]string, error) {
	var userA, userB string
	err := q.QueryRowContext(ctx,
		`SELECT user_a, user_b FROM conversations WHERE id = ?`, id).Scan(&userA, &userB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return []string{userA, userB}, nil
}

func requireParticipant(ctx context.Context, q queryer, id, uid string) error {
	members, err := participants(ctx, q, id)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member == uid {
			return nil
		}
	}
	return ErrNotParticipant
}
