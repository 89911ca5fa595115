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

// ListMessages returns the history of conversation id, oldest first.
func (s *Store) ListMessages(ctx context.Context, id string) ([]chat.Message, error) {
	id = strings.TrimSpace(id)
	if _, err := participants(ctx, s.db, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_uid, recipient_uid, text, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SendMessage appends text from sender to conversation id. The recipient's
// unread counter grows by one and the conversation becomes visible to both
// participants again.
func (s *Store) SendMessage(ctx context.Context, id, sender, text string) (chat.Message, error) {
	id = strings.TrimSpace(id)
	sender = strings.TrimSpace(sender)

	var msg chat.Message
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		members, err := participants(ctx, tx, id)
		if err != nil {
			return err
		}
		recipient := ""
		switch sender {
		case members[0]:
			recipient = members[1]
		case members[1]:
			recipient = members[0]
		default:
			return ErrNotParticipant
		}

		msg = chat.Message{
			ID:             uuid.New().String(),
			ConversationID: id,
			SenderUID:      sender,
			RecipientUID:   recipient,
			Text:           text,
			CreatedAt:      s.now(),
		}
		createdAt := formatTime(msg.CreatedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_uid, recipient_uid, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, id, sender, recipient, text, createdAt); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_text = ?, last_message_at = ? WHERE id = ?`,
			text, createdAt, id); err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE participants SET unread = unread + 1 WHERE conversation_id = ? AND uid = ?`,
			id, recipient); err != nil {
			return fmt.Errorf("failed to update unread: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE participants SET hidden = 0 WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("failed to restore conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	msg.CreatedAt = parseTime(formatTime(msg.CreatedAt))
	return msg, nil
}

// EditMessage replaces the text of messageID. Only the sender may edit.
func (s *Store) EditMessage(ctx context.Context, messageID, uid, text string) (chat.Message, error) {
	messageID = strings.TrimSpace(messageID)
	uid = strings.TrimSpace(uid)

	var msg chat.Message
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = loadOwnedMessage(ctx, tx, messageID, uid)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET text = ? WHERE id = ?`, text, messageID); err != nil {
			return fmt.Errorf("failed to edit message: %w", err)
		}
		msg.Text = text
		return refreshLastMessage(ctx, tx, msg.ConversationID)
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// DeleteMessage removes messageID and returns it. Only the sender may
// delete. The conversation preview falls back to the previous message.
func (s *Store) DeleteMessage(ctx context.Context, messageID, uid string) (chat.Message, error) {
	messageID = strings.TrimSpace(messageID)
	uid = strings.TrimSpace(uid)

	var msg chat.Message
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = loadOwnedMessage(ctx, tx, messageID, uid)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return refreshLastMessage(ctx, tx, msg.ConversationID)
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func loadOwnedMessage(ctx context.Context, q queryer, messageID, uid string) (chat.Message, error) {
	if messageID == "" || uid == "" {
		return chat.Message{}, fmt.Errorf("%w: message id and user uid are required", ErrInvalid)
	}
	row := q.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_uid, recipient_uid, text, created_at
		FROM messages WHERE id = ?
	`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	if msg.SenderUID != uid {
		return chat.Message{}, ErrNotOwner
	}
	return msg, nil
}

// refreshLastMessage points the conversation preview at its newest message.
func refreshLastMessage(ctx context.Context, q queryer, id string) error {
	var (
		text      string
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT text, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, id).Scan(&text, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx,
			`UPDATE conversations SET last_message_text = NULL, last_message_at = NULL WHERE id = ?`, id)
	case err == nil:
		_, err = q.ExecContext(ctx,
			`UPDATE conversations SET last_message_text = ?, last_message_at = ? WHERE id = ?`,
			text, createdAt, id)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh conversation preview: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var (
		msg       chat.Message
		createdAt string
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderUID, &msg.RecipientUID, &msg.Text, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, err
		}
		return chat.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.CreatedAt = parseTime(createdAt)
	return msg, nil
}
