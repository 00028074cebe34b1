package store

import (
	"fmt"
	"time"

	"github.com/pmelo/unibox/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(conversationID string, m model.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, content, timestamp, is_own, status, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status`,
		conversationID, m.ID, m.Content, m.Timestamp, m.IsOwn, string(m.Status), string(m.Type), now)
	return err
}

// ReplaceMessages swaps the cached transcript for a conversation in one
// transaction. Called after every transcript mutation, so a rollback or
// id remap in memory never leaves a phantom row behind.
func (db *DB) ReplaceMessages(conversationID string, msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, content, timestamp, is_own, status, type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.ID, m.Content, m.Timestamp, m.IsOwn, string(m.Status), string(m.Type), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns the cached transcript for a conversation in
// chronological order.
func (db *DB) ListMessages(conversationID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, content, timestamp, is_own, status, type
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var status, typ string
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &m.IsOwn, &status, &typ); err != nil {
			return nil, err
		}
		m.Status = model.MessageStatus(status)
		m.Type = model.MessageType(typ)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
