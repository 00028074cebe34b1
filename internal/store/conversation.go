package store

import (
	"fmt"
	"time"

	"github.com/pmelo/unibox/internal/model"
)

// ReplaceConversations swaps the cached conversation list for the given
// snapshot in a single transaction. The list synchronizer replaces its
// in-memory list atomically; the cache mirrors that.
func (db *DB) ReplaceConversations(convs []model.ConversationSummary) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, display_name, contact_handle, avatar_url, last_message_preview,
				last_message_at, unread_count, source, needs_attention, is_online, chatbot_enabled, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DisplayName, c.ContactHandle, c.AvatarURL, c.LastMessagePreview,
			c.LastMessageAt, c.UnreadCount, string(c.Source), c.NeedsAttention, c.IsOnline, c.ChatbotEnabled, now); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListConversations returns the cached list sorted by last message
// timestamp descending, conversations with no message last.
func (db *DB) ListConversations() ([]model.ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT id, display_name, contact_handle, avatar_url, last_message_preview,
			last_message_at, unread_count, source, needs_attention, is_online, chatbot_enabled
		FROM conversations
		ORDER BY CASE WHEN last_message_at = 0 THEN 1 ELSE 0 END, last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.ConversationSummary
	for rows.Next() {
		var c model.ConversationSummary
		var source string
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.ContactHandle, &c.AvatarURL, &c.LastMessagePreview,
			&c.LastMessageAt, &c.UnreadCount, &source, &c.NeedsAttention, &c.IsOnline, &c.ChatbotEnabled); err != nil {
			return nil, err
		}
		c.Source = model.Source(source)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
