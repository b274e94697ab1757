package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one row of the rolling conversational log.
type ChatMessage struct {
	ID        int64
	Role      string // "user" or "model"
	Content   string
	CreatedAt int64 // unix seconds
}

// maxChatRows is the cap on the chat log enforced after every insert.
const maxChatRows = 200

// maxChatContentBytes truncates any single message content to 64 KiB.
const maxChatContentBytes = 64 * 1024

// AppendChat inserts a chat message and prunes the log back down to
// maxChatRows, oldest first. The insert and prune happen in one
// transaction so the log never transiently exceeds the cap.
func (s *Store) AppendChat(role, content string) (ChatMessage, error) {
	if len(content) > maxChatContentBytes {
		content = content[:maxChatContentBytes]
	}
	now := time.Now().Unix()

	var msg ChatMessage
	err := s.withLock(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin append chat: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`INSERT INTO ai_chats (role, content, created_at) VALUES (?, ?, ?)`, role, content, now)
		if err != nil {
			return fmt.Errorf("store: insert chat: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: chat insert id: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM ai_chats WHERE id NOT IN (
			SELECT id FROM ai_chats ORDER BY id DESC LIMIT ?)`, maxChatRows); err != nil {
			return fmt.Errorf("store: prune chat log: %w", err)
		}

		msg = ChatMessage{ID: id, Role: role, Content: content, CreatedAt: now}
		return tx.Commit()
	})
	return msg, err
}

// ChatHistory returns the chat log ordered oldest-first (insert order),
// so callers observe causal order by re-reading after every append.
func (s *Store) ChatHistory() ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.withLock(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT id, role, content, created_at FROM ai_chats ORDER BY id ASC`)
		if err != nil {
			return fmt.Errorf("store: list chat history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var m ChatMessage
			if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
				return fmt.Errorf("store: scan chat row: %w", err)
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	return messages, err
}
