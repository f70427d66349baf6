package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Diyago/tg-bot-analyse/internal/cache"
)

// SQLiteStore keeps every captured message in a local SQLite database.
// It implements cache.MessageStore. Timestamps are stored as sortable
// TEXT (see timeLayout); the autoincrement id breaks ties between
// messages captured within the same second.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id    INTEGER NOT NULL,
		user_id    INTEGER NOT NULL,
		username   TEXT NOT NULL,
		text       TEXT NOT NULL,
		timestamp  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_user_time ON messages(user_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) InsertMessage(m cache.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (chat_id, user_id, username, text, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ChatID, m.UserID, m.Username, m.Text, FormatTime(m.Timestamp),
	)
	return err
}

func (s *SQLiteStore) LastMessages(chatID int64, n int) ([]cache.Message, error) {
	if n <= 0 {
		n = -1 // SQLite treats a negative LIMIT as "no limit"
	}

	// Get last N messages, then reverse to chronological order
	rows, err := s.db.Query(
		`SELECT chat_id, user_id, username, text, timestamp
		 FROM messages WHERE chat_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) MessagesSince(chatID int64, since time.Time) ([]cache.Message, error) {
	rows, err := s.db.Query(
		`SELECT chat_id, user_id, username, text, timestamp
		 FROM messages WHERE chat_id = ? AND timestamp >= ?
		 ORDER BY timestamp, id`, chatID, FormatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) ChatMessages(chatID int64) ([]cache.Message, error) {
	rows, err := s.db.Query(
		`SELECT chat_id, user_id, username, text, timestamp
		 FROM messages WHERE chat_id = ?
		 ORDER BY timestamp, id`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) ChatStats(chatID int64) (cache.ChatStats, error) {
	var stats cache.ChatStats
	var oldest, newest sql.NullString
	err := s.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT user_id), MIN(timestamp), MAX(timestamp)
		 FROM messages WHERE chat_id = ?`, chatID,
	).Scan(&stats.TotalMessages, &stats.UniqueUsers, &oldest, &newest)
	if err != nil {
		return cache.ChatStats{}, err
	}
	if oldest.Valid {
		t := ParseTime(oldest.String)
		stats.OldestMessage = &t
	}
	if newest.Valid {
		t := ParseTime(newest.String)
		stats.NewestMessage = &t
	}
	return stats, nil
}

func (s *SQLiteStore) UserMessages(chatID, userID int64, limit int) ([]cache.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT chat_id, user_id, username, text, timestamp
		 FROM messages WHERE chat_id = ? AND user_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) UserMessagesAllChats(userID int64, limit int) ([]cache.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT chat_id, user_id, username, text, timestamp
		 FROM messages WHERE user_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) UserChatStats(userID int64) (cache.UserChatStats, error) {
	var stats cache.UserChatStats
	var oldest, newest sql.NullString
	err := s.db.QueryRow(
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp)
		 FROM messages WHERE user_id = ?`, userID,
	).Scan(&stats.TotalMessages, &oldest, &newest)
	if err != nil {
		return cache.UserChatStats{}, err
	}
	if oldest.Valid {
		t := ParseTime(oldest.String)
		stats.OldestMessage = &t
	}
	if newest.Valid {
		t := ParseTime(newest.String)
		stats.NewestMessage = &t
	}

	rows, err := s.db.Query(
		`SELECT DISTINCT chat_id FROM messages WHERE user_id = ? ORDER BY chat_id`, userID,
	)
	if err != nil {
		return cache.UserChatStats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return cache.UserChatStats{}, err
		}
		stats.ChatIDs = append(stats.ChatIDs, id)
	}
	if err := rows.Err(); err != nil {
		return cache.UserChatStats{}, err
	}
	stats.ChatsCount = len(stats.ChatIDs)
	return stats, nil
}

func (s *SQLiteStore) ChatIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT chat_id FROM messages ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeleteChat(chatID int64) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]cache.Message, error) {
	var msgs []cache.Message
	for rows.Next() {
		var m cache.Message
		var ts string
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Username, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = ParseTime(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverse(msgs []cache.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
