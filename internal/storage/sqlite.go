package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

// SQLiteStore keeps messages in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		message TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		picture TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at DESC, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

// Create inserts a message. created_at is stored as unix nanoseconds.
func (s *SQLiteStore) Create(ctx context.Context, msg message.Message) (message.Message, error) {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var picture sql.NullString
	if msg.ImageURL != "" {
		picture = sql.NullString{String: msg.ImageURL, Valid: true}
	}

	query := `INSERT INTO messages (id, message, sender_name, picture, created_at)
	          VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.Text, msg.SenderName, picture, msg.CreatedAt.UnixNano()); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// Latest returns messages ordered by created_at then id, both descending.
func (s *SQLiteStore) Latest(ctx context.Context, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, message, sender_name, picture, created_at
	                        FROM messages ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]message.Message, 0)
	for rows.Next() {
		var (
			msg     message.Message
			picture sql.NullString
			nanos   int64
		)
		if err := rows.Scan(&msg.ID, &msg.Text, &msg.SenderName, &picture, &nanos); err != nil {
			return nil, err
		}
		msg.ImageURL = picture.String
		msg.CreatedAt = time.Unix(0, nanos).UTC()
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Delete removes one message by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return message.ErrNotFound
	}
	return nil
}

// DeleteAll removes every message.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
