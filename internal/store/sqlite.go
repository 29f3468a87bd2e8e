package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// TimestampLayout is how exchange timestamps are stored, always in UTC.
const TimestampLayout = "2006-01-02T15:04:05.999999"

var ErrUserExists = errors.New("user already exists")

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        email TEXT,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chat_exchanges (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        session_id TEXT NOT NULL,
        user_message TEXT NOT NULL,
        bot_response TEXT NOT NULL,
        timestamp TEXT NOT NULL, -- UTC, TimestampLayout
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chat_exchanges_user ON chat_exchanges (user_id, timestamp);

    CREATE TABLE IF NOT EXISTS tip_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        content TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );

    CREATE TABLE IF NOT EXISTS kv_entries (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByUsername(username string) (*User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRow("SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Email = email.String
	return &user, nil
}

func (s *SQLiteStore) CreateUser(username, email, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)", username, email, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetUserByID(id)
}

func (s *SQLiteStore) GetUserByID(id int64) (*User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRow("SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	user.Email = email.String
	return &user, nil
}

// Exchange methods
func (s *SQLiteStore) CreateExchange(ctx context.Context, ex *Exchange) error {
	ex.ID = uuid.NewString()
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	ex.Timestamp = ex.Timestamp.UTC()

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO chat_exchanges (id, user_id, session_id, user_message, bot_response, timestamp) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare exchange insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, ex.ID, ex.UserID, ex.SessionID, ex.UserMessage, ex.BotResponse, ex.Timestamp.Format(TimestampLayout))
	if err != nil {
		return fmt.Errorf("failed to execute exchange insert: %w", err)
	}
	return nil
}

// ListExchanges returns the user's exchanges oldest first. A limit of zero
// or less returns all of them.
func (s *SQLiteStore) ListExchanges(ctx context.Context, userID int64, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
        SELECT id, user_id, session_id, user_message, bot_response, timestamp
        FROM (
            SELECT * FROM chat_exchanges
            WHERE user_id = ?
            ORDER BY timestamp DESC
            LIMIT ?
        )
        ORDER BY timestamp ASC
    `
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var ex Exchange
		var ts string
		if err := rows.Scan(&ex.ID, &ex.UserID, &ex.SessionID, &ex.UserMessage, &ex.BotResponse, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan exchange row: %w", err)
		}
		if ex.Timestamp, err = time.Parse(TimestampLayout, ts); err != nil {
			s.logger.Warn("unparsable exchange timestamp", zap.String("exchange_id", ex.ID), zap.String("timestamp", ts))
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func (s *SQLiteStore) DeleteExchanges(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chat_exchanges WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete exchanges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TipChunk methods (for retrieval)
func (s *SQLiteStore) createTipChunk(chunk *TipChunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	chunk.EmbeddingJSON = string(embeddingBytes)

	stmt, err := s.db.Prepare("INSERT INTO tip_chunks (content, embedding_json) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare tip_chunk insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(chunk.Content, chunk.EmbeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to execute tip_chunk insert: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAllTipChunks() ([]TipChunk, error) {
	rows, err := s.db.Query("SELECT id, content, embedding_json FROM tip_chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query tip_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []TipChunk
	for rows.Next() {
		var chunk TipChunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tip_chunk row: %w", err)
		}
		if embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				s.logger.Warn("failed to unmarshal tip embedding", zap.Int64("chunk_id", chunk.ID), zap.Error(err))
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ClearTipChunks() error {
	_, err := s.db.Exec("DELETE FROM tip_chunks")
	if err != nil {
		return fmt.Errorf("failed to delete tip_chunks: %w", err)
	}
	_, err = s.db.Exec("DELETE FROM sqlite_sequence WHERE name='tip_chunks'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		s.logger.Warn("could not reset sequence for tip_chunks", zap.Error(err))
	}
	return nil
}

// ParseTipTable extracts the cells of a single-column markdown table. The
// header row and the separator row are skipped.
func ParseTipTable(content string) []string {
	var tips []string
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			continue
		}
		lower := strings.ToLower(trimmed)
		if i == 0 && (strings.Contains(lower, "tip") || strings.Contains(lower, "text") || strings.Contains(lower, "content")) {
			continue
		}
		if strings.Contains(trimmed, "---") {
			continue
		}
		parts := strings.Split(trimmed, "|")
		if len(parts) < 3 {
			continue
		}
		if cell := strings.TrimSpace(parts[1]); cell != "" {
			tips = append(tips, cell)
		}
	}
	return tips
}

// IngestTips replaces the stored tips with the given ones, embedding each.
// Tips whose embedding fails are skipped. interval throttles the embedder.
func (s *SQLiteStore) IngestTips(ctx context.Context, tips []string, embedder func(context.Context, string) ([]float32, error), interval time.Duration) (int, error) {
	if len(tips) == 0 {
		s.logger.Info("no tips to ingest")
		return 0, nil
	}
	if err := s.ClearTipChunks(); err != nil {
		return 0, fmt.Errorf("failed to clear existing tips: %w", err)
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval) // keeps under the embedding API rate limit
	defer ticker.Stop()

	count := 0
	for i, tip := range tips {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case <-ticker.C:
		}

		embedding, err := embedder(ctx, tip)
		if err != nil {
			s.logger.Warn("failed to embed tip, skipping", zap.Int("index", i), zap.Error(err))
			continue
		}
		chunk := TipChunk{Content: tip, Embedding: embedding}
		if err := s.createTipChunk(&chunk); err != nil {
			s.logger.Warn("failed to store tip, skipping", zap.Int("index", i), zap.Error(err))
			continue
		}
		count++
		if count%10 == 0 || count == len(tips) {
			s.logger.Info("ingesting tips", zap.Int("done", count), zap.Int("total", len(tips)))
		}
	}
	return count, nil
}
