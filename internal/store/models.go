package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

// Exchange is one stored user message and the tutor's answer to it.
type Exchange struct {
	ID          string    `json:"id"` // UUID
	UserID      int64     `json:"user_id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// TipChunk is one teaching tip with its embedding, used for retrieval.
type TipChunk struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"` // internal
	EmbeddingJSON string    `json:"-"` // Store as JSON string for DB
}
