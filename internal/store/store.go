// ABOUTME: Store interface and data types for jacox persistence
// ABOUTME: Defines Session and Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Pagination bounds shared by every list operation.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Session is one conversation and its free-form metadata.
type Session struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Message is one persisted transcript entry. ID and CreatedAt are assigned
// by InsertMessage.
type Message struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Model      string         `json:"model,omitempty"`
	TokenCount int            `json:"token_count,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata"`
}

// SessionUpdate carries the optional fields of a session update.
// Nil fields are left unchanged.
type SessionUpdate struct {
	Name     *string
	Metadata map[string]any
}

// Stats summarises the database contents.
type Stats struct {
	TotalSessions int64 `json:"total_sessions"`
	TotalMessages int64 `json:"total_messages"`
	TotalTokens   int64 `json:"total_tokens"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// Store defines the interface for session and message persistence.
// Implementations serialize access internally and never hold their guard
// after a method returns.
type Store interface {
	CreateSession(ctx context.Context, name string, metadata map[string]any) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) (*Session, error)
	// DeleteSession removes the session and all of its messages atomically.
	DeleteSession(ctx context.Context, id string) error

	// InsertMessage appends a message and bumps the session's updated_at.
	// Returns ErrNotFound if the session does not exist.
	InsertMessage(ctx context.Context, msg *Message) error
	// ListMessages pages through a session's messages oldest first.
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error)
	// RecentMessages returns the newest n messages in chronological order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// normalizePage applies the default limit, the limit cap and a zero floor on offset.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
