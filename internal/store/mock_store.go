// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]*Message // keyed by session ID
	nextID   int64

	// InsertErr, when set, is returned by InsertMessage without storing anything.
	InsertErr error
	// Inserts counts InsertMessage calls, including failed ones.
	Inserts int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
	}
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, name string, metadata map[string]any) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  maps.Clone(nonNilMetadata(metadata)),
	}
	m.sessions[session.ID] = session
	return copySession(session), nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

// ListSessions returns sessions ordered by most recently updated.
func (m *MockStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	limit, offset = normalizePage(limit, offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, copySession(s))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	return page(all, limit, offset), nil
}

// UpdateSession changes the name and/or metadata of a session.
func (m *MockStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Name != nil {
		session.Name = *update.Name
	}
	if update.Metadata != nil {
		session.Metadata = maps.Clone(update.Metadata)
	}
	session.UpdatedAt = time.Now().UTC()
	return copySession(session), nil
}

// DeleteSession removes a session and its messages.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	delete(m.sessions, id)
	return nil
}

// InsertMessage appends a message and bumps the session's updated_at.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Inserts++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	session, ok := m.sessions[msg.SessionID]
	if !ok {
		return ErrNotFound
	}

	m.nextID++
	now := time.Now().UTC()
	msg.ID = m.nextID
	msg.CreatedAt = now
	msg.Metadata = nonNilMetadata(msg.Metadata)
	session.UpdatedAt = now

	stored := *msg
	stored.Metadata = maps.Clone(msg.Metadata)
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &stored)
	return nil
}

// ListMessages returns a page of messages oldest first.
func (m *MockStore) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error) {
	limit, offset = normalizePage(limit, offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	return page(copyMessages(m.messages[sessionID]), limit, offset), nil
}

// RecentMessages returns the newest n messages in chronological order.
func (m *MockStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	n, _ = normalizePage(n, 0)

	m.mu.Lock()
	defer m.mu.Unlock()

	all := copyMessages(m.messages[sessionID])
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Stats reports row counts and the token total. DBSizeBytes is always zero.
func (m *MockStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Stats{TotalSessions: int64(len(m.sessions))}
	for _, msgs := range m.messages {
		st.TotalMessages += int64(len(msgs))
		for _, msg := range msgs {
			st.TotalTokens += int64(msg.TokenCount)
		}
	}
	return st, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copySession(s *Session) *Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

func copyMessages(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		c.Metadata = maps.Clone(msg.Metadata)
		out = append(out, &c)
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
