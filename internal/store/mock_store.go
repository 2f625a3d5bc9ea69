// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	accounts    map[string]*Account    // keyed by account ID
	handleIndex map[string]string      // keyed by handle -> account ID
	messages    map[string]*Message    // keyed by message ID
	sessions    map[string]*Session    // keyed by session ID
	files       map[string]*FileObject // keyed by file ID
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:    make(map[string]*Account),
		handleIndex: make(map[string]string),
		messages:    make(map[string]*Message),
		sessions:    make(map[string]*Session),
		files:       make(map[string]*FileObject),
	}
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handleIndex[account.Handle]; ok {
		return ErrDuplicateHandle
	}

	// Make a copy to avoid external modification
	a := *account
	m.accounts[a.ID] = &a
	m.handleIndex[a.Handle] = a.ID

	return nil
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *a
	return &result, nil
}

// GetAccountByHandle retrieves an account by handle.
func (m *MockStore) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.handleIndex[handle]
	if !ok {
		return nil, ErrNotFound
	}

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *a
	return &result, nil
}

// CreateMessage stores a new message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[cp.ID] = &cp

	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *msg
	return &result, nil
}

// UpdateMessageText replaces a message's text and stamps the edit time.
func (m *MockStore) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}

	msg.Text = text
	t := editedAt
	msg.EditedAt = &t

	result := *msg
	return &result, nil
}

// DeleteMessage removes a message.
func (m *MockStore) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)

	return nil
}

// pairMatches reports whether a message belongs to the conversation between
// a and b on the given channel, in either direction.
func pairMatches(msg *Message, channel, a, b string) bool {
	if msg.Channel != channel {
		return false
	}
	return (msg.SenderID == a && msg.ReceiverID == b) ||
		(msg.SenderID == b && msg.ReceiverID == a)
}

// ListConversation retrieves the conversation between two accounts in
// chronological order.
func (m *MockStore) ListConversation(ctx context.Context, channel, a, b string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}

	var messages []*Message
	for _, msg := range m.messages {
		if pairMatches(msg, channel, a, b) {
			result := *msg
			messages = append(messages, &result)
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	if len(messages) > limit {
		messages = messages[:limit]
	}

	return messages, nil
}

// DeleteConversation removes a conversation and returns its file IDs.
func (m *MockStore) DeleteConversation(ctx context.Context, channel, a, b string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fileIDs []string
	for id, msg := range m.messages {
		if !pairMatches(msg, channel, a, b) {
			continue
		}
		if msg.IsFile && msg.FileID != "" {
			fileIDs = append(fileIDs, msg.FileID)
		}
		delete(m.messages, id)
	}

	return fileIDs, nil
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.sessions[s.ID] = &s

	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *s
	return &result, nil
}

// UpdateSessionStatus moves a session to a new status.
func (m *MockStore) UpdateSessionStatus(ctx context.Context, id, status string, confirmedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	s.Status = status
	if confirmedAt != nil {
		t := *confirmedAt
		s.ConfirmedAt = &t
	} else {
		s.ConfirmedAt = nil
	}

	return nil
}

// HasConfirmedSession reports whether a confirmed session links the two
// accounts, in either order.
func (m *MockStore) HasConfirmedSession(ctx context.Context, a, b string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Status != SessionConfirmed {
			continue
		}
		if (s.ExpertA == a && s.ExpertB == b) || (s.ExpertA == b && s.ExpertB == a) {
			return true, nil
		}
	}

	return false, nil
}

// ListSessions returns sessions involving the given expert, newest first.
func (m *MockStore) ListSessions(ctx context.Context, expertID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, s := range m.sessions {
		if s.ExpertA != expertID && s.ExpertB != expertID {
			continue
		}
		result := *s
		sessions = append(sessions, &result)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}

// CreateFile stores file metadata.
func (m *MockStore) CreateFile(ctx context.Context, file *FileObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := *file
	m.files[f.ID] = &f

	return nil
}

// GetFile retrieves file metadata by ID.
func (m *MockStore) GetFile(ctx context.Context, id string) (*FileObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *f
	return &result, nil
}

// DeleteFile removes file metadata.
func (m *MockStore) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)

	return nil
}

// Ping always succeeds for the mock.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
