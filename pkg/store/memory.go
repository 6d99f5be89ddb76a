package store

import (
	"sync"
	"time"
)

// MemStore is an in-memory Store. It holds everything under one RWMutex, so
// DeliverMessage's capacity check, append, and counter increment happen as a
// single atomic unit — the same guarantee the SQLite backend gets from its
// transaction.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	messages []*Message
	nextID   int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]*Account),
		nextID:   1,
	}
}

// GetAccount returns a copy of the account, so callers can't mutate store
// state behind the lock's back.
func (m *MemStore) GetAccount(username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *acc
	return &copied, nil
}

// AccountExists reports whether the username is registered.
func (m *MemStore) AccountExists(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.accounts[username]
	return ok, nil
}

// CreateAccount registers a new account with an unread count of zero.
func (m *MemStore) CreateAccount(username, passwordHash string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[username]; ok {
		return ErrDuplicateAccount
	}

	m.accounts[username] = &Account{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
	}
	return nil
}

// DeliverMessage appends a message and bumps the recipient's unread count
// while holding the write lock across the whole check-then-mutate sequence.
func (m *MemStore) DeliverMessage(sender, recipient, body string, capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[recipient]
	if !ok {
		return ErrAccountNotFound
	}
	if acc.UnreadCount >= capacity {
		return ErrInboxFull
	}

	m.messages = append(m.messages, &Message{
		ID:       m.nextID,
		Sender:   sender,
		Receiver: recipient,
		Body:     body,
		SentAt:   time.Now().UnixMilli(),
	})
	m.nextID++
	acc.UnreadCount++
	return nil
}

// ResetUnread sets the account's unread count to zero.
func (m *MemStore) ResetUnread(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[username]
	if !ok {
		return ErrAccountNotFound
	}
	acc.UnreadCount = 0
	return nil
}

// MessagesFor returns every message addressed to receiver, oldest first.
func (m *MemStore) MessagesFor(receiver string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages {
		if msg.Receiver == receiver {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}

// AllMessages returns every message in the system, oldest first.
func (m *MemStore) AllMessages() ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		copied := *msg
		result = append(result, &copied)
	}
	return result, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
