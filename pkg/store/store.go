// Package store provides the persistence layer for accounts and messages.
// Two interchangeable backends implement the Store interface: a SQLite
// database for real deployments and an in-memory store for tests and
// throwaway servers. All business rules that must hold under concurrent
// access (the inbox capacity check in particular) are enforced here, inside
// a single atomic operation per backend.
package store

import "errors"

var (
	// ErrAccountNotFound indicates no account exists with that username.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateAccount indicates the username is already taken.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrInboxFull indicates the recipient is at their unread capacity.
	ErrInboxFull = errors.New("inbox is full")
)

// Role is an account's permission level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	return s == string(RoleUser) || s == string(RoleAdmin)
}

// Account is a registered identity. PasswordHash holds a bcrypt hash, never
// the plaintext password. UnreadCount is mutated only through DeliverMessage
// and ResetUnread.
type Account struct {
	Username     string
	PasswordHash string
	Role         Role
	UnreadCount  int
}

// Message is one delivered message. Messages are append-only: there is no
// update or delete operation.
type Message struct {
	ID       int64
	Sender   string
	Receiver string
	Body     string
	SentAt   int64 // Unix milliseconds
}

// Store is the repository contract the engine depends on.
type Store interface {
	// GetAccount returns the account with the given username, or
	// ErrAccountNotFound.
	GetAccount(username string) (*Account, error)

	// AccountExists reports whether an account with the username exists.
	AccountExists(username string) (bool, error)

	// CreateAccount inserts a new account with an unread count of zero.
	// Returns ErrDuplicateAccount if the username is taken.
	CreateAccount(username, passwordHash string, role Role) error

	// DeliverMessage appends a message and increments the recipient's
	// unread count as one atomic unit. It returns ErrAccountNotFound if
	// the recipient does not exist and ErrInboxFull if the recipient
	// already has capacity unread messages; in either case nothing is
	// written. Concurrent deliveries to the same recipient serialize, so
	// the unread count can never exceed capacity.
	DeliverMessage(sender, recipient, body string, capacity int) error

	// ResetUnread sets the account's unread count to zero.
	ResetUnread(username string) error

	// MessagesFor returns every message addressed to receiver, oldest
	// first.
	MessagesFor(receiver string) ([]*Message, error)

	// AllMessages returns every message in the system, oldest first.
	AllMessages() ([]*Message, error)

	// Close releases backend resources.
	Close() error
}
