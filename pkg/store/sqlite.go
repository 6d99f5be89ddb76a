package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store.
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (single connection)
}

// Open opens the SQLite database at path and initializes the schema if
// needed. Reads go through a pooled connection; writes go through a single
// dedicated connection, which together with WAL mode keeps readers and the
// writer from blocking each other.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{conn: conn, writeConn: writeConn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// applyPragmas configures a connection for concurrent access: WAL allows
// multiple readers alongside one writer, and the busy timeout makes SQLite
// wait instead of failing with SQLITE_BUSY.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both database connections.
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
-- Account table
CREATE TABLE IF NOT EXISTS Account (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('user', 'admin')),
	unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0)
);

-- Message table (append-only)
CREATE TABLE IF NOT EXISTS Message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	receiver TEXT NOT NULL,
	body TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_receiver ON Message(receiver, id);
`
	_, err := db.writeConn.Exec(schema)
	return err
}

// GetAccount retrieves an account by username
func (db *DB) GetAccount(username string) (*Account, error) {
	var acc Account
	err := db.conn.QueryRow(`
		SELECT username, password_hash, role, unread_count
		FROM Account
		WHERE username = ?
	`, username).Scan(&acc.Username, &acc.PasswordHash, &acc.Role, &acc.UnreadCount)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return &acc, nil
}

// AccountExists checks if an account exists
func (db *DB) AccountExists(username string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`SELECT EXISTS(SELECT 1 FROM Account WHERE username = ?)`, username).Scan(&exists)
	return exists, err
}

// CreateAccount inserts a new account with an unread count of zero
func (db *DB) CreateAccount(username, passwordHash string, role Role) error {
	_, err := db.writeConn.Exec(`
		INSERT INTO Account (username, password_hash, role, unread_count)
		VALUES (?, ?, ?, 0)
	`, username, passwordHash, string(role))

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAccount
		}
		return err
	}

	return nil
}

// DeliverMessage appends a message and bumps the recipient's unread count in
// one transaction. The capacity check rides on the conditional UPDATE: if no
// row changes, the recipient is either missing or full, and nothing is
// inserted. This closes the check-then-act race between concurrent senders.
func (db *DB) DeliverMessage(sender, recipient, body string, capacity int) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE Account SET unread_count = unread_count + 1
		WHERE username = ? AND unread_count < ?
	`, recipient, capacity)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM Account WHERE username = ?)`, recipient).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInboxFull
	}

	if _, err := tx.Exec(`
		INSERT INTO Message (sender, receiver, body, sent_at)
		VALUES (?, ?, ?, ?)
	`, sender, recipient, body, nowMillis()); err != nil {
		return err
	}

	return tx.Commit()
}

// ResetUnread sets the account's unread count to zero
func (db *DB) ResetUnread(username string) error {
	result, err := db.writeConn.Exec(`UPDATE Account SET unread_count = 0 WHERE username = ?`, username)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// MessagesFor retrieves all messages addressed to receiver, oldest first
func (db *DB) MessagesFor(receiver string) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, receiver, body, sent_at
		FROM Message
		WHERE receiver = ?
		ORDER BY id ASC
	`, receiver)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// AllMessages retrieves every message in the system, oldest first
func (db *DB) AllMessages() ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, receiver, body, sent_at
		FROM Message
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures by message text
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
