// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account/message/session/file persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			handle        TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL,
			role          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL,

			CHECK (role IN ('user', 'expert'))
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_handle ON accounts(handle);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			channel     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			text        TEXT NOT NULL,
			sent_at     TEXT NOT NULL,
			is_file     INTEGER NOT NULL DEFAULT 0,
			file_id     TEXT NOT NULL DEFAULT '',
			is_voice    INTEGER NOT NULL DEFAULT 0,
			edited_at   TEXT,

			CHECK (channel IN ('direct', 'expert'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages(channel, sender_id, receiver_id, sent_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages(channel, receiver_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			expert_a     TEXT NOT NULL,
			expert_b     TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL,
			confirmed_at TEXT,

			CHECK (status IN ('pending', 'confirmed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_pair ON sessions(expert_a, expert_b);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

		CREATE TABLE IF NOT EXISTS files (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size         INTEGER NOT NULL,
			disk_name    TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateAccount inserts a new account.
// Returns ErrDuplicateHandle if the handle is already taken.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, handle, display_name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Handle,
		account.DisplayName,
		account.Role,
		account.PasswordHash,
		account.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateHandle
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID, "handle", account.Handle, "role", account.Role)
	return nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, handle, display_name, role, password_hash, created_at
		FROM accounts
		WHERE id = ?
	`
	return s.queryAccount(ctx, query, id)
}

// GetAccountByHandle retrieves an account by its unique handle.
// Returns ErrNotFound if no account has the handle.
func (s *SQLiteStore) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	query := `
		SELECT id, handle, display_name, role, password_hash, created_at
		FROM accounts
		WHERE handle = ?
	`
	return s.queryAccount(ctx, query, handle)
}

func (s *SQLiteStore) queryAccount(ctx context.Context, query string, arg any) (*Account, error) {
	var account Account
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Handle,
		&account.DisplayName,
		&account.Role,
		&account.PasswordHash,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	account.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &account, nil
}

// CreateMessage inserts a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, channel, sender_id, receiver_id, text, sent_at, is_file, file_id, is_voice, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var editedAt any
	if msg.EditedAt != nil {
		editedAt = msg.EditedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Channel,
		msg.SenderID,
		msg.ReceiverID,
		msg.Text,
		msg.SentAt.UTC().Format(time.RFC3339),
		msg.IsFile,
		msg.FileID,
		msg.IsVoice,
		editedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message", "id", msg.ID, "channel", msg.Channel)
	return nil
}

// scanner is the shared surface of sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*Message, error) {
	var msg Message
	var sentAtStr string
	var editedAt sql.NullString

	if err := sc.Scan(
		&msg.ID,
		&msg.Channel,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Text,
		&sentAtStr,
		&msg.IsFile,
		&msg.FileID,
		&msg.IsVoice,
		&editedAt,
	); err != nil {
		return nil, err
	}

	var err error
	msg.SentAt, err = time.Parse(time.RFC3339, sentAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing sent_at: %w", err)
	}
	if editedAt.Valid {
		t, err := time.Parse(time.RFC3339, editedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing edited_at: %w", err)
		}
		msg.EditedAt = &t
	}

	return &msg, nil
}

const messageColumns = "id, channel, sender_id, receiver_id, text, sent_at, is_file, file_id, is_voice, edited_at"

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// UpdateMessageText replaces a message's text and stamps the edit time,
// returning the updated record.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*Message, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, edited_at = ? WHERE id = ?`,
		text, editedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("updated message text", "id", id)
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted message", "id", id)
	return nil
}

// ListConversation retrieves the messages exchanged between two accounts on
// one channel, both directions, in chronological order.
// If limit is 0 or negative, a default limit of 500 is used.
func (s *SQLiteStore) ListConversation(ctx context.Context, channel, a, b string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY sent_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, channel, a, b, b, a, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return messages, nil
}

// DeleteConversation removes every message between two accounts on one
// channel and returns the file IDs of the removed file messages so callers
// can clean up the blob store.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, channel, a, b string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT file_id
		FROM messages
		WHERE channel = ? AND is_file = 1 AND file_id != ''
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
	`, channel, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("querying conversation files: %w", err)
	}

	var fileIDs []string
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning file ID: %w", err)
		}
		fileIDs = append(fileIDs, fileID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE channel = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
	`, channel, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("deleting conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing conversation delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "channel", channel, "a", a, "b", b, "files", len(fileIDs))
	return fileIDs, nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, expert_a, expert_b, status, created_at, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var confirmedAt any
	if session.ConfirmedAt != nil {
		confirmedAt = session.ConfirmedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.ExpertA,
		session.ExpertB,
		session.Status,
		session.CreatedAt.UTC().Format(time.RFC3339),
		confirmedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "status", session.Status)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = ?
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return session, nil
}

// sessionColumns is the column list every session query selects, in the
// order scanSession expects.
const sessionColumns = `id, expert_a, expert_b, status, created_at, confirmed_at`

// scanSession reads one session row. Scan errors pass through unwrapped so
// callers can compare against sql.ErrNoRows.
func scanSession(row scanner) (*Session, error) {
	var session Session
	var createdAtStr string
	var confirmedAt sql.NullString

	err := row.Scan(
		&session.ID,
		&session.ExpertA,
		&session.ExpertB,
		&session.Status,
		&createdAtStr,
		&confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if confirmedAt.Valid {
		t, err := time.Parse(time.RFC3339, confirmedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing confirmed_at: %w", err)
		}
		session.ConfirmedAt = &t
	}

	return &session, nil
}

// UpdateSessionStatus moves a session to a new status. Both status and
// confirmation time are written; pass nil confirmedAt for anything other
// than a confirmation.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string, confirmedAt *time.Time) error {
	var confirmed any
	if confirmedAt != nil {
		confirmed = confirmedAt.UTC().Format(time.RFC3339)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, confirmed_at = ? WHERE id = ?`,
		status, confirmed, id,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated session status", "id", id, "status", status)
	return nil
}

// HasConfirmedSession reports whether a confirmed session exists between the
// two accounts, in either order.
func (s *SQLiteStore) HasConfirmedSession(ctx context.Context, a, b string) (bool, error) {
	query := `
		SELECT 1
		FROM sessions
		WHERE status = 'confirmed'
		  AND ((expert_a = ? AND expert_b = ?) OR (expert_a = ? AND expert_b = ?))
		LIMIT 1
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, a, b, b, a).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying confirmed session: %w", err)
	}
	return true, nil
}

// ListSessions returns every session involving the given expert, newest
// first.
func (s *SQLiteStore) ListSessions(ctx context.Context, expertID string) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE expert_a = ? OR expert_b = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, expertID, expertID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// CreateFile inserts file metadata.
func (s *SQLiteStore) CreateFile(ctx context.Context, file *FileObject) error {
	query := `
		INSERT INTO files (id, name, content_type, size, disk_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		file.ID,
		file.Name,
		file.ContentType,
		file.Size,
		file.DiskName,
		file.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}

	s.logger.Debug("created file record", "id", file.ID, "name", file.Name, "size", file.Size)
	return nil
}

// GetFile retrieves file metadata by ID.
// Returns ErrNotFound if the file doesn't exist.
func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*FileObject, error) {
	query := `
		SELECT id, name, content_type, size, disk_name, created_at
		FROM files
		WHERE id = ?
	`

	var file FileObject
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&file.ID,
		&file.Name,
		&file.ContentType,
		&file.Size,
		&file.DiskName,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file: %w", err)
	}

	file.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &file, nil
}

// DeleteFile removes file metadata.
// Returns ErrNotFound if the file doesn't exist.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted file record", "id", id)
	return nil
}
