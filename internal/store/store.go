// ABOUTME: Store interface and data types for parley-gateway persistence
// ABOUTME: Defines Account, Message, Session, FileObject and the Store interface

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateHandle is returned when an account handle is already taken
var ErrDuplicateHandle = errors.New("handle already exists")

// Role constants for accounts
const (
	RoleUser   = "user"
	RoleExpert = "expert"
)

// Account represents a registered user or expert
type Account struct {
	ID           string
	Handle       string
	DisplayName  string
	Role         string // "user" or "expert"
	PasswordHash string
	CreatedAt    time.Time
}

// Channel constants for messages
const (
	ChannelDirect = "direct" // user <-> expert consultation chat
	ChannelExpert = "expert" // expert <-> expert chat
)

// Message represents a single chat message between two accounts
type Message struct {
	ID         string
	Channel    string // "direct" or "expert"
	SenderID   string
	ReceiverID string
	Text       string
	SentAt     time.Time
	IsFile     bool
	FileID     string // set when IsFile is true
	IsVoice    bool
	EditedAt   *time.Time
}

// Session status constants
const (
	SessionPending   = "pending"
	SessionConfirmed = "confirmed"
	SessionCancelled = "cancelled"
)

// Session represents a consultation agreement between two experts. Only a
// confirmed session opens the expert message channel between its parties.
type Session struct {
	ID          string
	ExpertA     string
	ExpertB     string
	Status      string // pending, confirmed, cancelled
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// FileObject represents an uploaded file's metadata. The bytes live on disk
// under DiskName; the database holds everything else.
type FileObject struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	DiskName    string
	CreatedAt   time.Time
}

// NewID returns a 24-character lowercase hex identifier. Account IDs double
// as presence tokens and room-key halves, so the alphabet must stay inside
// [0-9a-f] and free of the room separator.
func NewID() string {
	var b [12]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Store defines the interface for gateway persistence
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*Account, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListConversation(ctx context.Context, channel, a, b string, limit int) ([]*Message, error)
	DeleteConversation(ctx context.Context, channel, a, b string) ([]string, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, id, status string, confirmedAt *time.Time) error
	HasConfirmedSession(ctx context.Context, a, b string) (bool, error)
	ListSessions(ctx context.Context, expertID string) ([]*Session, error)

	// Files
	CreateFile(ctx context.Context, file *FileObject) error
	GetFile(ctx context.Context, id string) (*FileObject, error)
	DeleteFile(ctx context.Context, id string) error

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
