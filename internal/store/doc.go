// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Account: A registered user or expert. Account IDs are 24-character
//     hex tokens; they travel through the presence registry and make up
//     room keys, so the alphabet is deliberately separator-free.
//   - Message: One chat message on either the direct (user/expert) or the
//     expert (expert/expert) channel. File and voice messages carry flags
//     and a FileObject reference next to their text.
//   - Session: A consultation agreement between two experts. Only a
//     confirmed session opens the expert channel between its parties.
//   - FileObject: Metadata for an uploaded file; the bytes live on disk.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The schema is created automatically on open. Timestamps are stored as
// RFC 3339 UTC strings, so lexicographic order is chronological order.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateHandle: Account handle is already taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore with a temp path for
// integration tests with real SQLite.
package store
