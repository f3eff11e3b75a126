// Package store persists Parlor's credential records and the chat
// transcript. Records are flat table/key/value entries; the only
// compound operation is the atomic username claim.
package store

import "errors"

// Table names. Keys are login tokens except in TableToken, which is the
// reverse index from claimed username back to the owning login token.
const (
	TableToken    = "token"
	TableUsername = "username"
	TableStatus   = "status"
	TableBanner   = "banner"
	TableID       = "id"
)

var (
	// ErrUsernameTaken is returned by ClaimUsername when the requested
	// name is already owned by a different login token.
	ErrUsernameTaken = errors.New("store: username already claimed")

	// ErrUnknownTable is returned for table names outside the fixed set.
	ErrUnknownTable = errors.New("store: unknown table")
)

// Store is the persistence interface for credential records and the
// transcript. The default implementation is bbolt-backed; an in-memory
// implementation exists for tests.
type Store interface {
	// Close closes the underlying storage.
	Close() error

	// Read returns the value for key in table, reporting whether it exists.
	Read(table, key string) (string, bool, error)

	// Write stores value under key in table, replacing any existing value.
	Write(table, key, value string) error

	// ReadOrWriteNew returns the existing value for key, or stores and
	// returns fallback if the key is absent.
	ReadOrWriteNew(table, key, fallback string) (string, error)

	// Delete removes key from table. Deleting an absent key is a no-op.
	Delete(table, key string) error

	// ClaimUsername atomically re-points a username claim: it verifies
	// newName is unclaimed (or already owned by token), records the
	// claim, updates the token's username record, and releases oldName.
	// No two concurrent claims for the same newName may both succeed.
	ClaimUsername(token, oldName, newName string) error

	// AppendChat appends one rendered message to the transcript.
	AppendChat(text string) error

	// ReadChat returns the whole transcript in append order.
	ReadChat() (string, error)
}
