// Package store persists users, chatrooms and message history in
// Badger. Key layout:
//
//	user/<username>   -> User
//	room/<room id>    -> Room
//	msg/<room id>/<zero-padded seq> -> types.Message
//	msgid/<message id> -> primary message key, for edit and delete
//	seq/<room id>     -> badger sequence backing per-room ordering
package store

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken is returned when registering a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned on a failed password check.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Open opens (or creates) the Badger database at path. An empty path
// opens an in-memory database, used by tests.
func Open(path string, logger zerolog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", path).Bool("in_memory", path == "").Msg("store opened")
	return db, nil
}
