package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Room is a chatroom record. Live membership is tracked by the hub;
// the room itself outlives any particular set of connections.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomRepository persists chatrooms under room/<id>.
type RoomRepository struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewRoomRepository creates a room repository over an open DB.
func NewRoomRepository(db *badger.DB, logger zerolog.Logger) *RoomRepository {
	return &RoomRepository{
		db:     db,
		logger: logger.With().Str("component", "room-store").Logger(),
	}
}

func roomKey(id string) []byte { return []byte("room/" + id) }

// Create stores a new room and returns it with its assigned id.
func (r *RoomRepository) Create(ctx context.Context, name, ownerID string, isPrivate bool) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	room := Room{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		IsPrivate: isPrivate,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(room)
	if err != nil {
		return Room{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(room.ID), value)
	})
	if err != nil {
		return Room{}, err
	}
	r.logger.Info().Str("room_id", room.ID).Str("name", name).Msg("room created")
	return room, nil
}

// Get returns a room by id, or ErrNotFound.
func (r *RoomRepository) Get(ctx context.Context, id string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	var room Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &room)
		})
	})
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

// Exists reports whether a room id is known. Used as the hub's
// admission check; a database error is surfaced rather than read as
// room-not-found.
func (r *RoomRepository) Exists(id string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns rooms with offset pagination. Iteration order is by id,
// which is stable but not meaningful.
func (r *RoomRepository) List(ctx context.Context, skip, limit int) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var out []Room
	prefix := []byte("room/")
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seen := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if seen < skip {
				seen++
				continue
			}
			if len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var room Room
				if err := json.Unmarshal(val, &room); err != nil {
					return err
				}
				out = append(out, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a room record. Deleting an unknown id is a no-op.
func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(roomKey(id))
	})
}
