package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Egcarson/chatroom/src/types"
)

const seqBandwidth = 64

// MessageRepository appends messages to per-room ordered history. The
// zero-padded sequence in the key makes Badger's lexicographic
// iteration return messages in store order.
type MessageRepository struct {
	db     *badger.DB
	logger zerolog.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// NewMessageRepository creates a message repository over an open DB.
func NewMessageRepository(db *badger.DB, logger zerolog.Logger) *MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: logger.With().Str("component", "message-store").Logger(),
		seqs:   make(map[string]*badger.Sequence),
	}
}

func messageKey(roomID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg/%s/%020d", roomID, seq))
}

// messageIDKey indexes a message id to its primary key so edit and
// delete can find a record without knowing its room and sequence.
func messageIDKey(id string) []byte {
	return []byte("msgid/" + id)
}

func (r *MessageRepository) sequence(roomID string) (*badger.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.seqs[roomID]; ok {
		return s, nil
	}
	s, err := r.db.GetSequence([]byte("seq/"+roomID), seqBandwidth)
	if err != nil {
		return nil, err
	}
	r.seqs[roomID] = s
	return s, nil
}

// Append durably stores a message and returns the stored record with
// its assigned id, sequence and timestamp.
func (r *MessageRepository) Append(ctx context.Context, roomID, senderID, senderName, content string) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	seq, err := r.sequence(roomID)
	if err != nil {
		return types.Message{}, fmt.Errorf("room sequence: %w", err)
	}
	n, err := seq.Next()
	if err != nil {
		return types.Message{}, fmt.Errorf("room sequence: %w", err)
	}

	msg := types.Message{
		ID:         uuid.NewString(),
		ChatroomID: roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Seq:        n,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return types.Message{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := messageKey(roomID, n)
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(messageIDKey(msg.ID), key)
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// Get returns a single message by id, or ErrNotFound.
func (r *MessageRepository) Get(ctx context.Context, id string) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	var msg types.Message
	err := r.db.View(func(txn *badger.Txn) error {
		key, err := r.resolveID(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		})
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// Update replaces a message's content in place. Id, sender, room,
// sequence and timestamp are immutable.
func (r *MessageRepository) Update(ctx context.Context, id, content string) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	var msg types.Message
	err := r.db.Update(func(txn *badger.Txn) error {
		key, err := r.resolveID(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}
		msg.Content = content
		value, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// Delete removes a message and its id index, or returns ErrNotFound.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		key, err := r.resolveID(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(messageIDKey(id))
	})
}

func (r *MessageRepository) resolveID(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(messageIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var key []byte
	if err := item.Value(func(val []byte) error {
		key = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return nil, err
	}
	return key, nil
}

// Messages returns a room's history in store order, skipping skip
// records and returning at most limit.
func (r *MessageRepository) Messages(ctx context.Context, roomID string, skip, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var out []types.Message
	prefix := []byte("msg/" + roomID + "/")
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
				var msg types.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				out = append(out, msg)
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

// Close releases the leased room sequences, returning unused numbers.
func (r *MessageRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.seqs {
		if err := s.Release(); err != nil {
			r.logger.Error().Err(err).Str("room_id", id).Msg("sequence release failed")
		}
	}
	r.seqs = make(map[string]*badger.Sequence)
	return nil
}
