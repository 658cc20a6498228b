// Package service implements the ingest pipeline: validate, persist,
// then broadcast. Nothing is ever broadcast unless the store accepted
// it first.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Egcarson/chatroom/src/hub"
	"github.com/Egcarson/chatroom/src/types"
)

// Ingest error taxonomy. Each is scoped to the originating connection
// or request and never affects other members of the room.
var (
	ErrInvalidPayload = errors.New("invalid message payload")
	ErrNotMember      = errors.New("connection is not a member of the room")
	ErrPersistence    = errors.New("message could not be stored")
)

// MessageStore durably appends a message to a room's history and
// returns the stored record with its assigned id and timestamp.
type MessageStore interface {
	Append(ctx context.Context, roomID, senderID, senderName, content string) (types.Message, error)
}

var validate = validator.New()

// Service drives message ingest for both the socket and REST paths.
type Service struct {
	hub    *hub.Hub
	store  MessageStore
	logger zerolog.Logger
}

// New creates the ingest service.
func New(h *hub.Hub, store MessageStore, logger zerolog.Logger) *Service {
	return &Service{
		hub:    h,
		store:  store,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Ingest processes one raw payload from a live connection: validate,
// confirm membership, persist, broadcast, and return the stored
// message. Errors are reported to the caller only; no partial
// broadcast ever happens.
func (s *Service) Ingest(ctx context.Context, c *hub.Client, raw []byte) (types.Message, error) {
	var in types.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(in); err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !s.hub.IsMember(c.RoomID, c.ID) {
		return types.Message{}, ErrNotMember
	}
	return s.persistAndBroadcast(ctx, c.RoomID, c.Identity, in.Content)
}

// Send is the REST ingest path: same pipeline, but bound to a room id
// rather than a live connection. The sender's own connections, if any,
// receive the message through the broadcast like everyone else.
func (s *Service) Send(ctx context.Context, roomID string, ident types.Identity, content string) (types.Message, error) {
	in := types.Inbound{Content: content}
	if err := validate.Struct(in); err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ok, err := s.hub.RoomExists(roomID)
	if err != nil {
		return types.Message{}, err
	}
	if !ok {
		return types.Message{}, hub.ErrRoomUnknown
	}
	return s.persistAndBroadcast(ctx, roomID, ident, content)
}

// persistAndBroadcast runs under the room's ingest lock so delivery
// order matches the store's successful-write order. The membership
// lock is never held across the store call.
func (s *Service) persistAndBroadcast(ctx context.Context, roomID string, ident types.Identity, content string) (types.Message, error) {
	var msg types.Message
	err := s.hub.SerializeIngest(roomID, func() error {
		stored, err := s.store.Append(ctx, roomID, ident.UserID, ident.Username, content)
		if err != nil {
			s.logger.Error().Err(err).
				Str("room_id", roomID).
				Str("sender_id", ident.UserID).
				Msg("message append failed")
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		msg = stored
		s.hub.Broadcast(roomID, msg, "")
		return nil
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// AckFor maps an ingest error to the error acknowledgment written back
// to the originating connection.
func AckFor(err error) types.ErrorAck {
	switch {
	case errors.Is(err, ErrNotMember):
		return types.ErrorAck{Error: types.AckNotMember, Detail: "not a member of this chatroom"}
	case errors.Is(err, ErrPersistence):
		return types.ErrorAck{Error: types.AckPersistenceFailure, Detail: "message was not stored, retry"}
	default:
		return types.ErrorAck{Error: types.AckInvalidPayload, Detail: `expected {"content": string}`}
	}
}
