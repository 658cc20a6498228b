// Package hub owns the live mapping from chatrooms to connections and
// the fan-out of stored messages to room members.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Egcarson/chatroom/src/types"
)

// ErrRoomUnknown is returned by Admit when the target chatroom does not
// exist in the room directory.
var ErrRoomUnknown = errors.New("chatroom does not exist")

// ExistsFunc checks a chatroom id against the external room directory.
// A returned error means the directory itself could not answer, which
// is distinct from the room not existing.
type ExistsFunc func(roomID string) (bool, error)

// Options tunes the hub's delivery policy.
type Options struct {
	// QueueCap bounds each client's outbound channel.
	QueueCap int
	// DropLimit is the number of consecutive failed enqueues after
	// which a client is evicted as a slow consumer.
	DropLimit int
}

// Hub is an arena of per-room sessions indexed by room id. Each room
// carries its own locks, so operations on different rooms never block
// each other and no lock ever spans more than one room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*roomSession
	exists ExistsFunc
	opts   Options
	logger zerolog.Logger
}

// roomSession serializes membership changes and fan-out for a single
// chatroom. ingestMu orders persist-then-broadcast cycles without ever
// blocking admissions or removals, which only take mu.
type roomSession struct {
	id       string
	mu       sync.RWMutex
	ingestMu sync.Mutex
	members  map[string]*Client
}

// New creates a hub backed by the given room directory check.
func New(exists ExistsFunc, opts Options, logger zerolog.Logger) *Hub {
	if opts.QueueCap <= 0 {
		opts.QueueCap = 256
	}
	if opts.DropLimit <= 0 {
		opts.DropLimit = 8
	}
	return &Hub{
		rooms:  make(map[string]*roomSession),
		exists: exists,
		opts:   opts,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// QueueCap returns the configured outbound channel capacity.
func (h *Hub) QueueCap() int { return h.opts.QueueCap }

// RoomExists reports whether the room directory knows the id.
func (h *Hub) RoomExists(roomID string) (bool, error) {
	if h.exists == nil {
		return true, nil
	}
	return h.exists(roomID)
}

func (h *Hub) session(roomID string) *roomSession {
	h.mu.RLock()
	rs, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return rs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok = h.rooms[roomID]; ok {
		return rs
	}
	rs = &roomSession{id: roomID, members: make(map[string]*Client)}
	h.rooms[roomID] = rs
	return rs
}

// Admit registers a connection as a live member of a chatroom. It fails
// with ErrRoomUnknown when the room does not exist; on success the
// connection is immediately visible to broadcasts for that room.
func (h *Hub) Admit(roomID string, c *Client) error {
	ok, err := h.RoomExists(roomID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomUnknown
	}
	// Bind the room before the client becomes visible to broadcasts;
	// an eviction racing the admission must see where to remove from.
	c.RoomID = roomID

	rs := h.session(roomID)
	rs.mu.Lock()
	rs.members[c.ID] = c
	count := len(rs.members)
	rs.mu.Unlock()

	h.logger.Info().
		Str("room_id", roomID).
		Str("connection_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Int("members", count).
		Msg("connection admitted")
	return nil
}

// Remove deregisters a connection from its room. It is idempotent:
// removing a connection that is not registered is a no-op, so a racing
// transport error and explicit leave cannot corrupt membership.
func (h *Hub) Remove(c *Client) {
	if c.RoomID == "" {
		return
	}
	h.mu.RLock()
	rs, ok := h.rooms[c.RoomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	rs.mu.Lock()
	_, present := rs.members[c.ID]
	if present {
		delete(rs.members, c.ID)
	}
	rs.mu.Unlock()

	// Empty sessions are kept; reaping them would race with a
	// concurrent Admit holding a stale session pointer.

	if present {
		h.logger.Info().
			Str("room_id", c.RoomID).
			Str("connection_id", c.ID).
			Msg("connection removed")
	}
}

// Members returns a point-in-time snapshot of a room's live members.
func (h *Hub) Members(roomID string) []*Client {
	h.mu.RLock()
	rs, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return lo.Values(rs.members)
}

// MemberInfos returns presence metadata for a room's live members.
func (h *Hub) MemberInfos(roomID string) []types.MemberInfo {
	return lo.Map(h.Members(roomID), func(c *Client, _ int) types.MemberInfo {
		return c.Info()
	})
}

// IsMember reports whether the connection is currently registered to
// the room.
func (h *Hub) IsMember(roomID, connectionID string) bool {
	h.mu.RLock()
	rs, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok = rs.members[connectionID]
	return ok
}

// SerializeIngest runs fn while holding the room's ingest lock. Ingest
// cycles for one room are totally ordered, which makes delivery order
// match the store's successful-write order; membership operations and
// other rooms proceed unblocked.
func (h *Hub) SerializeIngest(roomID string, fn func() error) error {
	rs := h.session(roomID)
	rs.ingestMu.Lock()
	defer rs.ingestMu.Unlock()
	return fn()
}

// Shutdown force-closes every live connection. Used on server stop.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := lo.Values(h.rooms)
	h.mu.RUnlock()

	for _, rs := range sessions {
		rs.mu.RLock()
		members := lo.Values(rs.members)
		rs.mu.RUnlock()
		for _, c := range members {
			c.CloseWithCode(types.CloseNormal, "server shutting down")
		}
	}
}
