package types

import "time"

// Identity is the authenticated principal behind a connection. It is
// produced by token verification and never changes for the lifetime of
// the connection.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	TokenID  string `json:"-"`
}

// Message is a stored chat message, the unit of broadcast. The id,
// sequence and timestamp are assigned by the message store; once stored
// a message is immutable.
type Message struct {
	ID         string    `json:"id"`
	ChatroomID string    `json:"chatroom_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seq        uint64    `json:"-"`
}

// Inbound is the only payload shape a client may send over the socket.
type Inbound struct {
	Content string `json:"content" validate:"required,max=4096"`
}

// ErrorAck is written back to the originating connection when its own
// message could not be processed. It is never broadcast.
type ErrorAck struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Error codes carried in ErrorAck.Error.
const (
	AckInvalidPayload     = "invalid_payload"
	AckNotMember          = "not_member"
	AckPersistenceFailure = "persistence_failure"
)

// WebSocket close codes. The 4xxx range is application-defined so
// clients can distinguish causes programmatically.
const (
	CloseNormal        = 1000
	CloseInternalError = 1011
	CloseUnauthorized  = 4001
	CloseRoomNotFound  = 4004
	CloseSlowConsumer  = 4008
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	WriteClose(code int, reason string) error
	Ping() error
	Close() error
}

// MemberInfo describes a live member of a chatroom.
type MemberInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	ConnectedAt  time.Time `json:"connected_at"`
}
