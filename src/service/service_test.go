package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Egcarson/chatroom/src/hub"
	"github.com/Egcarson/chatroom/src/service"
	"github.com/Egcarson/chatroom/src/types"
)

// fakeStore records appends and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	appended []types.Message
	fail     bool
	seq      uint64
}

func (f *fakeStore) Append(_ context.Context, roomID, senderID, senderName, content string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return types.Message{}, errors.New("store unavailable")
	}
	f.seq++
	msg := types.Message{
		ID:         fmt.Sprintf("m%d", f.seq),
		ChatroomID: roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Seq:        f.seq,
	}
	f.appended = append(f.appended, msg)
	return msg, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

// sinkConn is a types.Conn that records outbound frames.
type sinkConn struct {
	mu      sync.Mutex
	written []any
	closed  chan struct{}
	once    sync.Once
}

func newSinkConn() *sinkConn { return &sinkConn{closed: make(chan struct{})} }

func (s *sinkConn) ReadMessage() ([]byte, error) {
	<-s.closed
	return nil, errors.New("closed")
}

func (s *sinkConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, v)
	return nil
}

func (s *sinkConn) WriteClose(int, string) error { return nil }
func (s *sinkConn) Ping() error                  { return nil }

func (s *sinkConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *sinkConn) getWritten() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]any, len(s.written))
	copy(cp, s.written)
	return cp
}

func newFixture(t *testing.T) (*service.Service, *hub.Hub, *fakeStore) {
	t.Helper()
	h := hub.New(func(id string) (bool, error) { return id != "ghost", nil }, hub.Options{}, zerolog.Nop())
	store := &fakeStore{}
	return service.New(h, store, zerolog.Nop()), h, store
}

func join(t *testing.T, h *hub.Hub, roomID, connID, userID string) (*hub.Client, *sinkConn) {
	t.Helper()
	conn := newSinkConn()
	c := hub.NewClient(connID, types.Identity{UserID: userID, Username: userID}, conn, h, 64)
	require.NoError(t, h.Admit(roomID, c))
	go c.WritePump(time.Minute)
	return c, conn
}

func TestIngestStoresThenBroadcasts(t *testing.T) {
	svc, h, _ := newFixture(t)
	sender, senderConn := join(t, h, "R1", "ca", "A")
	_, otherConn := join(t, h, "R1", "cb", "B")
	_, strangerConn := join(t, h, "R2", "cc", "C")

	msg, err := svc.Ingest(context.Background(), sender, []byte(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "R1", msg.ChatroomID)
	assert.Equal(t, "A", msg.SenderID)
	assert.Equal(t, "hi", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	time.Sleep(20 * time.Millisecond)

	// Sender and room member each observe the broadcast exactly once;
	// nobody in another room sees it.
	for _, conn := range []*sinkConn{senderConn, otherConn} {
		written := conn.getWritten()
		require.Len(t, written, 1)
		got, ok := written[0].(types.Message)
		require.True(t, ok)
		assert.Equal(t, msg.ID, got.ID)
	}
	assert.Empty(t, strangerConn.getWritten())
}

func TestIngestInvalidPayload(t *testing.T) {
	svc, h, store := newFixture(t)
	sender, _ := join(t, h, "R1", "ca", "A")
	_, otherConn := join(t, h, "R1", "cb", "B")

	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"content":""}`),
		[]byte(`{"content":123}`),
		[]byte(`{"body":"hi"}`),
	} {
		_, err := svc.Ingest(context.Background(), sender, raw)
		assert.ErrorIs(t, err, service.ErrInvalidPayload, string(raw))
	}

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.count())
	assert.Empty(t, otherConn.getWritten())
}

func TestIngestRejectsRevokedMember(t *testing.T) {
	svc, h, store := newFixture(t)
	sender, _ := join(t, h, "R1", "ca", "A")
	_, otherConn := join(t, h, "R1", "cb", "B")

	// Membership revoked between read and ingest.
	h.Remove(sender)

	_, err := svc.Ingest(context.Background(), sender, []byte(`{"content":"hi"}`))
	require.ErrorIs(t, err, service.ErrNotMember)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.count())
	assert.Empty(t, otherConn.getWritten())
}

func TestIngestNoBroadcastWithoutPersist(t *testing.T) {
	svc, h, store := newFixture(t)
	sender, senderConn := join(t, h, "R1", "ca", "A")
	_, otherConn := join(t, h, "R1", "cb", "B")

	store.fail = true
	_, err := svc.Ingest(context.Background(), sender, []byte(`{"content":"hi"}`))
	require.ErrorIs(t, err, service.ErrPersistence)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, senderConn.getWritten())
	assert.Empty(t, otherConn.getWritten())

	// The connection stays usable: the next message goes through.
	store.fail = false
	_, err = svc.Ingest(context.Background(), sender, []byte(`{"content":"again"}`))
	require.NoError(t, err)
}

func TestIngestOrderMatchesStoreOrder(t *testing.T) {
	svc, h, store := newFixture(t)
	sender, _ := join(t, h, "R1", "ca", "A")
	_, otherConn := join(t, h, "R1", "cb", "B")

	const n = 20
	for i := 0; i < n; i++ {
		_, err := svc.Ingest(context.Background(), sender,
			[]byte(fmt.Sprintf(`{"content":"msg %d"}`, i)))
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)

	written := otherConn.getWritten()
	require.Len(t, written, n)
	store.mu.Lock()
	defer store.mu.Unlock()
	for i, v := range written {
		got := v.(types.Message)
		assert.Equal(t, store.appended[i].ID, got.ID)
	}
}

func TestConcurrentIngestKeepsRoomTotalOrder(t *testing.T) {
	svc, h, store := newFixture(t)
	a, _ := join(t, h, "R1", "ca", "A")
	b, _ := join(t, h, "R1", "cb", "B")
	_, watcher := join(t, h, "R1", "cw", "W")

	var wg sync.WaitGroup
	for _, sender := range []*hub.Client{a, b} {
		wg.Add(1)
		go func(c *hub.Client) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := svc.Ingest(context.Background(), c, []byte(`{"content":"x"}`))
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	// Whatever interleaving won the race to the store, the watcher
	// observes exactly the store's order.
	written := watcher.getWritten()
	require.Len(t, written, 20)
	store.mu.Lock()
	defer store.mu.Unlock()
	for i, v := range written {
		assert.Equal(t, store.appended[i].ID, v.(types.Message).ID)
	}
}

func TestSendValidatesAndChecksRoom(t *testing.T) {
	svc, h, _ := newFixture(t)
	_, conn := join(t, h, "R1", "ca", "A")

	_, err := svc.Send(context.Background(), "ghost", types.Identity{UserID: "A"}, "hi")
	assert.ErrorIs(t, err, hub.ErrRoomUnknown)

	_, err = svc.Send(context.Background(), "R1", types.Identity{UserID: "A"}, "")
	assert.ErrorIs(t, err, service.ErrInvalidPayload)

	msg, err := svc.Send(context.Background(), "R1", types.Identity{UserID: "B", Username: "bob"}, "from rest")
	require.NoError(t, err)
	assert.Equal(t, "from rest", msg.Content)

	time.Sleep(20 * time.Millisecond)
	require.Len(t, conn.getWritten(), 1)
}

func TestSendSurfacesDirectoryFailure(t *testing.T) {
	errDir := errors.New("directory unavailable")
	h := hub.New(func(string) (bool, error) { return false, errDir }, hub.Options{}, zerolog.Nop())
	svc := service.New(h, &fakeStore{}, zerolog.Nop())

	_, err := svc.Send(context.Background(), "r1", types.Identity{UserID: "A"}, "hi")
	assert.ErrorIs(t, err, errDir)
	assert.NotErrorIs(t, err, hub.ErrRoomUnknown)
}

func TestAckFor(t *testing.T) {
	assert.Equal(t, types.AckNotMember, service.AckFor(service.ErrNotMember).Error)
	assert.Equal(t, types.AckPersistenceFailure,
		service.AckFor(fmt.Errorf("%w: boom", service.ErrPersistence)).Error)
	assert.Equal(t, types.AckInvalidPayload, service.AckFor(service.ErrInvalidPayload).Error)
}
