package store_test

import (
	"context"
	"fmt"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Egcarson/chatroom/src/store"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := store.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessageAppendAssignsIdentityAndOrder(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewMessageRepository(db, zerolog.Nop())
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	m1, err := repo.Append(ctx, "r1", "u1", "alice", "first")
	require.NoError(t, err)
	m2, err := repo.Append(ctx, "r1", "u2", "bob", "second")
	require.NoError(t, err)

	assert.NotEmpty(t, m1.ID)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.False(t, m1.CreatedAt.IsZero())
	assert.Less(t, m1.Seq, m2.Seq)
	assert.Equal(t, "r1", m1.ChatroomID)
	assert.Equal(t, "alice", m1.SenderName)
}

func TestMessagesReturnStoreOrder(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewMessageRepository(db, zerolog.Nop())
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		_, err := repo.Append(ctx, "r1", "u1", "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	// Another room's history must not bleed in.
	_, err := repo.Append(ctx, "r2", "u2", "bob", "elsewhere")
	require.NoError(t, err)

	msgs, err := repo.Messages(ctx, "r1", 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content)
	}
}

func TestMessagesPagination(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewMessageRepository(db, zerolog.Nop())
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := repo.Append(ctx, "r1", "u1", "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	page, err := repo.Messages(ctx, "r1", 4, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "msg 4", page[0].Content)
	assert.Equal(t, "msg 6", page[2].Content)

	empty, err := repo.Messages(ctx, "unknown-room", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRoomLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewRoomRepository(db, zerolog.Nop())
	ctx := context.Background()

	room, err := repo.Create(ctx, "general", "owner-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, room.ID)

	ok, err := repo.Exists(room.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Exists("nope")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", got.Name)
	assert.Equal(t, "owner-1", got.OwnerID)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.Create(ctx, "private", "owner-1", true)
	require.NoError(t, err)
	rooms, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	require.NoError(t, repo.Delete(ctx, room.ID))
	ok, err = repo.Exists(room.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	// Deleting again is a no-op.
	assert.NoError(t, repo.Delete(ctx, room.ID))
}

func TestMessageEditAndDelete(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewMessageRepository(db, zerolog.Nop())
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	msg, err := repo.Append(ctx, "r1", "u1", "alice", "first draft")
	require.NoError(t, err)
	_, err = repo.Append(ctx, "r1", "u2", "bob", "untouched")
	require.NoError(t, err)

	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, got.Content)
	_, err = repo.Get(ctx, "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Edit keeps identity, ordering and timestamp.
	updated, err := repo.Update(ctx, msg.ID, "final version")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, updated.ID)
	assert.Equal(t, msg.Seq, updated.Seq)
	assert.Equal(t, "final version", updated.Content)

	history, err := repo.Messages(ctx, "r1", 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "final version", history[0].Content)

	require.NoError(t, repo.Delete(ctx, msg.ID))
	_, err = repo.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, msg.ID), store.ErrNotFound)

	history, err = repo.Messages(ctx, "r1", 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "untouched", history[0].Content)
}

func TestUserListUpdateDelete(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	_, err := repo.Create(ctx, "alice", "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "bob", "bob@example.com", "s3cret-pass")
	require.NoError(t, err)

	profiles, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alice", profiles[0].Username)

	page, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob", page[0].Username)

	// Email change keeps the password; password change keeps the email.
	updated, err := repo.Update(ctx, "alice", "new@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", updated.Email)
	_, err = repo.Authenticate(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)

	_, err = repo.Update(ctx, "alice", "", "rotated-pass")
	require.NoError(t, err)
	_, err = repo.Authenticate(ctx, "alice", "s3cret-pass")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
	got, err := repo.Authenticate(ctx, "alice", "rotated-pass")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)

	_, err = repo.Update(ctx, "nobody", "x@example.com", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "alice"))
	_, err = repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "alice"), store.ErrNotFound)
}

func TestUserRegistrationAndLogin(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	user, err := repo.Create(ctx, "alice", "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotContains(t, string(user.HashedPassword), "s3cret-pass")

	_, err = repo.Create(ctx, "alice", "other@example.com", "whatever-pass")
	assert.ErrorIs(t, err, store.ErrUsernameTaken)

	got, err := repo.Authenticate(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.Authenticate(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
	_, err = repo.Authenticate(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
}
