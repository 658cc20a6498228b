package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// User is a registered account as stored. API handlers expose it only
// through Profile so the password hash never goes over the wire.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword []byte    `json:"hashed_password"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile is the public view of a user.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile strips the credential material from a stored user.
func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

// UserRepository persists accounts under user/<username>.
type UserRepository struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewUserRepository creates a user repository over an open DB.
func NewUserRepository(db *badger.DB, logger zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger.With().Str("component", "user-store").Logger(),
	}
}

func userKey(username string) []byte { return []byte("user/" + username) }

// Create registers a new user with a bcrypt-hashed password. Fails
// with ErrUsernameTaken when the username is already registered.
func (r *UserRepository) Create(ctx context.Context, username, email, password string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:             uuid.NewString(),
		Username:       username,
		Email:          email,
		HashedPassword: hash,
		CreatedAt:      time.Now().UTC(),
	}
	value, err := json.Marshal(user)
	if err != nil {
		return User{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if err == nil {
			return ErrUsernameTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(userKey(username), value)
	})
	if err != nil {
		return User{}, err
	}
	r.logger.Info().Str("user_id", user.ID).Str("username", username).Msg("user registered")
	return user, nil
}

// GetByUsername returns a user, or ErrNotFound.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var user User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// List returns user profiles with offset pagination, ordered by
// username.
func (r *UserRepository) List(ctx context.Context, skip, limit int) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	out := []Profile{}
	prefix := []byte("user/")
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
				var user User
				if err := json.Unmarshal(val, &user); err != nil {
					return err
				}
				out = append(out, user.Profile())
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

// Update changes a user's email and/or password. Empty arguments leave
// the field untouched. The username itself is the record key and is
// immutable.
func (r *UserRepository) Update(ctx context.Context, username, email, password string) (User, error) {
	user, err := r.GetByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}
	if email != "" {
		user.Email = email
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		user.HashedPassword = hash
	}
	value, err := json.Marshal(user)
	if err != nil {
		return User{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(username), value)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Delete removes an account, or returns ErrNotFound.
func (r *UserRepository) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return txn.Delete(userKey(username))
	})
	if err != nil {
		return err
	}
	r.logger.Info().Str("username", username).Msg("user deleted")
	return nil
}

// Authenticate checks a username/password pair. Unknown usernames and
// wrong passwords both return ErrInvalidCredentials.
func (r *UserRepository) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := r.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
