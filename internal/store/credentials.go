package store

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Namespace names: username->password, username->user_id, and the meta
// counters bucket.
const (
	userDBName  = "user_db"
	indexDBName = "index_db"
	metaDBName  = "meta_db"
)

// userPKKey is the meta_db key holding the next user id to allocate.
var userPKKey = []byte("USER_PK")

// Sentinel errors surfaced to the dispatcher.
var (
	// ErrUserNotFound indicates no user_db entry exists for a username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists indicates a user_db entry already exists for a username.
	ErrUserExists = errors.New("user already exists")
)

// Credentials is the credential-store façade the dispatcher calls: it owns
// the three namespaces and the in-memory next_user_id counter, and presents
// typed operations instead of raw KV calls.
type Credentials struct {
	db      *DB
	users   Namespace
	index   Namespace
	meta    Namespace
	nextUID uint16
}

// Open opens the bbolt file at path and computes next_user_id from
// max(persisted(USER_PK), 1 + max(index_db values)). This recovers
// correctly even if a previous process crashed between allocating a user
// id and persisting the counter.
func Open(path string) (*Credentials, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	users, err := db.Namespace(userDBName)
	if err != nil {
		return nil, err
	}
	index, err := db.Namespace(indexDBName)
	if err != nil {
		return nil, err
	}
	meta, err := db.Namespace(metaDBName)
	if err != nil {
		return nil, err
	}

	c := &Credentials{db: db, users: users, index: index, meta: meta}

	if err := c.recoverNextUID(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Credentials) recoverNextUID() error {
	persisted, _, err := c.meta.GetInt(userPKKey)
	if err != nil {
		return fmt.Errorf("recover next user id: %w", err)
	}

	maxIndexed := int32(0)
	err = c.index.ForEach(func(_, value []byte) error {
		if len(value) != 2 {
			return fmt.Errorf("index_db value is %d bytes, want 2", len(value))
		}
		id := int32(binary.BigEndian.Uint16(value))
		if id >= maxIndexed {
			maxIndexed = id + 1
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover next user id: scan index_db: %w", err)
	}

	next := persisted
	if maxIndexed > next {
		next = maxIndexed
	}
	if next < 1 {
		next = 1
	}

	c.nextUID = uint16(next)

	return nil
}

// DB returns the underlying key/value database, for callers (and tests)
// that need to bypass the credential-specific counter flush in Close.
func (c *Credentials) DB() *DB {
	return c.db
}

// Close flushes next_user_id and releases the underlying file.
func (c *Credentials) Close() error {
	if err := c.PersistCounters(); err != nil {
		return err
	}
	return c.db.Close()
}

// GetPassword returns the password stored for username.
func (c *Credentials) GetPassword(username []byte) (password []byte, found bool, err error) {
	return c.users.GetBytes(username)
}

// GetUserID returns the persisted user id for username.
func (c *Credentials) GetUserID(username []byte) (userID uint16, found bool, err error) {
	raw, found, err := c.index.GetBytes(username)
	if err != nil || !found {
		return 0, found, err
	}
	if len(raw) != 2 {
		return 0, false, fmt.Errorf("index_db entry for %q is %d bytes, want 2", username, len(raw))
	}
	return binary.BigEndian.Uint16(raw), true, nil
}

// PutUser allocates the next user id and records the username->password
// and username->id mappings, in two separate write transactions; the
// in-memory counter advances only after both succeed. Callers (the dispatcher)
// are responsible for first checking GetPassword to reject duplicates with
// EC_USER_EXISTS — PutUser itself does not re-check, since the dispatcher
// already holds that answer from the same single-threaded iteration.
func (c *Credentials) PutUser(username, password []byte) (userID uint16, err error) {
	uid := c.nextUID

	if err := c.users.PutBytes(username, password); err != nil {
		return 0, fmt.Errorf("put user: %w", err)
	}

	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], uid)
	if err := c.index.PutBytes(username, idBuf[:]); err != nil {
		return 0, fmt.Errorf("put user: %w", err)
	}

	c.nextUID++

	return uid, nil
}

// SetPassword overwrites the stored password for an existing username.
func (c *Credentials) SetPassword(username, newPassword []byte) error {
	_, found, err := c.users.GetBytes(username)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if !found {
		return fmt.Errorf("set password for %q: %w", username, ErrUserNotFound)
	}
	if err := c.users.PutBytes(username, newPassword); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// ListUsernames returns every username stored in user_db, in bucket
// iteration order. Intended for offline administration (gochatctl), not the
// hot dispatch path.
func (c *Credentials) ListUsernames() ([]string, error) {
	var names []string
	err := c.users.ForEach(func(key, _ []byte) error {
		names = append(names, string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w", err)
	}
	return names, nil
}

// PersistCounters flushes next_user_id to meta_db. Called on every
// diagnostic tick and on clean shutdown, so a crash between ticks loses at
// most the allocations made since the last flush, not the counter itself.
func (c *Credentials) PersistCounters() error {
	if err := c.meta.PutInt(userPKKey, int32(c.nextUID)); err != nil {
		return fmt.Errorf("persist counters: %w", err)
	}
	return nil
}

// NextUserID returns the in-memory next_user_id counter, for diagnostics
// and tests.
func (c *Credentials) NextUserID() uint16 {
	return c.nextUID
}
