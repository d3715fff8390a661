// Package store implements the credential persistence layer: a small
// key/value abstraction backed by an embedded ordered byte-map, plus the
// credential-store façade the dispatcher calls.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// Sentinel errors for KV operations.
var (
	// ErrNamespaceNotFound indicates a namespace was referenced before
	// being opened.
	ErrNamespaceNotFound = errors.New("kv namespace not found")

	// ErrKeyNotFound indicates a Get found no value for the given key.
	ErrKeyNotFound = errors.New("kv key not found")
)

// Namespace is a single named key/value bucket: usernames to passwords,
// usernames to user ids, or the meta counters bucket.
type Namespace struct {
	db   *bbolt.DB
	name []byte
}

// PutBytes stores value under key, overwriting any existing value.
func (n Namespace) PutBytes(key, value []byte) error {
	err := n.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(n.name)
		return b.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("put bytes into %q: %w", n.name, err)
	}
	return nil
}

// GetBytes retrieves the value stored under key. found is false if the key
// does not exist; the returned slice is a copy safe to retain after the
// call returns.
func (n Namespace) GetBytes(key []byte) (value []byte, found bool, err error) {
	err = n.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(n.name)
		v := b.Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get bytes from %q: %w", n.name, err)
	}
	return value, found, nil
}

// PutInt stores a fixed-width integer under key, in network byte order.
// Network byte order (rather than host-native layout) makes the on-disk
// bytes independent of the host's endianness, at no cost, since the value
// is only ever round-tripped through GetInt on the same or a compatible
// host.
func (n Namespace) PutInt(key []byte, value int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(value))
	return n.PutBytes(key, buf[:])
}

// GetInt retrieves a fixed-width integer stored under key.
func (n Namespace) GetInt(key []byte) (value int32, found bool, err error) {
	raw, found, err := n.GetBytes(key)
	if err != nil || !found {
		return 0, found, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("get int from %q: stored value is %d bytes, want 4", n.name, len(raw))
	}
	return int32(binary.BigEndian.Uint32(raw)), true, nil
}

// InitPK returns the persisted value of pkName if present; otherwise it
// stores initial under pkName and returns it unchanged. Used once at
// server startup to seed a monotonic counter.
func (n Namespace) InitPK(pkName []byte, initial int32) (int32, error) {
	existing, found, err := n.GetInt(pkName)
	if err != nil {
		return 0, fmt.Errorf("init pk %q: %w", pkName, err)
	}
	if found {
		return existing, nil
	}
	if err := n.PutInt(pkName, initial); err != nil {
		return 0, fmt.Errorf("init pk %q: %w", pkName, err)
	}
	return initial, nil
}

// ForEach invokes fn for every key/value pair in the namespace. fn must not
// retain the slices it receives past the call.
func (n Namespace) ForEach(fn func(key, value []byte) error) error {
	err := n.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(n.name)
		return b.ForEach(fn)
	})
	if err != nil {
		return fmt.Errorf("iterate %q: %w", n.name, err)
	}
	return nil
}

// DB is an embedded ordered byte-map opened from a single file on disk,
// holding one or more namespaces. The concrete engine is bbolt
// (go.etcd.io/bbolt); callers only depend on the Namespace operations above,
// so any embedded KV engine with bucket semantics would serve equally well.
type DB struct {
	bolt *bbolt.DB
}

// OpenDB opens or creates a bbolt database file at path.
func OpenDB(path string) (*DB, error) {
	bolt, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	return &DB{bolt: bolt}, nil
}

// Close releases the underlying database file.
func (d *DB) Close() error {
	if err := d.bolt.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Namespace opens or creates the named bucket and returns a handle to it.
func (d *DB) Namespace(name string) (Namespace, error) {
	nb := []byte(name)
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nb)
		return err
	})
	if err != nil {
		return Namespace{}, fmt.Errorf("open namespace %q: %w", name, err)
	}
	return Namespace{db: d.bolt, name: nb}, nil
}
