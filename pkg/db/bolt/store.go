// Package bolt binds the db contract to a bbolt (go.etcd.io/bbolt) file.
//
// Every tree is a top-level bucket. Bolt runs one read-write transaction at a
// time, so a merge executed inside a single Update is atomic without extra
// locking. Iteration copies the whole tree inside one read transaction before
// returning, because a long-lived read transaction would block the file from
// growing under concurrent writers.
package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

// FileName is the file created inside a base directory by OpenDir.
const FileName = "toboggan.bolt"

// Bolt rejects empty bucket names and empty keys, so both get a one-byte prefix.
const (
	bucketPrefix byte = 't'
	keyPrefix    byte = 0x00
)

var _ db.Store[*Tree] = (*Store)(nil)

type Options struct {
	// SyncWrites fsyncs every transaction. Otherwise writes become durable on Flush.
	SyncWrites bool
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{SyncWrites: true, Timeout: time.Second}
}

type Store struct {
	db    *bolt.DB
	path  string
	trees *treestate.Registry

	closed  bool
	mu      sync.RWMutex
	cleanup func() error
}

// Open opens or creates the bolt file at path.
func Open(path string, opts Options) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, db.NewBackendError("open", err)
	}
	bdb.NoSync = !opts.SyncWrites

	log.Storage.Debug().Str("engine", "bolt").Str("path", path).Bool("sync_writes", opts.SyncWrites).Msg("opened store")
	return &Store{db: bdb, path: path, trees: treestate.NewRegistry()}, nil
}

// OpenDir opens the store kept in FileName under basedir.
func OpenDir(basedir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(basedir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return Open(filepath.Join(basedir, FileName), opts)
}

// OpenTemp opens a store in a fresh temporary directory that is removed on Close.
func OpenTemp() (*Store, error) {
	dir, err := os.MkdirTemp("", "toboggan-bolt-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	s, err := OpenDir(dir, DefaultOptions())
	if err != nil {
		return nil, errors.Join(err, os.RemoveAll(dir))
	}
	s.cleanup = func() error { return os.RemoveAll(dir) }
	return s, nil
}

func (s *Store) OpenTree(name []byte) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, db.ErrClosed
	}

	shared, err := s.trees.Open(name, s.createBucket)
	if err != nil {
		return nil, err
	}
	return &Tree{store: s, shared: shared, bucket: bucketName(name)}, nil
}

// createBucket makes sure the tree's bucket exists. Buckets are addressed by
// name, so the returned id is unused.
func (s *Store) createBucket(name []byte) (keyspace.TreeID, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(name))
		return err
	})
	if err != nil {
		return 0, db.NewBackendError("open tree", err)
	}
	return 0, nil
}

// Close closes the file. Further calls return db.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := db.NewBackendError("close", s.db.Close())
	if s.cleanup != nil {
		err = errors.Join(err, s.cleanup())
	}
	log.Storage.Debug().Str("engine", "bolt").Str("path", s.path).Err(err).Msg("closed store")
	return err
}

func bucketName(name []byte) []byte {
	return prefixed(bucketPrefix, name)
}

func engineKey(key []byte) []byte {
	return prefixed(keyPrefix, key)
}

func prefixed(prefix byte, body []byte) []byte {
	b := make([]byte, 1+len(body))
	b[0] = prefix
	copy(b[1:], body)
	return b
}
