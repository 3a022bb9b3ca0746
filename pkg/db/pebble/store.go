// Package pebble binds the db contract to a cockroachdb/pebble database.
//
// All trees of a store share one pebble keyspace, each occupying the key range
// of its keyspace.TreeID. Merge is emulated with a read-modify-write under the
// tree's writer lock because pebble's native Merger is configured per database
// and cannot delete keys. Values returned by Get and iterators are copies and
// remain valid after later writes.
package pebble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

// DirName is the directory created inside a base directory by OpenDir.
const DirName = "toboggan.pebble"

var _ db.Store[*Tree] = (*Store)(nil)

// Options tune the underlying pebble database.
type Options struct {
	// SyncWrites syncs the WAL on every write. Otherwise writes become durable
	// on Flush.
	SyncWrites   bool
	CacheSize    int64
	MemTableSize uint64
	// FS overrides the filesystem, e.g. vfs.NewMem() for tests.
	FS vfs.FS
}

func DefaultOptions() Options {
	return Options{
		CacheSize:    64 * 1024 * 1024, // 64MB
		MemTableSize: 32 * 1024 * 1024, // 32MB
	}
}

type Store struct {
	db        *pebble.DB
	path      string
	writeOpts *pebble.WriteOptions
	trees     *treestate.Registry

	closed  bool
	mu      sync.RWMutex
	cleanup func() error
}

// Open opens or creates a pebble database at path.
func Open(path string, opts Options) (*Store, error) {
	pebbleOpts := &pebble.Options{
		MemTableSize: opts.MemTableSize,
		FS:           opts.FS,
		Logger:       engineLogger{log: log.Storage},
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		pebbleOpts.Cache = cache
	}

	pdb, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, db.NewBackendError("open", err)
	}

	writeOpts := pebble.NoSync
	if opts.SyncWrites {
		writeOpts = pebble.Sync
	}

	log.Storage.Debug().Str("engine", "pebble").Str("path", path).Bool("sync_writes", opts.SyncWrites).Msg("opened store")
	return &Store{
		db:        pdb,
		path:      path,
		writeOpts: writeOpts,
		trees:     treestate.NewRegistry(),
	}, nil
}

// OpenDir opens the store kept in DirName under basedir.
func OpenDir(basedir string, opts Options) (*Store, error) {
	return Open(filepath.Join(basedir, DirName), opts)
}

// OpenTemp opens a store in a fresh temporary directory that is removed on Close.
func OpenTemp() (*Store, error) {
	dir, err := os.MkdirTemp("", "toboggan-pebble-*")
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

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	opts := DefaultOptions()
	opts.FS = vfs.NewMem()
	return Open("toboggan", opts)
}

// OpenTree returns the tree named name, registering it on first use.
func (s *Store) OpenTree(name []byte) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, db.ErrClosed
	}

	shared, err := s.trees.Open(name, s.assignTreeID)
	if err != nil {
		return nil, err
	}
	return &Tree{store: s, shared: shared}, nil
}

// assignTreeID resolves the persistent id of the named tree, allocating the
// next free id if the name has never been seen. Callers hold the registry lock.
func (s *Store) assignTreeID(name []byte) (keyspace.TreeID, error) {
	id, found, err := s.lookupID(keyspace.TreeNameKey(name))
	if err != nil {
		return 0, fmt.Errorf(ErrTreeIDLookup, name, err)
	}
	if found {
		return id, nil
	}

	id, _, err = s.lookupID(keyspace.NextTreeIDKey())
	if err != nil {
		return 0, fmt.Errorf(ErrTreeIDAssignment, name, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck // the batch is committed or discarded

	if err := batch.Set(keyspace.TreeNameKey(name), keyspace.EncodeTreeID(id), nil); err != nil {
		return 0, fmt.Errorf(ErrTreeIDAssignment, name, db.NewBackendError("open tree", err))
	}
	if err := batch.Set(keyspace.NextTreeIDKey(), keyspace.EncodeTreeID(id+1), nil); err != nil {
		return 0, fmt.Errorf(ErrTreeIDAssignment, name, db.NewBackendError("open tree", err))
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf(ErrTreeIDAssignment, name, db.NewBackendError("open tree", err))
	}

	log.Storage.Debug().Str("engine", "pebble").Bytes("tree", name).Uint64("id", uint64(id)).Msg("created tree")
	return id, nil
}

func (s *Store) lookupID(key []byte) (keyspace.TreeID, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, db.NewBackendError("open tree", err)
	}
	defer closer.Close() //nolint:errcheck // closing releases the read buffer only

	id, err := keyspace.DecodeTreeID(value)
	if err != nil {
		return 0, false, db.NewBackendError("open tree", err)
	}
	return id, true, nil
}

// Close closes the database. Further calls on the store or its trees return
// db.ErrClosed. Closing twice is not an error.
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
	log.Storage.Debug().Str("engine", "pebble").Str("path", s.path).Err(err).Msg("closed store")
	return err
}
