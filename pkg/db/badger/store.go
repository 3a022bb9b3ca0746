// Package badger binds the db contract to a dgraph-io/badger database.
//
// Trees share one badger keyspace exactly like the pebble binding, each
// occupying the key range of its keyspace.TreeID. Merges are read-modify-write
// transactions serialised by the tree's writer lock, so badger never reports a
// conflict between two writers of the same process.
package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/eigerco/toboggan/internal/keyspace"
	"github.com/eigerco/toboggan/internal/treestate"
	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/log"
)

// DirName is the directory created inside a base directory by OpenDir.
const DirName = "toboggan.badger"

var _ db.Store[*Tree] = (*Store)(nil)

type Options struct {
	// SyncWrites syncs every commit. Otherwise writes become durable on Flush.
	SyncWrites bool
	// InMemory keeps everything in memory, the path is ignored.
	InMemory         bool
	MemTableSize     int64
	ValueLogFileSize int64
}

func DefaultOptions() Options {
	return Options{
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
	}
}

type Store struct {
	db       *badger.DB
	path     string
	inMemory bool
	trees    *treestate.Registry

	// dropMu serialises DropPrefix calls, badger refuses overlapping ones.
	dropMu sync.Mutex

	closed  bool
	mu      sync.RWMutex
	cleanup func() error
}

func Open(path string, opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(path).
		WithSyncWrites(opts.SyncWrites).
		WithInMemory(opts.InMemory).
		WithNumVersionsToKeep(1).
		WithLogger(engineLogger{log: log.Storage})
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}
	if opts.MemTableSize > 0 {
		badgerOpts = badgerOpts.WithMemTableSize(opts.MemTableSize)
	}
	if opts.ValueLogFileSize > 0 {
		badgerOpts = badgerOpts.WithValueLogFileSize(opts.ValueLogFileSize)
	}

	bdb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, db.NewBackendError("open", err)
	}

	log.Storage.Debug().Str("engine", "badger").Str("path", path).Bool("in_memory", opts.InMemory).Msg("opened store")
	return &Store{
		db:       bdb,
		path:     path,
		inMemory: opts.InMemory,
		trees:    treestate.NewRegistry(),
	}, nil
}

// OpenDir opens the store kept in DirName under basedir.
func OpenDir(basedir string, opts Options) (*Store, error) {
	return Open(filepath.Join(basedir, DirName), opts)
}

// OpenTemp opens a store in a fresh temporary directory that is removed on Close.
func OpenTemp() (*Store, error) {
	dir, err := os.MkdirTemp("", "toboggan-badger-*")
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

// OpenInMemory opens a transient badger store.
func OpenInMemory() (*Store, error) {
	opts := DefaultOptions()
	opts.InMemory = true
	return Open("", opts)
}

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
// next free id in the same transaction if the name is new.
func (s *Store) assignTreeID(name []byte) (keyspace.TreeID, error) {
	var id keyspace.TreeID
	err := s.db.Update(func(txn *badger.Txn) error {
		stored, found, err := readID(txn, keyspace.TreeNameKey(name))
		if err != nil {
			return err
		}
		if found {
			id = stored
			return nil
		}

		next, _, err := readID(txn, keyspace.NextTreeIDKey())
		if err != nil {
			return err
		}
		if err := txn.Set(keyspace.TreeNameKey(name), keyspace.EncodeTreeID(next)); err != nil {
			return err
		}
		if err := txn.Set(keyspace.NextTreeIDKey(), keyspace.EncodeTreeID(next+1)); err != nil {
			return err
		}
		id = next
		log.Storage.Debug().Str("engine", "badger").Bytes("tree", name).Uint64("id", uint64(next)).Msg("created tree")
		return nil
	})
	if err != nil {
		return 0, db.NewBackendError("open tree", err)
	}
	return id, nil
}

func readID(txn *badger.Txn, key []byte) (keyspace.TreeID, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	id, err := keyspace.DecodeTreeID(value)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Close closes the database. Further calls return db.ErrClosed.
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
	log.Storage.Debug().Str("engine", "badger").Str("path", s.path).Err(err).Msg("closed store")
	return err
}
