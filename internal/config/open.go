package config

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/toboggan/pkg/db"
	"github.com/eigerco/toboggan/pkg/db/badger"
	"github.com/eigerco/toboggan/pkg/db/bolt"
	"github.com/eigerco/toboggan/pkg/db/instrumented"
	"github.com/eigerco/toboggan/pkg/db/memory"
	"github.com/eigerco/toboggan/pkg/db/pebble"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore opens the configured backend. This is the only place where the
// concrete tree type is erased. When metrics are enabled the store is
// instrumented and its collectors registered with reg.
func OpenStore(cfg Config, reg prometheus.Registerer) (db.Store[db.Tree], io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case BackendMemory:
		return finish[*memory.Tree](cfg, memory.NewStore(), nopCloser{}, reg)
	case BackendPebble:
		opts := pebble.DefaultOptions()
		opts.SyncWrites = cfg.SyncWrites
		s, err := pebble.OpenDir(cfg.Path, opts)
		if err != nil {
			return nil, nil, err
		}
		return finish[*pebble.Tree](cfg, s, s, reg)
	case BackendBolt:
		opts := bolt.DefaultOptions()
		opts.SyncWrites = cfg.SyncWrites
		s, err := bolt.OpenDir(cfg.Path, opts)
		if err != nil {
			return nil, nil, err
		}
		return finish[*bolt.Tree](cfg, s, s, reg)
	case BackendBadger:
		opts := badger.DefaultOptions()
		opts.SyncWrites = cfg.SyncWrites
		s, err := badger.OpenDir(cfg.Path, opts)
		if err != nil {
			return nil, nil, err
		}
		return finish[*badger.Tree](cfg, s, s, reg)
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

func finish[T db.Tree](cfg Config, s db.Store[T], closer io.Closer, reg prometheus.Registerer) (db.Store[db.Tree], io.Closer, error) {
	if !cfg.Metrics {
		return db.Erase(s), closer, nil
	}
	wrapped, err := instrumented.Wrap(s, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	return db.Erase[*instrumented.Tree[T]](wrapped), closer, nil
}
