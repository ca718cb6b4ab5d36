package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces snapshot blobs inside the BadgerDB keyspace.
const keyPrefix = "snapshot/"

// BadgerStore is a persistent snapshot store backed by BadgerDB.
//
// Snapshots survive process restarts; a BadgerStore opened on the same
// directory sees everything previously saved there. Only one process can hold
// a given directory open at a time (Badger uses a file lock).
//
// Example:
//
//	store, err := snapshot.NewBadgerStore("./data/snapshots")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.Save(ctx, "context-index", blob)
type BadgerStore struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// NewBadgerStore opens or creates a BadgerDB-backed store at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger's default logger is too chatty for a library

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory opens a Badger-backed store that keeps everything
// in memory. Useful for tests that want the Badger codepath without disk.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func snapshotKey(name string) []byte {
	return []byte(keyPrefix + name)
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(name), data)
	})
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %s: %w", name, err)
	}
	return data, nil
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	return names, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
