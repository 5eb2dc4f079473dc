// Package badgerstore adapts a BadgerDB database to the store.Store contract,
// giving hosts a persistent ordered backing store.
package badgerstore

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/ForgeVTT/many-level/store"
)

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) a badger database at path. An empty path
// selects an in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *Store) GetMany(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if value == nil {
				value = []byte{}
			}
			out[i] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *Store) Batch(ops []store.Op) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			switch op.Type {
			case store.OpPut:
				err = txn.Set(op.Key, op.Value)
			case store.OpDelete:
				err = txn.Delete(op.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Clear(r store.Range) error {
	// Collect first, then delete: badger disallows writes through a read
	// iterator's transaction view.
	var keys [][]byte
	it := s.Iterator(store.IterOptions{Range: r, Keys: true})
	defer it.Close()
	for {
		entry, err := it.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		keys = append(keys, entry.Key)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Iterator(opts store.IterOptions) store.Iterator {
	txn := s.db.NewTransaction(false)
	it := txn.NewIterator(badger.IteratorOptions{
		Reverse:        opts.Reverse,
		PrefetchValues: opts.Values,
		PrefetchSize:   100,
	})
	c := &iterator{txn: txn, it: it, opts: opts, remaining: opts.Limit}
	c.start()
	return c
}

func (s *Store) Close() error {
	return s.db.Close()
}
