// Package memstore is a sorted in-memory store.Store. It backs tests, the
// guest's forwarding mode, and the CLI's default serve mode. Iterators read a
// snapshot taken when the cursor opens; later writes are not visible to it.
package memstore

import (
	"sort"
	"sync"

	"github.com/ForgeVTT/many-level/store"
)

// Store is the map-backed implementation.
type Store struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{items: make(map[string][]byte)}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	v, ok := s.items[string(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBytes(v), nil
}

func (s *Store) GetMany(keys [][]byte) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := s.items[string(key)]; ok {
			out[i] = cloneBytes(v)
		}
	}
	return out, nil
}

func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.items[string(key)] = cloneBytes(value)
	return nil
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	delete(s.items, string(key))
	return nil
}

func (s *Store) Batch(ops []store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	for _, op := range ops {
		switch op.Type {
		case store.OpPut:
			s.items[string(op.Key)] = cloneBytes(op.Value)
		case store.OpDelete:
			delete(s.items, string(op.Key))
		}
	}
	return nil
}

func (s *Store) Clear(r store.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	for _, key := range s.rangeKeys(r) {
		delete(s.items, key)
	}
	return nil
}

func (s *Store) Iterator(opts store.IterOptions) store.Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := &iterator{opts: opts}
	if s.closed {
		it.err = store.ErrClosed
		return it
	}

	// Limit is enforced by the cursor, not the snapshot, so a seek can still
	// reach keys past the first Limit entries of the range.
	unlimited := opts.Range
	unlimited.Limit = 0
	for _, key := range s.rangeKeys(unlimited) {
		it.keys = append(it.keys, key)
		it.values = append(it.values, cloneBytes(s.items[key]))
	}
	it.remaining = opts.Limit
	return it
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.items = nil
	return nil
}

// rangeKeys returns the keys matching r in iteration order, capped by limit.
// Callers hold s.mu.
func (s *Store) rangeKeys(r store.Range) []string {
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		if r.Contains([]byte(key)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if r.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if !r.Unlimited() && len(keys) > r.Limit {
		keys = keys[:r.Limit]
	}
	return keys
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
