package memstore

import (
	"sort"

	"github.com/ForgeVTT/many-level/store"
)

// iterator walks a sorted snapshot of the keys matching the range. keys are
// already in iteration order (descending when the range is reversed).
type iterator struct {
	opts      store.IterOptions
	keys      []string
	values    [][]byte
	pos       int
	remaining int
	err       error
	closed    bool
}

func (it *iterator) Next() (*store.Entry, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.closed || it.pos >= len(it.keys) {
		return nil, nil
	}
	if !it.opts.Unlimited() {
		if it.remaining == 0 {
			return nil, nil
		}
		it.remaining--
	}

	entry := &store.Entry{}
	if it.opts.Keys {
		entry.Key = []byte(it.keys[it.pos])
	}
	if it.opts.Values {
		entry.Value = it.values[it.pos]
	}
	it.pos++
	return entry, nil
}

func (it *iterator) Seek(target []byte) {
	if it.err != nil || it.closed {
		return
	}
	t := string(target)
	if !it.opts.Reverse {
		// First snapshot key >= target.
		it.pos = sort.Search(len(it.keys), func(i int) bool { return it.keys[i] >= t })
		return
	}
	// Snapshot is descending: first key <= target.
	it.pos = sort.Search(len(it.keys), func(i int) bool { return it.keys[i] <= t })
}

func (it *iterator) Close() error {
	it.closed = true
	it.keys = nil
	it.values = nil
	return nil
}
