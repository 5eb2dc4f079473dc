package badgerstore

import (
	badger "github.com/dgraph-io/badger/v3"

	"github.com/ForgeVTT/many-level/store"
)

// iterator walks a badger read transaction within the range bounds. Badger's
// own Seek semantics match the protocol's: first key at or past the target
// in the iteration direction.
type iterator struct {
	txn       *badger.Txn
	it        *badger.Iterator
	opts      store.IterOptions
	remaining int
	closed    bool
}

// start positions the cursor at the first key inside the range bounds.
func (c *iterator) start() {
	r := c.opts.Range
	if !r.Reverse {
		switch {
		case r.Gte != nil:
			c.it.Seek(r.Gte)
		case r.Gt != nil:
			c.it.Seek(r.Gt)
			c.skipBound(r.Gt)
		default:
			c.it.Rewind()
		}
		return
	}
	switch {
	case r.Lte != nil:
		c.it.Seek(r.Lte)
	case r.Lt != nil:
		c.it.Seek(r.Lt)
		c.skipBound(r.Lt)
	default:
		c.it.Rewind()
	}
}

// skipBound steps past the exclusive bound key when the seek landed on it.
func (c *iterator) skipBound(bound []byte) {
	if c.it.Valid() && string(c.it.Item().Key()) == string(bound) {
		c.it.Next()
	}
}

func (c *iterator) Next() (*store.Entry, error) {
	if c.closed {
		return nil, nil
	}
	if !c.opts.Unlimited() {
		if c.remaining == 0 {
			return nil, nil
		}
	}

	for c.it.Valid() {
		item := c.it.Item()
		key := item.KeyCopy(nil)
		if !c.opts.Contains(key) {
			// The exhausted side of the range; badger iterates one direction
			// only, so the scan is over.
			if c.boundCrossed(key) {
				return nil, nil
			}
			c.it.Next()
			continue
		}

		entry := &store.Entry{}
		if c.opts.Keys {
			entry.Key = key
		}
		if c.opts.Values {
			value, err := item.ValueCopy(nil)
			if err != nil {
				return nil, err
			}
			if value == nil {
				value = []byte{}
			}
			entry.Value = value
		}
		c.it.Next()
		if !c.opts.Unlimited() {
			c.remaining--
		}
		return entry, nil
	}
	return nil, nil
}

// boundCrossed reports whether key is past the terminal bound for the
// iteration direction, as opposed to merely before the starting bound.
func (c *iterator) boundCrossed(key []byte) bool {
	if c.opts.Reverse {
		return !c.opts.AboveLow(key)
	}
	return !c.opts.BelowHigh(key)
}

func (c *iterator) Seek(target []byte) {
	if c.closed {
		return
	}
	c.it.Seek(target)
}

func (c *iterator) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Close()
	c.txn.Discard()
	return nil
}
