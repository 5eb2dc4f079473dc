// Package storetest is a conformance suite for store.Store implementations.
// Every backing store the host can run on is expected to pass it unchanged.
package storetest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ForgeVTT/many-level/store"
)

// Run exercises the Store contract against a fresh store from open. The
// store is closed at the end of each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("PutGetDelete", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put([]byte("a"), []byte("1")))
		value, err := s.Get([]byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), value)

		require.NoError(t, s.Delete([]byte("a")))
		_, err = s.Get([]byte("a"))
		require.ErrorIs(t, err, store.ErrNotFound)

		// Deleting a missing key is not an error.
		require.NoError(t, s.Delete([]byte("missing")))
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put([]byte("empty"), []byte{}))
		value, err := s.Get([]byte("empty"))
		require.NoError(t, err)
		require.NotNil(t, value)
		require.Len(t, value, 0)
	})

	t.Run("GetMany", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put([]byte("x"), []byte("X")))
		require.NoError(t, s.Put([]byte("y"), []byte("Y")))

		values, err := s.GetMany([][]byte{[]byte("x"), []byte("missing"), []byte("y")})
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("X"), nil, []byte("Y")}, values)
	})

	t.Run("Batch", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Batch([]store.Op{
			{Type: store.OpPut, Key: []byte("x"), Value: []byte("X")},
			{Type: store.OpPut, Key: []byte("y"), Value: []byte("Y")},
			{Type: store.OpDelete, Key: []byte("x")},
		}))

		values, err := s.GetMany([][]byte{[]byte("x"), []byte("y")})
		require.NoError(t, err)
		require.Nil(t, values[0])
		require.Equal(t, []byte("Y"), values[1])
	})

	t.Run("IteratorRange", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c", "d", "e")

		requireKeys(t, s, store.Range{Gte: []byte("b"), Lt: []byte("e")}, "b", "c", "d")
		requireKeys(t, s, store.Range{Gt: []byte("b"), Lte: []byte("d")}, "c", "d")
		requireKeys(t, s, store.Range{}, "a", "b", "c", "d", "e")
	})

	t.Run("IteratorReverse", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c")

		requireKeys(t, s, store.Range{Reverse: true}, "c", "b", "a")
		requireKeys(t, s, store.Range{Reverse: true, Lt: []byte("c")}, "b", "a")
	})

	t.Run("IteratorLimit", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c", "d")

		requireKeys(t, s, store.Range{Limit: 2}, "a", "b")
		requireKeys(t, s, store.Range{Reverse: true, Limit: 3}, "d", "c", "b")
	})

	t.Run("IteratorSeek", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c", "d", "e")

		it := s.Iterator(store.IterOptions{Keys: true})
		defer it.Close()

		entry, err := it.Next()
		require.NoError(t, err)
		require.Equal(t, []byte("a"), entry.Key)

		it.Seek([]byte("d"))
		entry, err = it.Next()
		require.NoError(t, err)
		require.Equal(t, []byte("d"), entry.Key)

		// Seek between keys lands on the next one in order.
		it.Seek([]byte("bb"))
		entry, err = it.Next()
		require.NoError(t, err)
		require.Equal(t, []byte("c"), entry.Key)
	})

	t.Run("IteratorValuesOnly", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b")

		it := s.Iterator(store.IterOptions{Values: true})
		defer it.Close()

		entry, err := it.Next()
		require.NoError(t, err)
		require.Nil(t, entry.Key)
		require.Equal(t, []byte("value-a"), entry.Value)
	})

	t.Run("Clear", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c", "d")

		require.NoError(t, s.Clear(store.Range{Gte: []byte("b"), Lte: []byte("c")}))
		requireKeys(t, s, store.Range{}, "a", "d")

		require.NoError(t, s.Clear(store.Range{}))
		requireKeys(t, s, store.Range{})
	})

	t.Run("ClearLimit", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		seed(t, s, "a", "b", "c", "d")

		// A limited clear removes the first entries in iteration order.
		require.NoError(t, s.Clear(store.Range{Limit: 2}))
		requireKeys(t, s, store.Range{}, "c", "d")

		require.NoError(t, s.Clear(store.Range{Reverse: true, Limit: 1}))
		requireKeys(t, s, store.Range{}, "c")
	})
}

// seed puts each key with value "value-<key>".
func seed(t *testing.T, s store.Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, s.Put([]byte(key), []byte(fmt.Sprintf("value-%s", key))))
	}
}

// requireKeys drains an iterator over r and compares the yielded keys.
func requireKeys(t *testing.T, s store.Store, r store.Range, expected ...string) {
	t.Helper()
	it := s.Iterator(store.IterOptions{Range: r, Keys: true, Values: true})
	defer it.Close()

	var got []string
	for {
		entry, err := it.Next()
		require.NoError(t, err)
		if entry == nil {
			break
		}
		got = append(got, string(entry.Key))
		require.Equal(t, []byte(fmt.Sprintf("value-%s", entry.Key)), entry.Value)
	}
	require.Equal(t, expected, got)
}
