package memstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ForgeVTT/many-level/memstore"
	"github.com/ForgeVTT/many-level/store"
	"github.com/ForgeVTT/many-level/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memstore.New()
	})
}

func TestIteratorSnapshot(t *testing.T) {
	s := memstore.New()
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	it := s.Iterator(store.IterOptions{Keys: true, Values: true})
	defer it.Close()

	// Writes after the cursor opened are invisible to it.
	require.NoError(t, s.Put([]byte("c"), []byte("3")))
	require.NoError(t, s.Delete([]byte("b")))

	var keys []string
	for {
		entry, err := it.Next()
		require.NoError(t, err)
		if entry == nil {
			break
		}
		keys = append(keys, string(entry.Key))
	}
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestClosedStore(t *testing.T) {
	s := memstore.New()
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Close())

	_, err := s.Get([]byte("a"))
	require.ErrorIs(t, err, store.ErrClosed)
	require.ErrorIs(t, s.Put([]byte("b"), []byte("2")), store.ErrClosed)

	it := s.Iterator(store.IterOptions{Keys: true})
	_, err = it.Next()
	require.ErrorIs(t, err, store.ErrClosed)
}

func TestValueIsolation(t *testing.T) {
	s := memstore.New()
	defer s.Close()

	value := []byte("mutable")
	require.NoError(t, s.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)

	// Mutating the returned slice must not corrupt the stored copy.
	got[0] = 'Y'
	again, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), again)
}
