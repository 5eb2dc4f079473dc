package guest_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ForgeVTT/many-level/guest"
	"github.com/ForgeVTT/many-level/host"
	"github.com/ForgeVTT/many-level/memstore"
	"github.com/ForgeVTT/many-level/store"
)

// harness wires a guest to a host over an in-process pipe. disconnect
// severs the transport; connect attaches a fresh one, as a reconnecting
// caller would.
type harness struct {
	db        *memstore.Store
	h         *host.Host
	g         *guest.Guest
	guestConn net.Conn
	serveDone chan struct{}
}

func newHarness(t *testing.T, guestOpts []guest.Option, hostOpts []host.Option) *harness {
	t.Helper()
	hr := &harness{db: memstore.New()}
	hr.h = host.NewHost(hr.db, hostOpts...)
	hr.g = guest.New(guestOpts...)
	hr.connect(t)
	t.Cleanup(func() {
		hr.g.Close()
		hr.guestConn.Close()
	})
	return hr
}

func (hr *harness) connect(t *testing.T) {
	t.Helper()
	gc, hc := net.Pipe()
	hr.guestConn = gc
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer hc.Close()
		hr.h.Serve(hc)
	}()
	hr.serveDone = done

	// After a disconnect the guest notices asynchronously; retry until the
	// previous attachment is released.
	require.Eventually(t, func() bool {
		return hr.g.AttachRPC(gc) == nil
	}, time.Second, time.Millisecond)
}

func (hr *harness) disconnect(t *testing.T) {
	t.Helper()
	hr.guestConn.Close()
	select {
	case <-hr.serveDone:
	case <-time.After(time.Second):
		t.Fatal("host serve did not stop")
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestPutGetDelete(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("a"), []byte("1")))

	value, err := hr.g.Get(c, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	require.NoError(t, hr.g.Delete(c, []byte("a")))

	_, err = hr.g.Get(c, []byte("a"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEmptyValueRoundTrip(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("k"), []byte{}))

	value, err := hr.g.Get(c, []byte("k"))
	require.NoError(t, err)
	require.NotNil(t, value, "empty value must round-trip as empty, not absent")
	require.Len(t, value, 0)
}

func TestBatchAndGetMany(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Batch(c, []store.Op{
		{Type: store.OpPut, Key: []byte("x"), Value: []byte("X")},
		{Type: store.OpPut, Key: []byte("y"), Value: []byte("Y")},
		{Type: store.OpDelete, Key: []byte("x")},
	}))

	values, err := hr.g.GetMany(c, [][]byte{[]byte("x"), []byte("y")})
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Nil(t, values[0])
	require.Equal(t, []byte("Y"), values[1])
}

func TestClear(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, hr.g.Put(c, []byte(k), []byte(k)))
	}
	require.NoError(t, hr.g.Clear(c, store.Range{Gte: []byte("b"), Lt: []byte("d")}))

	values, err := hr.g.GetMany(c, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)
	require.NotNil(t, values[0])
	require.Nil(t, values[1])
	require.Nil(t, values[2])
	require.NotNil(t, values[3])
}

func TestHostErrorPassthrough(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	// A closed backing store makes every host operation fail; the error code
	// travels back inside the reply frame.
	require.NoError(t, hr.db.Close())

	err := hr.g.Put(c, []byte("k"), []byte("v"))
	var coded *guest.Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, store.ErrClosed.Error(), coded.Code)
}

func TestDisconnectAbortsPending(t *testing.T) {
	release := make(chan struct{})
	db := &slowStore{Store: memstore.New(), gate: release}
	h := host.NewHost(db)
	defer close(release)

	var mu sync.Mutex
	flushes := 0
	g := guest.New(guest.WithOnFlush(func() {
		mu.Lock()
		flushes++
		mu.Unlock()
	}))

	gc, hc := net.Pipe()
	go h.Serve(hc)
	require.NoError(t, g.AttachRPC(gc))
	defer g.Close()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Get(context.Background(), []byte("k"))
		}(i)
	}

	// Let all three requests register before severing the transport.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return db.calls() >= 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	gc.Close()
	hc.Close()

	wg.Wait()
	for _, err := range errs {
		require.ErrorIs(t, err, guest.ErrConnectionLost)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushes == 1
	}, time.Second, time.Millisecond)
}

// slowStore blocks reads until the gate opens, keeping requests in flight.
type slowStore struct {
	store.Store
	gate  <-chan struct{}
	mu    sync.Mutex
	reads int
}

func (s *slowStore) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	<-s.gate
	return s.Store.Get(key)
}

func (s *slowStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestRetryReplaysPendingRequests(t *testing.T) {
	hr := newHarness(t, []guest.Option{guest.WithRetry()}, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("before"), []byte("1")))
	hr.disconnect(t)

	// Issue a request while detached; it stays pending.
	done := make(chan error, 1)
	go func() {
		done <- hr.g.Put(c, []byte("during"), []byte("2"))
	}()
	select {
	case err := <-done:
		t.Fatalf("put resolved while detached: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	hr.connect(t)
	require.NoError(t, <-done)

	value, err := hr.g.Get(c, []byte("during"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)
}

func TestCloseIdempotent(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("a"), []byte("1")))
	require.NoError(t, hr.g.Close())
	require.NoError(t, hr.g.Close())

	_, err := hr.g.Get(c, []byte("a"))
	require.ErrorIs(t, err, guest.ErrDatabaseNotOpen)
}

func TestAttachAfterCloseRejected(t *testing.T) {
	g := guest.New()
	require.NoError(t, g.Close())

	gc, _ := net.Pipe()
	defer gc.Close()
	require.ErrorIs(t, g.AttachRPC(gc), guest.ErrNotSupported)
}

func TestSingleStream(t *testing.T) {
	hr := newHarness(t, nil, nil)

	gc, _ := net.Pipe()
	defer gc.Close()
	require.ErrorIs(t, hr.g.AttachRPC(gc), guest.ErrSingleStream)
}

func TestCloseAbortsPendingIterator(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("a"), []byte("1")))

	it := hr.g.Iterator(store.IterOptions{Keys: true, Values: true})
	entry, err := it.Next(c)
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.NoError(t, hr.g.Close())
	_, err = it.Next(c)
	require.ErrorIs(t, err, guest.ErrDatabaseNotOpen)
}

type countingRef struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (r *countingRef) Acquire() {
	r.mu.Lock()
	r.acquires++
	r.mu.Unlock()
}

func (r *countingRef) Release() {
	r.mu.Lock()
	r.releases++
	r.mu.Unlock()
}

func (r *countingRef) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquires, r.releases
}

func TestKeepaliveRef(t *testing.T) {
	ref := &countingRef{}
	hr := newHarness(t, []guest.Option{guest.WithRef(ref)}, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("a"), []byte("1")))
	acquires, releases := ref.counts()
	require.Equal(t, 1, acquires)
	require.Equal(t, 1, releases)

	// A second burst of work pairs a fresh acquire with a fresh release.
	_, err := hr.g.Get(c, []byte("a"))
	require.NoError(t, err)
	acquires, releases = ref.counts()
	require.Equal(t, 2, acquires)
	require.Equal(t, 2, releases)
}

func TestFlushFiresOncePerTransition(t *testing.T) {
	var mu sync.Mutex
	flushes := 0
	hr := newHarness(t, []guest.Option{guest.WithOnFlush(func() {
		mu.Lock()
		flushes++
		mu.Unlock()
	})}, nil)
	c := ctx(t)

	require.NoError(t, hr.g.Put(c, []byte("a"), []byte("1")))
	mu.Lock()
	require.Equal(t, 1, flushes)
	mu.Unlock()

	it := hr.g.Iterator(store.IterOptions{Keys: true})
	_, err := it.Next(c)
	require.NoError(t, err)
	require.NoError(t, it.Close())

	mu.Lock()
	require.Equal(t, 2, flushes)
	mu.Unlock()
}

func TestForward(t *testing.T) {
	local := memstore.New()
	g := guest.New()
	defer g.Close()

	require.ErrorIs(t, g.Forward(nil), guest.ErrEncodingNotSupported)
	require.NoError(t, g.Forward(local))

	c := ctx(t)
	require.NoError(t, g.Put(c, []byte("k"), []byte("v")))

	// The write went straight to the local store, no transport involved.
	value, err := local.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	value, err = g.Get(c, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	it := g.Iterator(store.IterOptions{Keys: true, Values: true})
	entry, err := it.Next(c)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), entry.Key)
	require.NoError(t, it.Close())
}

func TestConcurrentOperations(t *testing.T) {
	hr := newHarness(t, nil, nil)
	c := ctx(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte{byte('a' + i)}
			require.NoError(t, hr.g.Put(c, key, key))
			value, err := hr.g.Get(c, key)
			require.NoError(t, err)
			require.Equal(t, key, value)
		}(i)
	}
	wg.Wait()
}
