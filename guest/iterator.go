package guest

import (
	"context"
	"sync"

	"github.com/ForgeVTT/many-level/internal/message"
	"github.com/ForgeVTT/many-level/store"
)

// Iterator is the caller-facing handle of a streamed range scan. Batches of
// entries arrive from the host under credit-based flow control: the handle
// acknowledges each drained batch and the host sends the next one.
//
// With retry enabled the handle additionally tracks a bookmark (the last key
// it yielded) so a reattached transport resumes the scan strictly after it.
// Bookmarks need keys on the wire, so retry-mode iterators always request
// them and strip the key before yielding if the caller did not ask for it.
type Iterator struct {
	g          *Guest
	id         uint32
	opts       store.IterOptions
	wireKeys   bool
	wireValues bool
	local      store.Iterator

	mu          sync.Mutex
	seq         uint32
	consumed    int
	bookmark    []byte
	pendingSeek []byte
	batches     [][][]byte
	ended       bool
	failed      error
	waiter      chan struct{}
	closed      bool
}

// Iterator opens a range scan with the given options. On the RPC path the
// open frame is sent immediately; entries stream in as the host produces
// them. In forwarding mode the scan runs against the forwarded store.
func (g *Guest) Iterator(opts store.IterOptions) *Iterator {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return &Iterator{failed: ErrDatabaseNotOpen, opts: opts}
	}
	if g.forwarded != nil {
		local := g.forwarded.Iterator(opts)
		g.mu.Unlock()
		return &Iterator{local: local, opts: opts}
	}

	id := g.itIDs.Next(func(id uint32) bool {
		_, ok := g.iterators[id]
		return ok
	})
	it := &Iterator{
		g:          g,
		id:         id,
		opts:       opts,
		wireKeys:   opts.Keys || g.opts.retry,
		wireValues: opts.Values,
	}
	g.iterators[id] = it
	note := g.trackLocked()
	g.mu.Unlock()

	if note != nil {
		note()
	}
	g.writeFrame(message.EncodeInput(&message.Iterator{
		ID:      it.id,
		Options: it.wireOptions(),
		Seq:     0,
	}))
	return it
}

// Next returns the next entry, or nil when the scan is done. It blocks until
// a batch arrives, the scan ends or errors, or ctx is cancelled.
func (it *Iterator) Next(ctx context.Context) (*store.Entry, error) {
	if it.local != nil {
		return it.local.Next()
	}

	for {
		it.mu.Lock()
		if it.failed != nil {
			err := it.failed
			it.mu.Unlock()
			return nil, err
		}
		if it.closed || it.atLimitLocked() {
			it.mu.Unlock()
			return nil, nil
		}
		if len(it.batches) > 0 {
			entry, ack, ok := it.takeLocked()
			seq, consumed := it.seq, it.consumed
			it.mu.Unlock()
			if !ok {
				continue
			}
			if ack {
				it.g.writeFrame(message.EncodeInput(&message.IteratorAck{
					ID:       it.id,
					Seq:      seq,
					Consumed: uint32(consumed),
				}))
			}
			return entry, nil
		}
		if it.ended {
			it.mu.Unlock()
			return nil, nil
		}

		w := make(chan struct{})
		it.waiter = w
		it.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			it.mu.Lock()
			if it.waiter == w {
				it.waiter = nil
			}
			it.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// Seek repositions the scan at target. The per-iterator seq is bumped so data
// frames already in flight from before the seek are discarded; the pending
// target survives a reconnect until the first post-seek entry is pulled.
func (it *Iterator) Seek(target []byte) {
	if it.local != nil {
		it.local.Seek(target)
		return
	}

	it.mu.Lock()
	if it.closed || it.failed != nil {
		it.mu.Unlock()
		return
	}
	it.batches = nil
	it.ended = false
	it.seq++
	it.pendingSeek = append([]byte(nil), target...)
	it.bookmark = nil
	seq := it.seq
	it.mu.Unlock()

	it.g.writeFrame(message.EncodeInput(&message.IteratorSeek{
		ID:     it.id,
		Seq:    seq,
		Target: target,
	}))
}

// Close releases the handle on both ends. It is idempotent.
func (it *Iterator) Close() error {
	if it.local != nil {
		return it.local.Close()
	}

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	it.wakeLocked()
	it.mu.Unlock()

	if it.g == nil {
		return nil
	}
	g := it.g
	g.mu.Lock()
	_, live := g.iterators[it.id]
	if live {
		delete(g.iterators, it.id)
	}
	note := g.trackLocked()
	g.mu.Unlock()

	if live {
		g.writeFrame(message.EncodeInput(&message.IteratorClose{ID: it.id}))
	}
	if note != nil {
		note()
	}
	return nil
}

// takeLocked pops one entry off the head batch. Reports whether an ack is
// due (the batch drained and the limit was not reached) and whether the
// batch actually yielded an entry.
func (it *Iterator) takeLocked() (*store.Entry, bool, bool) {
	fields := it.fieldsPerEntry()
	batch := it.batches[0]
	if len(batch) < fields {
		// Short batch is protocol garbage; drop it.
		it.batches = it.batches[1:]
		return nil, false, false
	}

	entry := &store.Entry{}
	if it.wireKeys {
		key := batch[0]
		batch = batch[1:]
		if it.opts.Keys {
			entry.Key = key
		}
		if it.g.opts.retry {
			it.bookmark = key
		}
	}
	if it.wireValues {
		if it.opts.Values {
			entry.Value = batch[0]
		}
		batch = batch[1:]
	}
	if !it.wireKeys && !it.wireValues {
		// Count-only entry: one empty placeholder buffer.
		batch = batch[1:]
	}

	it.consumed++
	it.pendingSeek = nil
	if len(batch) > 0 {
		it.batches[0] = batch
		return entry, false, true
	}
	it.batches = it.batches[1:]
	return entry, !it.atLimitLocked(), true
}

func (it *Iterator) fieldsPerEntry() int {
	n := 0
	if it.wireKeys {
		n++
	}
	if it.wireValues {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

func (it *Iterator) atLimitLocked() bool {
	return !it.opts.Unlimited() && it.consumed >= it.opts.Limit
}

// wireOptions is what goes on the wire: the caller's range plus the field
// flags the protocol needs (keys forced on in retry mode for bookmarks).
func (it *Iterator) wireOptions() store.IterOptions {
	opts := it.opts
	opts.Keys = it.wireKeys
	opts.Values = it.wireValues
	return opts
}

// replayFrame re-encodes the open frame for a reattached transport, carrying
// the current seq, bookmark and pending seek so the host resumes in place.
// Batches delivered but not consumed are dropped; the bookmark guarantees
// the host re-delivers exactly that suffix. Returns nil when the iterator no
// longer needs the host. Called with g.mu held.
func (it *Iterator) replayFrame() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.ended || it.failed != nil {
		return nil
	}
	it.batches = nil
	return message.EncodeInput(&message.Iterator{
		ID:       it.id,
		Options:  it.wireOptions(),
		Bookmark: it.bookmark,
		Seek:     it.pendingSeek,
		Seq:      it.seq,
	})
}

// deliver queues one data frame. Frames with a stale seq, or arriving after
// the limit was reached, are discarded without side effect.
func (it *Iterator) deliver(seq uint32, data [][]byte) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.failed != nil || seq != it.seq || it.atLimitLocked() {
		return
	}
	it.batches = append(it.batches, data)
	it.wakeLocked()
}

func (it *Iterator) end(seq uint32) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || seq != it.seq {
		return
	}
	it.ended = true
	it.wakeLocked()
}

func (it *Iterator) failSeq(seq uint32, err error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || seq != it.seq {
		return
	}
	it.failed = err
	it.wakeLocked()
}

// abort fails the iterator regardless of seq; used when the guest tears down
// pending work on close or a non-retry disconnect.
func (it *Iterator) abort(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.failed != nil {
		return
	}
	it.failed = err
	it.wakeLocked()
}

func (it *Iterator) wakeLocked() {
	if it.waiter != nil {
		close(it.waiter)
		it.waiter = nil
	}
}
