// Package guest implements the caller-facing side of the RPC protocol. A
// Guest presents the ordered key/value store API, translates calls into
// request frames over an attached duplex byte stream, and resolves them from
// the host's reply frames. With retry enabled, a disconnect preserves pending
// work and the next attachment replays it, resuming iterators from their
// bookmarks.
package guest

import (
	"context"
	"io"
	"sync"

	"github.com/ForgeVTT/many-level/internal/frame"
	"github.com/ForgeVTT/many-level/internal/ids"
	"github.com/ForgeVTT/many-level/internal/message"
	"github.com/ForgeVTT/many-level/store"
)

// Guest is the client endpoint. All methods are safe for concurrent use.
type Guest struct {
	opts options

	mu        sync.Mutex
	requests  map[uint32]*request
	iterators map[uint32]*Iterator
	reqIDs    ids.Allocator
	itIDs     ids.Allocator
	stream    io.ReadWriteCloser
	fw        *frame.Writer
	active    bool
	closed    bool
	forwarded store.Store

	// wmu serializes frame writes so concurrent callers cannot interleave
	// partial frames on the transport.
	wmu sync.Mutex
}

// New returns an unattached guest. Operations issued before AttachRPC stay
// pending until a transport is attached.
func New(optFns ...Option) *Guest {
	opts := defaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Guest{
		opts:      opts,
		requests:  make(map[uint32]*request),
		iterators: make(map[uint32]*Iterator),
	}
}

// AttachRPC connects the guest to a duplex byte stream. Only one attachment
// may be active at a time; a second attempt fails with ErrSingleStream.
// Attaching after Close fails with ErrNotSupported. When retry is enabled,
// requests and iterators that survived a previous disconnect are replayed on
// the new stream before it starts dispatching.
func (g *Guest) AttachRPC(stream io.ReadWriteCloser) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrNotSupported
	}
	if g.stream != nil {
		g.mu.Unlock()
		return ErrSingleStream
	}
	g.stream = stream
	g.fw = frame.NewWriter(stream)

	var replay [][]byte
	for _, r := range g.requests {
		replay = append(replay, r.frame)
	}
	for _, it := range g.iterators {
		if f := it.replayFrame(); f != nil {
			replay = append(replay, f)
		}
	}
	g.mu.Unlock()

	for _, f := range replay {
		if err := g.writeFrame(f); err != nil {
			break
		}
	}
	go g.readLoop(stream)
	return nil
}

// Close aborts all pending work with ErrDatabaseNotOpen, tears down the
// transport and the forwarded store if any, and rejects further use. It is
// idempotent.
func (g *Guest) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	stream := g.stream
	fwd := g.forwarded
	g.stream, g.fw = nil, nil
	reqs, its := g.takeAllLocked()
	note := g.trackLocked()
	g.mu.Unlock()

	failAll(reqs, its, ErrDatabaseNotOpen)
	if note != nil {
		note()
	}
	if stream != nil {
		stream.Close()
	}
	if fwd != nil {
		fwd.Close()
	}
	return nil
}

// Forward routes all subsequent store operations directly to db, bypassing
// the RPC layer. Requests already in flight keep resolving over the wire.
// Close closes db along with the RPC path.
func (g *Guest) Forward(db store.Store) error {
	if db == nil {
		return ErrEncodingNotSupported
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrDatabaseNotOpen
	}
	g.forwarded = db
	return nil
}

// Get returns the value stored at key, or store.ErrNotFound.
func (g *Guest) Get(ctx context.Context, key []byte) ([]byte, error) {
	if db := g.forwardTarget(); db != nil {
		return db.Get(key)
	}
	r, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.Get{ID: id, Key: key})
	})
	if err != nil {
		return nil, err
	}
	res, err := g.await(ctx, r)
	if err != nil {
		return nil, err
	}
	if res.value == nil {
		return nil, store.ErrNotFound
	}
	return res.value, nil
}

// GetMany returns one value per key, nil for keys that are absent.
func (g *Guest) GetMany(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if db := g.forwardTarget(); db != nil {
		return db.GetMany(keys)
	}
	r, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.GetMany{ID: id, Keys: keys})
	})
	if err != nil {
		return nil, err
	}
	res, err := g.await(ctx, r)
	if err != nil {
		return nil, err
	}
	return res.values, nil
}

// Put stores value at key. An empty value round-trips as empty, not absent.
func (g *Guest) Put(ctx context.Context, key, value []byte) error {
	if db := g.forwardTarget(); db != nil {
		return db.Put(key, value)
	}
	r, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.Put{ID: id, Key: key, Value: value})
	})
	if err != nil {
		return err
	}
	_, err = g.await(ctx, r)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (g *Guest) Delete(ctx context.Context, key []byte) error {
	if db := g.forwardTarget(); db != nil {
		return db.Delete(key)
	}
	r, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.Del{ID: id, Key: key})
	})
	if err != nil {
		return err
	}
	_, err = g.await(ctx, r)
	return err
}

// Batch applies ops as one write.
func (g *Guest) Batch(ctx context.Context, ops []store.Op) error {
	if db := g.forwardTarget(); db != nil {
		return db.Batch(ops)
	}
	r, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.Batch{ID: id, Ops: ops})
	})
	if err != nil {
		return err
	}
	_, err = g.await(ctx, r)
	return err
}

// Clear deletes every key in r.
func (g *Guest) Clear(ctx context.Context, r store.Range) error {
	if db := g.forwardTarget(); db != nil {
		return db.Clear(r)
	}
	req, err := g.newRequest(func(id uint32) []byte {
		return message.EncodeInput(&message.Clear{ID: id, Options: r})
	})
	if err != nil {
		return err
	}
	_, err = g.await(ctx, req)
	return err
}

func (g *Guest) forwardTarget() store.Store {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forwarded
}

// request tracks one in-flight non-iterator operation. The encoded frame is
// kept so a retry-mode reattach can replay it verbatim.
type request struct {
	id    uint32
	frame []byte
	done  chan result
}

type result struct {
	value  []byte
	values [][]byte
	err    error
}

func (g *Guest) newRequest(build func(id uint32) []byte) (*request, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrDatabaseNotOpen
	}
	id := g.reqIDs.Next(func(id uint32) bool {
		_, ok := g.requests[id]
		return ok
	})
	r := &request{id: id, frame: build(id), done: make(chan result, 1)}
	g.requests[id] = r
	note := g.trackLocked()
	g.mu.Unlock()

	if note != nil {
		note()
	}
	if err := g.writeFrame(r.frame); err != nil {
		g.opts.log.Debug().Uint32("id", id).Err(err).Msg("request write failed")
	}
	return r, nil
}

func (g *Guest) await(ctx context.Context, r *request) (result, error) {
	select {
	case res := <-r.done:
		return res, res.err
	case <-ctx.Done():
	}

	// The caller gave up; drop the pending record unless the reply won the
	// race. A late reply to the dropped id is ignored by the dispatcher.
	g.mu.Lock()
	_, pending := g.requests[r.id]
	if pending {
		delete(g.requests, r.id)
	}
	note := g.trackLocked()
	g.mu.Unlock()
	if note != nil {
		note()
	}
	if !pending {
		select {
		case res := <-r.done:
			return res, res.err
		default:
		}
	}
	return result{}, ctx.Err()
}

// writeFrame sends one frame if a transport is attached. A write failure
// tears the attachment down through the same path as a read failure.
func (g *Guest) writeFrame(p []byte) error {
	g.mu.Lock()
	fw, stream := g.fw, g.stream
	g.mu.Unlock()
	if fw == nil {
		return nil
	}

	g.wmu.Lock()
	err := fw.WriteFrame(p)
	g.wmu.Unlock()
	if err != nil {
		g.detach(stream)
	}
	return err
}

func (g *Guest) readLoop(stream io.ReadWriteCloser) {
	fr := frame.NewReader(stream, g.opts.maxFrameSize)
	for {
		p, err := fr.ReadFrame()
		if err != nil {
			g.detach(stream)
			return
		}
		m, err := message.DecodeOutput(p)
		if err != nil {
			g.opts.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if m == nil {
			// Unknown tag, possibly a newer protocol revision.
			continue
		}
		g.dispatch(m)
	}
}

func (g *Guest) dispatch(m message.Output) {
	switch v := m.(type) {
	case *message.Callback:
		res := result{value: v.Value}
		if v.Error != "" {
			res.err = codeError(v.Error)
		}
		g.resolve(v.ID, res)
	case *message.GetManyCallback:
		res := result{values: v.Values}
		if v.Error != "" {
			res.err = codeError(v.Error)
		}
		g.resolve(v.ID, res)
	case *message.IteratorData:
		if it := g.iterator(v.ID); it != nil {
			it.deliver(v.Seq, v.Data)
		}
	case *message.IteratorEnd:
		if it := g.iterator(v.ID); it != nil {
			it.end(v.Seq)
		}
	case *message.IteratorError:
		if it := g.iterator(v.ID); it != nil {
			it.failSeq(v.Seq, codeError(v.Error))
		}
	}
}

func (g *Guest) resolve(id uint32, res result) {
	g.mu.Lock()
	r, ok := g.requests[id]
	if !ok {
		g.mu.Unlock()
		g.opts.log.Debug().Uint32("id", id).Msg("reply for unknown request")
		return
	}
	delete(g.requests, id)
	note := g.trackLocked()
	g.mu.Unlock()

	// Release the keepalive and fire the flush hook before the caller wakes,
	// so both are already observable when the operation returns.
	if note != nil {
		note()
	}
	r.done <- res
}

func (g *Guest) iterator(id uint32) *Iterator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.iterators[id]
}

// detach handles the end of a transport, from either a read failure or a
// write failure. Without retry every pending request and iterator fails with
// ErrConnectionLost; with retry the maps survive for the next attachment.
func (g *Guest) detach(stream io.ReadWriteCloser) {
	g.mu.Lock()
	if g.closed || g.stream != stream {
		g.mu.Unlock()
		return
	}
	g.stream, g.fw = nil, nil
	if g.opts.retry {
		g.mu.Unlock()
		return
	}
	reqs, its := g.takeAllLocked()
	note := g.trackLocked()
	g.mu.Unlock()

	failAll(reqs, its, ErrConnectionLost)
	if note != nil {
		note()
	}
}

// takeAllLocked empties both maps and returns their contents. Callers hold
// g.mu.
func (g *Guest) takeAllLocked() ([]*request, []*Iterator) {
	reqs := make([]*request, 0, len(g.requests))
	for _, r := range g.requests {
		reqs = append(reqs, r)
	}
	its := make([]*Iterator, 0, len(g.iterators))
	for _, it := range g.iterators {
		its = append(its, it)
	}
	g.requests = make(map[uint32]*request)
	g.iterators = make(map[uint32]*Iterator)
	return reqs, its
}

func failAll(reqs []*request, its []*Iterator, err error) {
	for _, r := range reqs {
		r.done <- result{err: err}
	}
	for _, it := range its {
		it.abort(err)
	}
}

// trackLocked maintains the keepalive ref and the flushed condition. It must
// run with g.mu held and returns the side effect to invoke after unlocking,
// or nil. The flush hook fires exactly once per transition to empty.
func (g *Guest) trackLocked() func() {
	n := len(g.requests) + len(g.iterators)
	switch {
	case n > 0 && !g.active:
		g.active = true
		if ref := g.opts.ref; ref != nil {
			return ref.Acquire
		}
	case n == 0 && g.active:
		g.active = false
		ref, onFlush := g.opts.ref, g.opts.onFlush
		return func() {
			if ref != nil {
				ref.Release()
			}
			if onFlush != nil {
				onFlush()
			}
		}
	}
	return nil
}
