// Package host implements the store-owning side of the RPC protocol. A Host
// reads request frames from a duplex byte stream, executes them against its
// backing store, and emits the reply frames. Iterator output is batched and
// flow-controlled: one data frame per guest acknowledgement.
package host

import (
	"errors"
	"io"

	"github.com/ForgeVTT/many-level/internal/frame"
	"github.com/ForgeVTT/many-level/internal/message"
	"github.com/ForgeVTT/many-level/store"
)

// Host executes guest requests against a backing store. One Host may serve
// any number of connections; per-connection state lives in the session a
// Serve call owns.
type Host struct {
	db   store.Store
	opts options
}

// NewHost returns a host backed by db.
func NewHost(db store.Store, optFns ...Option) *Host {
	opts := defaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Host{db: db, opts: opts}
}

// Serve speaks the protocol on stream until it ends, processing inbound
// frames in receipt order. It returns nil on a clean end of stream. Live
// cursors are collected when the stream ends, however it ends.
func (h *Host) Serve(stream io.ReadWriteCloser) error {
	s := &session{
		h:       h,
		fw:      frame.NewWriter(stream),
		cursors: make(map[uint32]*cursor),
	}
	defer s.cleanup()

	fr := frame.NewReader(stream, h.opts.maxFrameSize)
	for {
		p, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		m, err := message.DecodeInput(p)
		if err != nil {
			h.opts.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if m == nil {
			// Unknown tag, possibly a newer protocol revision.
			continue
		}
		if err := s.handle(m); err != nil {
			return err
		}
	}
}

// session is the per-connection state: the reply writer and the live cursor
// table keyed by guest-chosen iterator ids.
type session struct {
	h       *Host
	fw      *frame.Writer
	cursors map[uint32]*cursor
}

// handle executes one inbound message. Only write failures are returned;
// store failures travel back to the guest inside the reply.
func (s *session) handle(m message.Input) error {
	db := s.h.db
	switch v := m.(type) {
	case *message.Get:
		value, err := db.Get(v.Key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return s.send(&message.Callback{ID: v.ID})
			}
			return s.send(&message.Callback{ID: v.ID, Error: errorCode(err)})
		}
		if value == nil {
			value = []byte{}
		}
		return s.send(&message.Callback{ID: v.ID, Value: value})

	case *message.GetMany:
		values, err := db.GetMany(v.Keys)
		if err != nil {
			return s.send(&message.GetManyCallback{ID: v.ID, Error: errorCode(err)})
		}
		return s.send(&message.GetManyCallback{ID: v.ID, Values: values})

	case *message.Put:
		return s.send(&message.Callback{ID: v.ID, Error: errorCode(db.Put(v.Key, v.Value))})

	case *message.Del:
		return s.send(&message.Callback{ID: v.ID, Error: errorCode(db.Delete(v.Key))})

	case *message.Batch:
		return s.send(&message.Callback{ID: v.ID, Error: errorCode(db.Batch(v.Ops))})

	case *message.Clear:
		return s.send(&message.Callback{ID: v.ID, Error: errorCode(db.Clear(v.Options))})

	case *message.Iterator:
		return s.openIterator(v)

	case *message.IteratorSeek:
		c := s.cursors[v.ID]
		if c == nil {
			return nil
		}
		c.seq = v.Seq
		c.iter.Seek(v.Target)
		// The guest discarded its queue on seek, so no ack is coming for
		// whatever was outstanding; push a fresh batch now. A seek also
		// reopens a stream that had ended.
		c.awaitingAck = false
		c.done = false
		return s.push(c)

	case *message.IteratorAck:
		c := s.cursors[v.ID]
		if c == nil || c.seq != v.Seq {
			return nil
		}
		c.awaitingAck = false
		return s.push(c)

	case *message.IteratorClose:
		if c := s.cursors[v.ID]; c != nil {
			c.iter.Close()
			delete(s.cursors, v.ID)
		}
		return nil
	}
	return nil
}

func (s *session) send(m message.Output) error {
	return s.fw.WriteFrame(message.EncodeOutput(m))
}

func (s *session) cleanup() {
	for id, c := range s.cursors {
		c.iter.Close()
		delete(s.cursors, id)
	}
}

// errorCode renders a store failure as the short code string carried in reply
// frames; nil renders as no error.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return err.Error()
}
