package host

import (
	"github.com/ForgeVTT/many-level/internal/message"
	"github.com/ForgeVTT/many-level/store"
)

// cursor is one live host-side iterator: the backing store cursor plus the
// credit state. After sending a data frame the cursor waits for the guest's
// ack; remaining counts down the range limit across batches.
type cursor struct {
	id          uint32
	seq         uint32
	iter        store.Iterator
	opts        store.IterOptions
	remaining   int
	unlimited   bool
	awaitingAck bool
	done        bool
}

// openIterator creates (or, after a reconnect, recreates) the cursor for
// m.ID. An existing cursor at the same id is discarded first; that is how a
// reattached guest resumes a scan. A bookmark narrows the range strictly
// past the last delivered key, and a pending seek is applied before the
// first batch.
func (s *session) openIterator(m *message.Iterator) error {
	if old := s.cursors[m.ID]; old != nil {
		old.iter.Close()
		delete(s.cursors, m.ID)
	}

	opts := m.Options
	opts.Range = opts.Range.Resume(m.Bookmark)
	c := &cursor{
		id:        m.ID,
		seq:       m.Seq,
		iter:      s.h.db.Iterator(opts),
		opts:      m.Options,
		remaining: m.Options.Limit,
		unlimited: m.Options.Unlimited(),
	}
	if m.Seek != nil {
		c.iter.Seek(m.Seek)
	}
	s.cursors[m.ID] = c
	return s.push(c)
}

// push sends the next batch for c: up to batchSize entries, fewer when the
// cursor ends, errors, or exhausts its limit first. The cursor then awaits
// an ack. An iteratorEnd frame closes the data stream but keeps the cursor,
// since a later seek may reopen it; an error retires it. Cursors otherwise
// live until an iteratorClose frame or the end of the transport.
func (s *session) push(c *cursor) error {
	if c.awaitingAck || c.done {
		return nil
	}

	var data [][]byte
	entries := 0
	finished := false
	for entries < s.h.opts.batchSize {
		if !c.unlimited && c.remaining == 0 {
			finished = true
			break
		}
		entry, err := c.iter.Next()
		if err != nil {
			c.iter.Close()
			delete(s.cursors, c.id)
			s.h.opts.log.Debug().Uint32("id", c.id).Err(err).Msg("iterator failed")
			return s.send(&message.IteratorError{ID: c.id, Seq: c.seq, Error: errorCode(err)})
		}
		if entry == nil {
			finished = true
			break
		}

		if c.opts.Keys {
			data = append(data, entry.Key)
		}
		if c.opts.Values {
			data = append(data, entry.Value)
		}
		if !c.opts.Keys && !c.opts.Values {
			// Keep the entry countable on the wire.
			data = append(data, []byte{})
		}
		entries++
		if !c.unlimited {
			c.remaining--
		}
	}

	if entries > 0 {
		if err := s.send(&message.IteratorData{ID: c.id, Seq: c.seq, Data: data}); err != nil {
			return err
		}
		c.awaitingAck = true
	}
	if finished {
		c.done = true
		return s.send(&message.IteratorEnd{ID: c.id, Seq: c.seq})
	}
	return nil
}
