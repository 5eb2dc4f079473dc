// Package message defines the structured payloads carried inside frames and
// their per-tag binary codec. Payloads are encoded field by field in
// declaration order: unsigned varints for ids, seqs and counts, a zigzag
// varint for the range limit, a length prefix for bytes fields, and a presence byte for optional fields so that an
// absent value stays distinct from empty bytes.
package message

import "github.com/ForgeVTT/many-level/store"

// Tag is the first payload byte of a frame, naming the message kind. Input
// and output tags are disjoint namespaces. The numeric values are fixed by
// the wire protocol and must not change.
type Tag byte

// Input tags, guest to host.
const (
	TagGet           Tag = 1
	TagPut           Tag = 2
	TagDel           Tag = 3
	TagBatch         Tag = 4
	TagIterator      Tag = 5
	TagIteratorClose Tag = 6
	TagIteratorAck   Tag = 7
	TagIteratorSeek  Tag = 8
	TagClear         Tag = 9
	TagGetMany       Tag = 10
)

// Output tags, host to guest.
const (
	TagCallback        Tag = 1
	TagIteratorData    Tag = 2
	TagIteratorEnd     Tag = 3
	TagIteratorError   Tag = 4
	TagGetManyCallback Tag = 5
)

// Input is a guest-to-host message.
type Input interface {
	inputTag() Tag
}

// Output is a host-to-guest message.
type Output interface {
	outputTag() Tag
}

type Get struct {
	ID  uint32
	Key []byte
}

type GetMany struct {
	ID   uint32
	Keys [][]byte
}

type Put struct {
	ID    uint32
	Key   []byte
	Value []byte
}

type Del struct {
	ID  uint32
	Key []byte
}

type Batch struct {
	ID  uint32
	Ops []store.Op
}

type Clear struct {
	ID      uint32
	Options store.Range
}

// Iterator opens (or, after a reconnect, resumes) a host cursor. Bookmark is
// the last key the guest consumed; the host restarts strictly after it. Seek
// is an initial seek target not yet satisfied.
type Iterator struct {
	ID       uint32
	Options  store.IterOptions
	Bookmark []byte
	Seek     []byte
	Seq      uint32
}

type IteratorSeek struct {
	ID     uint32
	Seq    uint32
	Target []byte
}

type IteratorAck struct {
	ID       uint32
	Seq      uint32
	Consumed uint32
}

type IteratorClose struct {
	ID uint32
}

// Callback answers a single-value request. A nil Value means absent, which is
// distinct from present-but-empty. Error carries a short error code.
type Callback struct {
	ID    uint32
	Error string
	Value []byte
}

// GetManyCallback answers a getMany request with one value per requested key,
// nil for keys that were absent.
type GetManyCallback struct {
	ID     uint32
	Error  string
	Values [][]byte
}

// IteratorData carries one batch of iterator output. Data is a flat sequence
// of buffers: for each entry, its key and/or value in order, per the
// iterator's option flags. When neither flag is set each entry is one empty
// buffer so the entry count survives the trip.
type IteratorData struct {
	ID   uint32
	Seq  uint32
	Data [][]byte
}

type IteratorError struct {
	ID    uint32
	Seq   uint32
	Error string
}

type IteratorEnd struct {
	ID  uint32
	Seq uint32
}

func (*Get) inputTag() Tag           { return TagGet }
func (*GetMany) inputTag() Tag       { return TagGetMany }
func (*Put) inputTag() Tag           { return TagPut }
func (*Del) inputTag() Tag           { return TagDel }
func (*Batch) inputTag() Tag         { return TagBatch }
func (*Clear) inputTag() Tag         { return TagClear }
func (*Iterator) inputTag() Tag      { return TagIterator }
func (*IteratorSeek) inputTag() Tag  { return TagIteratorSeek }
func (*IteratorAck) inputTag() Tag   { return TagIteratorAck }
func (*IteratorClose) inputTag() Tag { return TagIteratorClose }

func (*Callback) outputTag() Tag        { return TagCallback }
func (*GetManyCallback) outputTag() Tag { return TagGetManyCallback }
func (*IteratorData) outputTag() Tag    { return TagIteratorData }
func (*IteratorError) outputTag() Tag   { return TagIteratorError }
func (*IteratorEnd) outputTag() Tag     { return TagIteratorEnd }
