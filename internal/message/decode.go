package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ForgeVTT/many-level/store"
)

var errTruncated = errors.New("message: truncated payload")

// DecodeInput parses a framed payload (tag byte included) into an Input.
// An unknown tag decodes to (nil, nil) so the dispatcher can drop it without
// treating the frame as malformed.
func DecodeInput(p []byte) (Input, error) {
	if len(p) == 0 {
		return nil, errTruncated
	}
	d := &decoder{buf: p[1:]}

	var m Input
	switch Tag(p[0]) {
	case TagGet:
		m = &Get{ID: d.uint32(), Key: d.bytes()}
	case TagGetMany:
		v := &GetMany{ID: d.uint32()}
		n := d.count()
		for i := 0; i < n; i++ {
			v.Keys = append(v.Keys, d.bytes())
		}
		m = v
	case TagPut:
		m = &Put{ID: d.uint32(), Key: d.bytes(), Value: d.bytes()}
	case TagDel:
		m = &Del{ID: d.uint32(), Key: d.bytes()}
	case TagBatch:
		v := &Batch{ID: d.uint32()}
		n := d.count()
		for i := 0; i < n; i++ {
			op := store.Op{Type: store.OpType(d.byte()), Key: d.bytes()}
			op.Value = d.optional()
			if op.Type != store.OpPut && op.Type != store.OpDelete {
				return nil, fmt.Errorf("message: bad batch op type %d", op.Type)
			}
			v.Ops = append(v.Ops, op)
		}
		m = v
	case TagClear:
		m = &Clear{ID: d.uint32(), Options: d.rangeOptions()}
	case TagIterator:
		v := &Iterator{ID: d.uint32()}
		v.Options.Range = d.rangeOptions()
		v.Options.Keys = d.bool()
		v.Options.Values = d.bool()
		v.Bookmark = d.optional()
		v.Seek = d.optional()
		v.Seq = d.uint32()
		m = v
	case TagIteratorSeek:
		m = &IteratorSeek{ID: d.uint32(), Seq: d.uint32(), Target: d.bytes()}
	case TagIteratorAck:
		m = &IteratorAck{ID: d.uint32(), Seq: d.uint32(), Consumed: d.uint32()}
	case TagIteratorClose:
		m = &IteratorClose{ID: d.uint32()}
	default:
		return nil, nil
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeOutput parses a framed payload (tag byte included) into an Output.
// Unknown tags decode to (nil, nil).
func DecodeOutput(p []byte) (Output, error) {
	if len(p) == 0 {
		return nil, errTruncated
	}
	d := &decoder{buf: p[1:]}

	var m Output
	switch Tag(p[0]) {
	case TagCallback:
		m = &Callback{ID: d.uint32(), Error: d.optionalString(), Value: d.optional()}
	case TagGetManyCallback:
		v := &GetManyCallback{ID: d.uint32(), Error: d.optionalString()}
		n := d.count()
		v.Values = make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			v.Values = append(v.Values, d.optional())
		}
		m = v
	case TagIteratorData:
		v := &IteratorData{ID: d.uint32(), Seq: d.uint32()}
		n := d.count()
		for i := 0; i < n; i++ {
			v.Data = append(v.Data, d.bytes())
		}
		m = v
	case TagIteratorError:
		m = &IteratorError{ID: d.uint32(), Seq: d.uint32(), Error: string(d.bytes())}
	case TagIteratorEnd:
		m = &IteratorEnd{ID: d.uint32(), Seq: d.uint32()}
	default:
		return nil, nil
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// decoder walks a payload with a sticky error: after the first failure every
// read returns a zero value and finish reports the failure.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("message: %d trailing bytes", len(d.buf))
	}
	return nil
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = errTruncated
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) uint32() uint32 {
	v := d.uvarint()
	if v > math.MaxUint32 {
		d.fail()
		return 0
	}
	return uint32(v)
}

// count reads a repeated-field count, bounded by the bytes that remain so a
// hostile length cannot force a huge allocation.
func (d *decoder) count() int {
	v := d.uvarint()
	if d.err != nil {
		return 0
	}
	if v > uint64(len(d.buf)) {
		d.fail()
		return 0
	}
	return int(v)
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	if len(d.buf) == 0 {
		d.fail()
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) bool() bool {
	return d.byte() != 0
}

// bytes reads a required bytes field. An empty field decodes as a non-nil
// empty slice so it stays distinct from an absent optional.
func (d *decoder) bytes() []byte {
	n := d.uvarint()
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.buf)) {
		d.fail()
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	d.buf = d.buf[n:]
	return out
}

// optional reads a presence byte then the field. Absent decodes as nil.
func (d *decoder) optional() []byte {
	if d.byte() == 0 {
		return nil
	}
	return d.bytes()
}

func (d *decoder) optionalString() string {
	if d.byte() == 0 {
		return ""
	}
	return string(d.bytes())
}

func (d *decoder) rangeOptions() store.Range {
	r := store.Range{
		Gt:  d.optional(),
		Gte: d.optional(),
		Lt:  d.optional(),
		Lte: d.optional(),
	}
	r.Reverse = d.bool()
	limit := d.varint()
	if limit > 0 && limit <= math.MaxInt32 {
		r.Limit = int(limit)
	}
	return r
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.buf = d.buf[n:]
	return v
}
