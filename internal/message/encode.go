package message

import (
	"encoding/binary"

	"github.com/ForgeVTT/many-level/store"
)

// EncodeInput renders m as tag byte plus payload, ready for framing.
func EncodeInput(m Input) []byte {
	b := []byte{byte(m.inputTag())}
	switch v := m.(type) {
	case *Get:
		b = appendUint32(b, v.ID)
		b = appendBytes(b, v.Key)
	case *GetMany:
		b = appendUint32(b, v.ID)
		b = binary.AppendUvarint(b, uint64(len(v.Keys)))
		for _, k := range v.Keys {
			b = appendBytes(b, k)
		}
	case *Put:
		b = appendUint32(b, v.ID)
		b = appendBytes(b, v.Key)
		b = appendBytes(b, v.Value)
	case *Del:
		b = appendUint32(b, v.ID)
		b = appendBytes(b, v.Key)
	case *Batch:
		b = appendUint32(b, v.ID)
		b = binary.AppendUvarint(b, uint64(len(v.Ops)))
		for _, op := range v.Ops {
			b = append(b, byte(op.Type))
			b = appendBytes(b, op.Key)
			if op.Type == store.OpPut {
				b = appendOptional(b, op.Value)
			} else {
				b = appendOptional(b, nil)
			}
		}
	case *Clear:
		b = appendUint32(b, v.ID)
		b = appendRange(b, v.Options)
	case *Iterator:
		b = appendUint32(b, v.ID)
		b = appendRange(b, v.Options.Range)
		b = appendBool(b, v.Options.Keys)
		b = appendBool(b, v.Options.Values)
		b = appendOptional(b, v.Bookmark)
		b = appendOptional(b, v.Seek)
		b = appendUint32(b, v.Seq)
	case *IteratorSeek:
		b = appendUint32(b, v.ID)
		b = appendUint32(b, v.Seq)
		b = appendBytes(b, v.Target)
	case *IteratorAck:
		b = appendUint32(b, v.ID)
		b = appendUint32(b, v.Seq)
		b = appendUint32(b, v.Consumed)
	case *IteratorClose:
		b = appendUint32(b, v.ID)
	}
	return b
}

// EncodeOutput renders m as tag byte plus payload, ready for framing.
func EncodeOutput(m Output) []byte {
	b := []byte{byte(m.outputTag())}
	switch v := m.(type) {
	case *Callback:
		b = appendUint32(b, v.ID)
		b = appendOptionalString(b, v.Error)
		b = appendOptional(b, v.Value)
	case *GetManyCallback:
		b = appendUint32(b, v.ID)
		b = appendOptionalString(b, v.Error)
		b = binary.AppendUvarint(b, uint64(len(v.Values)))
		for _, val := range v.Values {
			b = appendOptional(b, val)
		}
	case *IteratorData:
		b = appendUint32(b, v.ID)
		b = appendUint32(b, v.Seq)
		b = binary.AppendUvarint(b, uint64(len(v.Data)))
		for _, d := range v.Data {
			b = appendBytes(b, d)
		}
	case *IteratorError:
		b = appendUint32(b, v.ID)
		b = appendUint32(b, v.Seq)
		b = appendBytes(b, []byte(v.Error))
	case *IteratorEnd:
		b = appendUint32(b, v.ID)
		b = appendUint32(b, v.Seq)
	}
	return b
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.AppendUvarint(b, uint64(v))
}

// appendBytes writes a required bytes field: varint length then raw bytes.
func appendBytes(b, p []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(p)))
	return append(b, p...)
}

// appendOptional writes an optional bytes field: a presence byte, then the
// bytes field when present. A nil slice is absent; an empty slice is present.
func appendOptional(b, p []byte) []byte {
	if p == nil {
		return append(b, 0)
	}
	b = append(b, 1)
	return appendBytes(b, p)
}

func appendOptionalString(b []byte, s string) []byte {
	if s == "" {
		return append(b, 0)
	}
	b = append(b, 1)
	return appendBytes(b, []byte(s))
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// appendRange writes the shared range option block: the four optional bounds
// in gt, gte, lt, lte order, the reverse flag, then the limit as a zigzag
// varint (-1 on the wire for unlimited).
func appendRange(b []byte, r store.Range) []byte {
	b = appendOptional(b, r.Gt)
	b = appendOptional(b, r.Gte)
	b = appendOptional(b, r.Lt)
	b = appendOptional(b, r.Lte)
	b = appendBool(b, r.Reverse)
	limit := int64(r.Limit)
	if r.Unlimited() {
		limit = -1
	}
	return binary.AppendVarint(b, limit)
}
