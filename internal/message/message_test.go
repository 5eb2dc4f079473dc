package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ForgeVTT/many-level/internal/message"
	"github.com/ForgeVTT/many-level/store"
)

func roundTripInput(t *testing.T, m message.Input) message.Input {
	t.Helper()
	out, err := message.DecodeInput(message.EncodeInput(m))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func roundTripOutput(t *testing.T, m message.Output) message.Output {
	t.Helper()
	out, err := message.DecodeOutput(message.EncodeOutput(m))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestTagValues(t *testing.T) {
	// The numeric tag values are wire-frozen.
	require.Equal(t, byte(1), message.EncodeInput(&message.Get{})[0])
	require.Equal(t, byte(2), message.EncodeInput(&message.Put{})[0])
	require.Equal(t, byte(3), message.EncodeInput(&message.Del{})[0])
	require.Equal(t, byte(4), message.EncodeInput(&message.Batch{})[0])
	require.Equal(t, byte(5), message.EncodeInput(&message.Iterator{})[0])
	require.Equal(t, byte(6), message.EncodeInput(&message.IteratorClose{})[0])
	require.Equal(t, byte(7), message.EncodeInput(&message.IteratorAck{})[0])
	require.Equal(t, byte(8), message.EncodeInput(&message.IteratorSeek{})[0])
	require.Equal(t, byte(9), message.EncodeInput(&message.Clear{})[0])
	require.Equal(t, byte(10), message.EncodeInput(&message.GetMany{})[0])

	require.Equal(t, byte(1), message.EncodeOutput(&message.Callback{})[0])
	require.Equal(t, byte(2), message.EncodeOutput(&message.IteratorData{})[0])
	require.Equal(t, byte(3), message.EncodeOutput(&message.IteratorEnd{})[0])
	require.Equal(t, byte(4), message.EncodeOutput(&message.IteratorError{})[0])
	require.Equal(t, byte(5), message.EncodeOutput(&message.GetManyCallback{})[0])
}

func TestIteratorMessage(t *testing.T) {
	in := &message.Iterator{
		ID: 7,
		Options: store.IterOptions{
			Range:  store.Range{Gte: []byte("a"), Lt: []byte("z"), Reverse: true, Limit: 10},
			Keys:   true,
			Values: true,
		},
		Bookmark: []byte("m"),
		Seek:     []byte("n"),
		Seq:      3,
	}
	out := roundTripInput(t, in).(*message.Iterator)
	require.Equal(t, in, out)
}

func TestIteratorMessageAbsentFields(t *testing.T) {
	in := &message.Iterator{ID: 1, Options: store.IterOptions{Keys: true}}
	out := roundTripInput(t, in).(*message.Iterator)
	require.Nil(t, out.Bookmark)
	require.Nil(t, out.Seek)
	require.Nil(t, out.Options.Gt)
	require.True(t, out.Options.Unlimited())
}

func TestBatchMessage(t *testing.T) {
	in := &message.Batch{ID: 2, Ops: []store.Op{
		{Type: store.OpPut, Key: []byte("x"), Value: []byte("X")},
		{Type: store.OpPut, Key: []byte("empty"), Value: []byte{}},
		{Type: store.OpDelete, Key: []byte("y")},
	}}
	out := roundTripInput(t, in).(*message.Batch)
	require.Len(t, out.Ops, 3)
	require.Equal(t, []byte("X"), out.Ops[0].Value)
	require.NotNil(t, out.Ops[1].Value)
	require.Len(t, out.Ops[1].Value, 0)
	require.Nil(t, out.Ops[2].Value)
}

func TestCallbackAbsentVersusEmpty(t *testing.T) {
	absent := roundTripOutput(t, &message.Callback{ID: 1}).(*message.Callback)
	require.Nil(t, absent.Value)

	empty := roundTripOutput(t, &message.Callback{ID: 1, Value: []byte{}}).(*message.Callback)
	require.NotNil(t, empty.Value)
	require.Len(t, empty.Value, 0)

	failed := roundTripOutput(t, &message.Callback{ID: 1, Error: "LEVEL_REMOTE"}).(*message.Callback)
	require.Equal(t, "LEVEL_REMOTE", failed.Error)
}

func TestGetManyCallback(t *testing.T) {
	in := &message.GetManyCallback{ID: 9, Values: [][]byte{[]byte("v"), nil, {}}}
	out := roundTripOutput(t, in).(*message.GetManyCallback)
	require.Equal(t, []byte("v"), out.Values[0])
	require.Nil(t, out.Values[1])
	require.NotNil(t, out.Values[2])
}

func TestIteratorData(t *testing.T) {
	in := &message.IteratorData{ID: 4, Seq: 2, Data: [][]byte{[]byte("k1"), []byte("v1"), {}, []byte("v2")}}
	out := roundTripOutput(t, in).(*message.IteratorData)
	require.Equal(t, in, out)
}

func TestUnknownTagDropped(t *testing.T) {
	m, err := message.DecodeInput([]byte{0x7f, 0x01, 0x02})
	require.NoError(t, err)
	require.Nil(t, m)

	out, err := message.DecodeOutput([]byte{0x7f})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestMalformedPayload(t *testing.T) {
	// A get frame cut off mid-key.
	full := message.EncodeInput(&message.Get{ID: 1, Key: []byte("abcdef")})
	_, err := message.DecodeInput(full[:len(full)-3])
	require.Error(t, err)

	// Trailing garbage is rejected too.
	_, err = message.DecodeInput(append(full, 0xde, 0xad))
	require.Error(t, err)

	_, err = message.DecodeInput(nil)
	require.Error(t, err)
}
