// Package wsstream presents a WebSocket connection as a plain duplex byte
// stream, so WebSocket framing can carry the RPC protocol unchanged. Each
// Write becomes one binary message; Read drains messages as byte chunks, and
// the protocol's own framing reassembles them regardless of message
// boundaries.
package wsstream

import (
	"errors"
	"io"

	"github.com/gorilla/websocket"
)

// Stream adapts a *websocket.Conn to io.ReadWriteCloser. It is safe for one
// concurrent reader and one concurrent writer, matching the underlying
// connection's rules.
type Stream struct {
	conn *websocket.Conn
	r    io.Reader
}

// New wraps conn. The caller hands over ownership; Close closes conn.
func New(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn}
}

func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, readErr(err)
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if errors.Is(err, io.EOF) {
			// Message drained; move on to the next one.
			s.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) Close() error {
	return s.conn.Close()
}

// readErr maps a websocket close handshake to io.EOF so stream consumers see
// an ordinary end of stream.
func readErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}
