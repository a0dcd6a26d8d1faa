package transport

import (
	"bytes"
	"errors"
	"io"

	"github.com/gorilla/websocket"
)

// DefaultReadChunk is the receive buffer size; larger messages arrive as
// several fragments.
const DefaultReadChunk = 1024

// Fragment is one read from the socket. Final marks the end of a message.
type Fragment struct {
	Data  []byte
	Final bool
}

// FragmentReader yields the fragments of consecutive messages.
type FragmentReader interface {
	ReadFragment() (Fragment, error)
}

// wsFragments reads the current WebSocket message in fixed-size chunks.
type wsFragments struct {
	conn  *websocket.Conn
	chunk int
	cur   io.Reader
}

func newFragmentReader(conn *websocket.Conn, chunk int) *wsFragments {
	if chunk <= 0 {
		chunk = DefaultReadChunk
	}
	return &wsFragments{conn: conn, chunk: chunk}
}

func (f *wsFragments) ReadFragment() (Fragment, error) {
	for {
		if f.cur == nil {
			_, r, err := f.conn.NextReader()
			if err != nil {
				return Fragment{}, err
			}
			f.cur = r
		}

		buf := make([]byte, f.chunk)
		n, err := f.cur.Read(buf)
		if errors.Is(err, io.EOF) {
			f.cur = nil
			return Fragment{Data: buf[:n], Final: true}, nil
		}
		if err != nil {
			f.cur = nil
			return Fragment{}, err
		}
		if n == 0 {
			continue
		}
		return Fragment{Data: buf[:n]}, nil
	}
}

// assembler concatenates fragments until one is marked final.
type assembler struct {
	buf bytes.Buffer
}

// add appends f and returns the complete message once f is final.
func (a *assembler) add(f Fragment) ([]byte, bool) {
	a.buf.Write(f.Data)
	if !f.Final {
		return nil, false
	}
	msg := make([]byte, a.buf.Len())
	copy(msg, a.buf.Bytes())
	a.buf.Reset()
	return msg, true
}

// pending reports how many bytes of an incomplete message are buffered.
func (a *assembler) pending() int {
	return a.buf.Len()
}
