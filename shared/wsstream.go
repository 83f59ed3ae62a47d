package shared

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var errClosedStream = errors.New("websocket stream closed")

// WSStream exposes a websocket connection as a duplex byte stream.
// Each Write is sent as one binary message; Read concatenates message payloads.
type WSStream struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewWSStream wraps conn. The caller hands ownership of conn to the stream.
func NewWSStream(conn *websocket.Conn) *WSStream {
	return &WSStream{conn: conn}
}

// Read implements io.Reader
func (s *WSStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write implements io.Writer
func (s *WSStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return 0, errClosedStream
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame and closes the underlying connection.
// It does not wait for a Write blocked on a stalled peer; closing the
// connection is what unblocks that Write.
func (s *WSStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// WriteControl may run concurrently with WriteMessage
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// RemoteAddr returns the peer address of the websocket
func (s *WSStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
