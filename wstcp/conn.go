package wstcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"zkrwa-prover/shared"
)

// Conn is a websocket stream exposed as a net.Conn
type Conn struct {
	*shared.WSStream
	ws *websocket.Conn
}

// NewConn wraps ws. The returned Conn owns ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{WSStream: shared.NewWSStream(ws), ws: ws}
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// Dialer returns a dial function that reaches the proxy's upstream through
// the websocket endpoint at proxyURL. The proxy owns the upstream address, so
// the address argument is only used in errors.
func Dialer(proxyURL string) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, proxyURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to reach %s through proxy %s: %w", address, proxyURL, err)
		}
		return NewConn(ws), nil
	}
}
