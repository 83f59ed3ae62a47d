// Package wstcp bridges websocket connections to a fixed TCP upstream. The
// prover reaches the upstream server through it so that every upstream byte
// travels over the same duplex stream abstraction as the peer traffic.
package wstcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zkrwa-prover/shared"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Proxy forwards each accepted websocket to a new TCP connection to Upstream
type Proxy struct {
	upstream    string
	dialTimeout time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewProxy creates a proxy for upstream (host:port)
func NewProxy(upstream string, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		upstream:    upstream,
		dialTimeout: 10 * time.Second,
		logger:      logger.With(zap.String("component", "wstcp"), zap.String("upstream", upstream)),
	}
}

// ListenAndServe serves the proxy on addr until ctx is cancelled
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("Proxy started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	p.logger.Info("Proxy shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	p.wg.Wait()
	return err
}

// ServeHTTP upgrades the request and bridges it to a fresh upstream connection
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("Failed to upgrade websocket", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	stream := shared.NewWSStream(conn)
	defer stream.Close()

	p.wg.Add(1)
	defer p.wg.Done()

	dialer := &net.Dialer{Timeout: p.dialTimeout}
	target, err := dialer.DialContext(r.Context(), "tcp", p.upstream)
	if err != nil {
		p.logger.Error("Failed to connect to upstream", zap.Error(err))
		return
	}
	defer target.Close()

	p.bridge(r.Context(), stream, target)
}

// bridge copies both ways until either side finishes or ctx ends
func (p *Proxy) bridge(ctx context.Context, stream io.ReadWriteCloser, target net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		written, err := io.Copy(target, stream)
		p.logger.Debug("Stream->Upstream copy ended", zap.Int64("bytes", written), zap.Error(err))
		if tc, ok := target.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		written, err := io.Copy(stream, target)
		p.logger.Debug("Upstream->Stream copy ended", zap.Int64("bytes", written), zap.Error(err))
		_ = stream.Close()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	// unblock whichever copy is still running
	_ = stream.Close()
	_ = target.Close()
	<-done
}
