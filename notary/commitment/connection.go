package commitment

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

const bufferSize = 4096

// recorder runs TLS to the upstream server and records the plaintext both
// ways while the application talks to it over an in-memory pipe
type recorder struct {
	logger   *zap.Logger
	protocol notary.ProtocolConfig

	app      net.Conn // engine end of the pipe handed to the application
	upstream *tls.Conn

	mu       sync.Mutex
	sent     []byte
	received []byte
	err      error

	closing  atomic.Bool
	shutOnce sync.Once
}

func dialTLS(ctx context.Context, upstream net.Conn, cfg notary.ProverConfig) (*tls.Conn, error) {
	tlsConn := tls.Client(upstream, &tls.Config{
		ServerName: cfg.ServerName,
		RootCAs:    cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, shared.NewSessionError(shared.KindConnect, "connect",
			fmt.Sprintf("TLS handshake with %s failed", cfg.ServerName), err)
	}
	return tlsConn, nil
}

// run pumps bytes until both directions finish, then reports the result
func (r *recorder) run(ctx context.Context, identity notary.ServerIdentity, done chan<- notary.ConnectResult, onTranscript func(*notary.Transcript)) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pumpSent()
	}()
	go func() {
		defer wg.Done()
		r.pumpReceived()
	}()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.fail(contextError(ctx, "connect", "session cancelled during exchange"))
		case <-finished:
		}
	}()

	wg.Wait()
	close(finished)

	r.mu.Lock()
	result := notary.ConnectResult{
		Transcript: &notary.Transcript{Sent: r.sent, Received: r.received},
		Identity:   identity,
		Err:        r.err,
	}
	r.mu.Unlock()

	if result.Err == nil {
		onTranscript(result.Transcript)
	}

	r.logger.Debug("Upstream exchange finished",
		zap.Int("sent_bytes", len(result.Transcript.Sent)),
		zap.Int("received_bytes", len(result.Transcript.Received)),
		zap.Error(result.Err))

	done <- result
	close(done)
}

// pumpSent forwards application bytes to the upstream server
func (r *recorder) pumpSent() {
	buf := make([]byte, bufferSize)
	for {
		n, err := r.app.Read(buf)
		if n > 0 {
			if !r.record(&r.sent, buf[:n], r.protocol.MaxSentData, "sent") {
				return
			}
			if _, werr := r.upstream.Write(buf[:n]); werr != nil {
				if !r.closing.Load() {
					r.fail(shared.NewSessionError(shared.KindExchange, "connect", "failed to write upstream", werr))
				}
				return
			}
		}
		if err != nil {
			// the application is done with the connection
			r.shutdown()
			return
		}
	}
}

// pumpReceived forwards upstream bytes to the application
func (r *recorder) pumpReceived() {
	buf := make([]byte, bufferSize)
	for {
		n, err := r.upstream.Read(buf)
		if n > 0 {
			if !r.record(&r.received, buf[:n], r.protocol.MaxRecvData, "received") {
				return
			}
			if _, werr := r.app.Write(buf[:n]); werr != nil {
				if !r.closing.Load() {
					r.fail(shared.NewSessionError(shared.KindExchange, "connect", "failed to deliver upstream data", werr))
				}
				return
			}
		}
		if err != nil {
			if !r.closing.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				r.fail(shared.NewSessionError(shared.KindExchange, "connect", "failed to read upstream", err))
				return
			}
			// upstream closed; let the application see EOF
			_ = r.app.Close()
			return
		}
	}
}

// record appends data to the transcript unless it would exceed limit
func (r *recorder) record(dst *[]byte, data []byte, limit int, direction string) bool {
	r.mu.Lock()
	if len(*dst)+len(data) > limit {
		r.mu.Unlock()
		r.fail(shared.NewSessionError(shared.KindProtocolLimitExceeded, "connect",
			fmt.Sprintf("%s data exceeds limit of %d bytes", direction, limit), nil))
		return false
	}
	*dst = append(*dst, data...)
	r.mu.Unlock()
	return true
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.shutdown()
}

func (r *recorder) shutdown() {
	r.shutOnce.Do(func() {
		r.closing.Store(true)
		_ = r.upstream.Close()
		_ = r.app.Close()
	})
}
