// Package prover drives the prover side of a notarized session: setup with
// the remote verifier, one request/response exchange with the upstream
// server, disclosure planning and proving.
package prover

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/providers"
	"zkrwa-prover/redaction"
	"zkrwa-prover/shared"
)

// DialFunc opens the TCP connection to the upstream server
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config is the read-only configuration shared by all prover sessions
type Config struct {
	Protocol   notary.ProtocolConfig
	Target     Target
	Credential shared.SecretSource
	RootCAs    *x509.CertPool
	Dial       DialFunc
}

// Result summarizes a successful session
type Result struct {
	StatusCode  int
	SentLen     int
	ReceivedLen int
	Sent        redaction.RangeSet
	Received    redaction.RangeSet
}

// Orchestrator creates prover sessions
type Orchestrator struct {
	engine  notary.Engine
	planner *redaction.Planner
	cfg     Config
	logger  *zap.Logger

	drainWait time.Duration
}

// New creates a prover orchestrator
func New(engine notary.Engine, planner *redaction.Planner, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: 30 * time.Second}
		cfg.Dial = d.DialContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: engine, planner: planner, cfg: cfg, logger: logger, drainWait: drainWait}
}

// Session is one run of the prover state machine
type Session struct {
	id     string
	o      *Orchestrator
	logger *zap.Logger

	mu    sync.Mutex
	state State
	trail []State
}

// NewSession creates a session in the Idle state
func (o *Orchestrator) NewSession(id string) *Session {
	return &Session{
		id:     id,
		o:      o,
		logger: o.logger.With(zap.String("session_id", id), zap.String("role", string(shared.RoleProver))),
		state:  StateIdle,
		trail:  []State{StateIdle},
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trail returns every state the session has been in, in order
func (s *Session) Trail() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.trail...)
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if !validTransition(from, to) {
		s.mu.Unlock()
		panic(fmt.Sprintf("prover: invalid transition %s -> %s", from, to))
	}
	s.state = to
	s.trail = append(s.trail, to)
	s.mu.Unlock()

	s.logger.Debug("State transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

// fail moves the session to Failed and tags err with the phase it failed in.
// An expired session deadline always surfaces as a timeout.
func (s *Session) fail(ctx context.Context, kind shared.ErrorKind, err error) error {
	phase := s.State().String()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && shared.KindOf(err) != shared.KindTimeout {
		err = shared.NewSessionError(shared.KindTimeout, phase, "session deadline exceeded", err)
	} else {
		err = shared.WrapKind(kind, phase, err)
	}
	s.transition(StateFailed)
	return err
}

// Run executes the whole state machine over transport, the duplex
// connection to the remote verifier. Every error is fatal for the session.
func (s *Session) Run(ctx context.Context, transport io.ReadWriteCloser) (*Result, error) {
	cfg := s.o.cfg

	s.transition(StateSettingUp)

	credential, err := cfg.Credential.Secret(ctx)
	if err != nil {
		return nil, s.fail(ctx, shared.KindSetup, fmt.Errorf("failed to resolve upstream credential: %w", err))
	}

	session, err := s.o.engine.SetupProver(ctx, transport, notary.ProverConfig{
		Protocol:   cfg.Protocol,
		ServerName: cfg.Target.ServerName,
		RootCAs:    cfg.RootCAs,
	})
	if err != nil {
		return nil, s.fail(ctx, shared.KindSetup, err)
	}

	var background *task
	defer func() {
		_ = session.Close()
		if background != nil && !background.drain(s.o.drainWait) {
			s.logger.Warn("Background protocol task did not report, abandoning it",
				zap.Duration("waited", s.o.drainWait))
		}
	}()

	upstream, err := cfg.Dial(ctx, "tcp", cfg.Target.Address)
	if err != nil {
		return nil, s.fail(ctx, shared.KindConnect, fmt.Errorf("failed to dial %s: %w", cfg.Target.Address, err))
	}

	conn, done, err := session.Connect(ctx, upstream)
	if err != nil {
		_ = upstream.Close()
		return nil, s.fail(ctx, shared.KindConnect, err)
	}
	background = &task{done: done}
	s.transition(StateConnected)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write(cfg.Target.Request(credential)); err != nil {
		_ = conn.Close()
		return nil, s.fail(ctx, shared.KindExchange, background.explain(fmt.Errorf("failed to send request: %w", err)))
	}
	s.transition(StateRequestSent)

	s.logger.Debug("Request sent upstream",
		zap.String("server_name", cfg.Target.ServerName),
		zap.String("path", cfg.Target.Path),
		zap.Bool("credential_present", credential != ""))

	s.transition(StateAwaitingResponse)
	resp, err := readResponse(conn)
	_ = conn.Close()
	if err != nil {
		return nil, s.fail(ctx, shared.KindExchange, background.explain(err))
	}

	// the transcript is final only once the background task has finished
	result, err := background.wait(ctx)
	if err != nil {
		return nil, s.fail(ctx, shared.KindTimeout, err)
	}
	if result.Err != nil {
		return nil, s.fail(ctx, shared.KindExchange, result.Err)
	}
	if !resp.IsSuccess() {
		return nil, s.fail(ctx, shared.KindExchange,
			fmt.Errorf("upstream returned status %d %s", resp.StatusCode, resp.StatusMessage))
	}

	s.transition(StateComputingDisclosure)

	sentSet, err := s.o.planner.PlanSent(result.Transcript.Sent)
	if err != nil {
		return nil, s.fail(ctx, shared.KindPlanUnsatisfiable, err)
	}
	recvSet, err := s.o.planner.PlanReceived(result.Transcript.Received)
	if err != nil {
		return nil, s.fail(ctx, shared.KindPlanUnsatisfiable, err)
	}

	s.transition(StateProving)

	if err := session.Prove(ctx, notary.ProveRequest{
		Sent:                 sentSet,
		Received:             recvSet,
		RevealServerIdentity: true,
	}); err != nil {
		return nil, s.fail(ctx, shared.KindProve, err)
	}

	s.transition(StateClosed)

	s.logger.Info("Proof accepted by verifier",
		zap.Int("status_code", resp.StatusCode),
		zap.Int("sent_len", len(result.Transcript.Sent)),
		zap.Int("recv_len", len(result.Transcript.Received)),
		zap.Int("sent_revealed", sentSet.Len()),
		zap.Int("recv_revealed", recvSet.Len()))

	return &Result{
		StatusCode:  resp.StatusCode,
		SentLen:     len(result.Transcript.Sent),
		ReceivedLen: len(result.Transcript.Received),
		Sent:        sentSet,
		Received:    recvSet,
	}, nil
}

// readResponse reads exactly one HTTP response from conn
func readResponse(conn net.Conn) (*providers.ResponseSpans, error) {
	parser := providers.NewHTTPResponseParser()
	buf := make([]byte, 4096)
	for !parser.IsComplete() {
		n, err := conn.Read(buf)
		if n > 0 {
			if perr := parser.OnChunk(buf[:n]); perr != nil {
				return nil, shared.NewSessionError(shared.KindExchange, StateAwaitingResponse.String(), "malformed upstream response", perr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to read response: %w", err)
			}
			if perr := parser.StreamEnded(); perr != nil {
				return nil, shared.NewSessionError(shared.KindExchange, StateAwaitingResponse.String(), "incomplete upstream response", perr)
			}
		}
	}
	return parser.Response, nil
}
