// Package verifier drives the verifier side of a notarized session: it
// accepts the prover's disclosure, checks the upstream identity and the
// disclosed fields, and returns a signed attestation.
package verifier

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

// Config is the read-only configuration shared by all verifier sessions
type Config struct {
	Protocol           notary.ProtocolConfig
	ExpectedServerName string
	RootCAs            *x509.CertPool
	// ExpectedFields are JSON paths that must be disclosed with their key
	ExpectedFields []string
	// Signer signs accepted disclosures; nil skips the attestation
	Signer *shared.SigningKeyPair
}

// Result is an accepted disclosure
type Result struct {
	ServerName   string
	SentLen      int
	ReceivedLen  int
	SentText     string
	ReceivedText string
	Fields       map[string]string
	Attestation  *Attestation
}

// Orchestrator creates verifier sessions
type Orchestrator struct {
	engine notary.Engine
	cfg    Config
	logger *zap.Logger
}

// New creates a verifier orchestrator
func New(engine notary.Engine, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: engine, cfg: cfg, logger: logger}
}

// Session is one run of the verifier state machine
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
		logger: o.logger.With(zap.String("session_id", id), zap.String("role", string(shared.RoleVerifier))),
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
		panic(fmt.Sprintf("verifier: invalid transition %s -> %s", from, to))
	}
	s.state = to
	s.trail = append(s.trail, to)
	s.mu.Unlock()

	s.logger.Debug("State transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

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

// Run executes the verifier state machine over transport. A disclosure from
// the wrong server, or one missing an expected field, is rejected and the
// prover is told why.
func (s *Session) Run(ctx context.Context, transport io.ReadWriteCloser) (*Result, error) {
	cfg := s.o.cfg

	s.transition(StateSettingUp)
	session, err := s.o.engine.SetupVerifier(ctx, transport, notary.VerifierConfig{
		Protocol: cfg.Protocol,
		RootCAs:  cfg.RootCAs,
	})
	if err != nil {
		return nil, s.fail(ctx, shared.KindSetup, err)
	}
	defer session.Close()

	s.transition(StateAwaitingProof)
	disclosure, err := session.Verify(ctx)
	if err != nil {
		s.reject(ctx, session, err.Error())
		return nil, s.fail(ctx, shared.KindVerify, err)
	}

	s.transition(StateVerifying)

	if !strings.EqualFold(disclosure.ServerName, cfg.ExpectedServerName) {
		err := shared.NewSessionError(shared.KindRejected, s.State().String(),
			fmt.Sprintf("server %q does not match expected %q", disclosure.ServerName, cfg.ExpectedServerName), nil)
		s.reject(ctx, session, err.Error())
		return nil, s.fail(ctx, shared.KindRejected, err)
	}

	fields, missing, ambiguous := matchFields(cfg.ExpectedFields, extractFields(disclosure.Received))
	if len(missing) > 0 || len(ambiguous) > 0 {
		var problems []string
		if len(missing) > 0 {
			problems = append(problems, "fields not disclosed: "+strings.Join(missing, ", "))
		}
		if len(ambiguous) > 0 {
			problems = append(problems, "fields ambiguous: "+strings.Join(ambiguous, ", "))
		}
		err := shared.NewSessionError(shared.KindRejected, s.State().String(), strings.Join(problems, "; "), nil)
		s.reject(ctx, session, err.Error())
		return nil, s.fail(ctx, shared.KindRejected, err)
	}

	result := &Result{
		ServerName:   disclosure.ServerName,
		SentLen:      disclosure.SentLen,
		ReceivedLen:  disclosure.RecvLen,
		SentText:     notary.Text(disclosure.Sent, disclosure.SentLen, "..."),
		ReceivedText: notary.Text(disclosure.Received, disclosure.RecvLen, "..."),
		Fields:       fields,
	}

	if cfg.Signer != nil {
		result.Attestation, err = Sign(AttestationPayload{
			SessionID:    s.id,
			ServerName:   result.ServerName,
			SentLen:      result.SentLen,
			ReceivedLen:  result.ReceivedLen,
			SentText:     result.SentText,
			ReceivedText: result.ReceivedText,
			Fields:       fields,
		}, cfg.Signer)
		if err != nil {
			s.reject(ctx, session, "attestation failed")
			return nil, s.fail(ctx, shared.KindInternal, err)
		}
	}

	if err := session.Conclude(ctx, true, ""); err != nil {
		return nil, s.fail(ctx, shared.KindVerify, err)
	}
	s.transition(StateClosed)

	s.logger.Info("Disclosure accepted",
		zap.String("server_name", result.ServerName),
		zap.Int("sent_len", result.SentLen),
		zap.Int("recv_len", result.ReceivedLen),
		zap.Int("fields", len(fields)))

	return result, nil
}

// reject tells the prover why on a best-effort basis
func (s *Session) reject(ctx context.Context, session notary.VerifierSession, reason string) {
	if err := session.Conclude(ctx, false, reason); err != nil {
		s.logger.Debug("Failed to send verdict", zap.Error(err))
	}
}
