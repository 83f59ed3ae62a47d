// Package commitment is a development notarization engine. The prover
// records the TLS plaintext and discloses chosen ranges next to salted
// SHA-256 commitments over everything it hides. It exercises the full
// session shape without MPC and gives the verifier no soundness guarantee
// beyond the upstream certificate chain.
package commitment

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

// Engine implements notary.Engine
type Engine struct {
	logger *zap.Logger
}

var _ notary.Engine = (*Engine)(nil)

// New creates a commitment engine
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.With(zap.String("component", "commitment-engine"))}
}

// SetupProver announces the session parameters and waits for the verifier to accept them
func (e *Engine) SetupProver(ctx context.Context, transport io.ReadWriteCloser, cfg notary.ProverConfig) (notary.ProverSession, error) {
	if err := validateProtocol(cfg.Protocol); err != nil {
		return nil, err
	}
	if cfg.ServerName == "" {
		return nil, shared.NewSessionError(shared.KindSetup, "setup", "server name is required", nil)
	}

	p := newPeer(transport)
	if err := p.send(MsgSetup, setupMessage{
		Version:    ProtocolVersion,
		ServerName: cfg.ServerName,
		MaxSent:    cfg.Protocol.MaxSentData,
		MaxRecv:    cfg.Protocol.MaxRecvData,
	}); err != nil {
		return nil, shared.NewSessionError(shared.KindSetup, "setup", "failed to send setup", err)
	}

	env, err := p.receive(ctx, "setup")
	if err != nil {
		return nil, setupError(err)
	}

	switch env.Type {
	case MsgSetupAck:
		var ack setupAckMessage
		if err := decodePayload(env, &ack); err != nil {
			return nil, shared.NewSessionError(shared.KindSetup, "setup", "malformed setup_ack", err)
		}
		committer, err := newCommitter()
		if err != nil {
			return nil, shared.NewSessionError(shared.KindSetup, "setup", "commitment setup failed", err)
		}
		e.logger.Debug("Prover session set up",
			zap.String("session_id", ack.SessionID),
			zap.String("server_name", cfg.ServerName))
		return &proverSession{
			id:        ack.SessionID,
			cfg:       cfg,
			peer:      p,
			committer: committer,
			logger:    e.logger.With(zap.String("session_id", ack.SessionID)),
		}, nil

	case MsgSetupReject:
		var rej setupRejectMessage
		_ = decodePayload(env, &rej)
		return nil, shared.NewSessionError(shared.KindSetup, "setup", "verifier rejected setup: "+rej.Reason, nil)

	default:
		return nil, shared.NewSessionError(shared.KindSetup, "setup", fmt.Sprintf("unexpected message %q", env.Type), nil)
	}
}

// SetupVerifier waits for the prover's parameters and accepts them only if
// they match this side's protocol configuration
func (e *Engine) SetupVerifier(ctx context.Context, transport io.ReadWriteCloser, cfg notary.VerifierConfig) (notary.VerifierSession, error) {
	if err := validateProtocol(cfg.Protocol); err != nil {
		return nil, err
	}

	p := newPeer(transport)
	var setup setupMessage
	if err := p.expect(ctx, "setup", MsgSetup, &setup); err != nil {
		return nil, setupError(err)
	}

	var reason string
	switch {
	case setup.Version != ProtocolVersion:
		reason = fmt.Sprintf("protocol version %q not supported", setup.Version)
	case setup.MaxSent != cfg.Protocol.MaxSentData || setup.MaxRecv != cfg.Protocol.MaxRecvData:
		reason = fmt.Sprintf("protocol limits differ: prover sent=%d recv=%d, verifier sent=%d recv=%d",
			setup.MaxSent, setup.MaxRecv, cfg.Protocol.MaxSentData, cfg.Protocol.MaxRecvData)
	case setup.ServerName == "":
		reason = "server name missing"
	}
	if reason != "" {
		_ = p.send(MsgSetupReject, setupRejectMessage{Reason: reason})
		return nil, shared.NewSessionError(shared.KindSetup, "setup", reason, nil)
	}

	id := uuid.New().String()
	if err := p.send(MsgSetupAck, setupAckMessage{SessionID: id}); err != nil {
		return nil, shared.NewSessionError(shared.KindSetup, "setup", "failed to acknowledge setup", err)
	}

	e.logger.Debug("Verifier session set up",
		zap.String("session_id", id),
		zap.String("claimed_server", setup.ServerName))

	return &verifierSession{
		id:            id,
		cfg:           cfg,
		peer:          p,
		claimedServer: setup.ServerName,
		logger:        e.logger.With(zap.String("session_id", id)),
	}, nil
}

func validateProtocol(cfg notary.ProtocolConfig) error {
	if cfg.MaxSentData <= 0 || cfg.MaxRecvData <= 0 {
		return shared.NewSessionError(shared.KindSetup, "setup",
			fmt.Sprintf("invalid protocol limits sent=%d recv=%d", cfg.MaxSentData, cfg.MaxRecvData), nil)
	}
	return nil
}

// setupError reports a failed setup exchange as a setup error, keeping timeouts
func setupError(err error) error {
	if shared.KindOf(err) == shared.KindTimeout {
		return err
	}
	return shared.NewSessionError(shared.KindSetup, "setup", "setup exchange failed", err)
}
