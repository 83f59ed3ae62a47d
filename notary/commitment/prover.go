package commitment

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

type proverSession struct {
	id        string
	cfg       notary.ProverConfig
	peer      *peer
	committer *committer
	logger    *zap.Logger

	mu         sync.Mutex
	connected  bool
	recorder   *recorder
	transcript *notary.Transcript
	identity   notary.ServerIdentity
}

// Connect runs TLS over upstream and hands back the plaintext side as a pipe
func (s *proverSession) Connect(ctx context.Context, upstream net.Conn) (net.Conn, <-chan notary.ConnectResult, error) {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil, nil, shared.NewSessionError(shared.KindConnect, "connect", "session already connected", nil)
	}
	s.connected = true
	s.mu.Unlock()

	tlsConn, err := dialTLS(ctx, upstream, s.cfg)
	if err != nil {
		return nil, nil, err
	}

	state := tlsConn.ConnectionState()
	identity := notary.ServerIdentity{Name: s.cfg.ServerName}
	for _, cert := range state.PeerCertificates {
		identity.CertChain = append(identity.CertChain, cert.Raw)
	}

	appSide, engineSide := net.Pipe()
	rec := &recorder{
		logger:   s.logger,
		protocol: s.cfg.Protocol,
		app:      engineSide,
		upstream: tlsConn,
	}

	s.mu.Lock()
	s.recorder = rec
	s.identity = identity
	s.mu.Unlock()

	done := make(chan notary.ConnectResult, 1)
	go rec.run(ctx, identity, done, func(t *notary.Transcript) {
		s.mu.Lock()
		s.transcript = t
		s.mu.Unlock()
	})

	s.logger.Debug("Upstream TLS established",
		zap.String("server_name", s.cfg.ServerName),
		zap.Uint16("tls_version", state.Version),
		zap.Int("cert_chain_len", len(identity.CertChain)))

	return appSide, done, nil
}

// Prove discloses the requested ranges and waits for the verifier's verdict
func (s *proverSession) Prove(ctx context.Context, req notary.ProveRequest) error {
	s.mu.Lock()
	transcript := s.transcript
	identity := s.identity
	s.mu.Unlock()

	if transcript == nil {
		return shared.NewSessionError(shared.KindProve, "prove", "transcript not finalized", nil)
	}

	sent, sentCommitments, err := s.committer.commit("sent", transcript.Sent, req.Sent)
	if err != nil {
		return shared.NewSessionError(shared.KindProve, "prove", "failed to commit sent data", err)
	}
	received, recvCommitments, err := s.committer.commit("recv", transcript.Received, req.Received)
	if err != nil {
		return shared.NewSessionError(shared.KindProve, "prove", "failed to commit received data", err)
	}

	proof := proofMessage{
		SentLen:         len(transcript.Sent),
		RecvLen:         len(transcript.Received),
		Sent:            sent,
		Received:        received,
		SentCommitments: sentCommitments,
		RecvCommitments: recvCommitments,
	}
	if req.RevealServerIdentity {
		proof.ServerName = identity.Name
		proof.CertChain = identity.CertChain
	}

	if err := s.peer.send(MsgProof, proof); err != nil {
		return shared.NewSessionError(shared.KindProve, "prove", "failed to send proof", err)
	}

	s.logger.Debug("Proof sent",
		zap.Int("sent_revealed", req.Sent.Len()),
		zap.Int("recv_revealed", req.Received.Len()),
		zap.Bool("reveal_identity", req.RevealServerIdentity))

	var verdict verdictMessage
	if err := s.peer.expect(ctx, "prove", MsgVerdict, &verdict); err != nil {
		return err
	}
	if !verdict.Accepted {
		return shared.NewSessionError(shared.KindRejected, "prove", "verifier rejected proof: "+verdict.Reason, nil)
	}
	return nil
}

func (s *proverSession) Close() error {
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		rec.shutdown()
	}
	return s.peer.close()
}
