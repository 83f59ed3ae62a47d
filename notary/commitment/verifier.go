package commitment

import (
	"context"
	"crypto/x509"
	"fmt"

	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

type verifierSession struct {
	id            string
	cfg           notary.VerifierConfig
	peer          *peer
	claimedServer string
	logger        *zap.Logger
}

// Verify reads the proof and checks its structure and the server's certificate chain
func (s *verifierSession) Verify(ctx context.Context) (*notary.VerifiedDisclosure, error) {
	var proof proofMessage
	if err := s.peer.expect(ctx, "verify", MsgProof, &proof); err != nil {
		return nil, err
	}

	if proof.SentLen < 0 || proof.RecvLen < 0 ||
		proof.SentLen > s.cfg.Protocol.MaxSentData || proof.RecvLen > s.cfg.Protocol.MaxRecvData {
		return nil, shared.NewSessionError(shared.KindProtocolLimitExceeded, "verify",
			fmt.Sprintf("transcript sizes sent=%d recv=%d exceed limits", proof.SentLen, proof.RecvLen), nil)
	}

	if err := checkCoverage("sent", proof.SentLen, proof.Sent, proof.SentCommitments); err != nil {
		return nil, shared.NewSessionError(shared.KindVerify, "verify", "invalid sent disclosure", err)
	}
	if err := checkCoverage("recv", proof.RecvLen, proof.Received, proof.RecvCommitments); err != nil {
		return nil, shared.NewSessionError(shared.KindVerify, "verify", "invalid received disclosure", err)
	}

	if proof.ServerName != "" {
		if proof.ServerName != s.claimedServer {
			return nil, shared.NewSessionError(shared.KindVerify, "verify",
				fmt.Sprintf("proof names %q but setup declared %q", proof.ServerName, s.claimedServer), nil)
		}
		if err := s.verifyChain(proof.ServerName, proof.CertChain); err != nil {
			return nil, shared.NewSessionError(shared.KindVerify, "verify", "server certificate rejected", err)
		}
	}

	s.logger.Debug("Proof verified",
		zap.String("server_name", proof.ServerName),
		zap.Int("sent_len", proof.SentLen),
		zap.Int("recv_len", proof.RecvLen),
		zap.Int("sent_segments", len(proof.Sent)),
		zap.Int("recv_segments", len(proof.Received)))

	return &notary.VerifiedDisclosure{
		ServerName: proof.ServerName,
		SentLen:    proof.SentLen,
		RecvLen:    proof.RecvLen,
		Sent:       proof.Sent,
		Received:   proof.Received,
	}, nil
}

func (s *verifierSession) verifyChain(serverName string, chain [][]byte) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty certificate chain")
	}
	certs := make([]*x509.Certificate, 0, len(chain))
	for i, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		DNSName:       serverName,
		Roots:         s.cfg.RootCAs,
		Intermediates: intermediates,
	}
	_, err := certs[0].Verify(opts)
	return err
}

func (s *verifierSession) Conclude(ctx context.Context, accepted bool, reason string) error {
	if err := s.peer.send(MsgVerdict, verdictMessage{Accepted: accepted, Reason: reason}); err != nil {
		return shared.NewSessionError(shared.KindExchange, "verify", "failed to send verdict", err)
	}
	return nil
}

func (s *verifierSession) Close() error {
	return s.peer.close()
}
