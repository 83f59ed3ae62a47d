// Package notary defines the notarization engine the session orchestrators
// drive. The engine owns the cryptographic protocol; callers only sequence it.
package notary

import (
	"context"
	"crypto/x509"
	"io"
	"net"

	"zkrwa-prover/redaction"
)

// ProtocolConfig carries the fixed per-session byte caps. Both roles must
// use the same values or setup fails.
type ProtocolConfig struct {
	MaxSentData int `json:"max_sent_data"`
	MaxRecvData int `json:"max_recv_data"`
}

// ProverConfig configures the prover side of a session
type ProverConfig struct {
	Protocol   ProtocolConfig
	ServerName string         // declared identity of the upstream server
	RootCAs    *x509.CertPool // nil uses the system roots
}

// VerifierConfig configures the verifier side of a session
type VerifierConfig struct {
	Protocol ProtocolConfig
	RootCAs  *x509.CertPool
}

// Transcript holds the application bytes exchanged with the upstream server
type Transcript struct {
	Sent     []byte
	Received []byte
}

// ServerIdentity is what the prover learned about the upstream server
type ServerIdentity struct {
	Name      string
	CertChain [][]byte // DER, leaf first
}

// ConnectResult is delivered exactly once when the background protocol task ends
type ConnectResult struct {
	Transcript *Transcript
	Identity   ServerIdentity
	Err        error
}

// ProveRequest selects what the prover discloses
type ProveRequest struct {
	Sent                 redaction.RangeSet
	Received             redaction.RangeSet
	RevealServerIdentity bool
}

// RevealedSegment is a disclosed range together with its bytes
type RevealedSegment struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Data  []byte `json:"data"`
}

// VerifiedDisclosure is what the verifier accepts after checking a proof
type VerifiedDisclosure struct {
	ServerName string            `json:"server_name"`
	SentLen    int               `json:"sent_len"`
	RecvLen    int               `json:"recv_len"`
	Sent       []RevealedSegment `json:"sent"`
	Received   []RevealedSegment `json:"received"`
}

// Engine creates protocol sessions over a duplex transport to the peer
type Engine interface {
	SetupProver(ctx context.Context, transport io.ReadWriteCloser, cfg ProverConfig) (ProverSession, error)
	SetupVerifier(ctx context.Context, transport io.ReadWriteCloser, cfg VerifierConfig) (VerifierSession, error)
}

// ProverSession is the prover half of a set-up session.
//
// Connect takes ownership of upstream and returns the connection the
// application speaks plaintext HTTP over. The background task runs until the
// application closes that connection, the upstream hangs up or ctx ends, then
// sends one ConnectResult on the returned channel. Callers stop waiting for
// that result a bounded time after the session ends.
type ProverSession interface {
	Connect(ctx context.Context, upstream net.Conn) (net.Conn, <-chan ConnectResult, error)
	Prove(ctx context.Context, req ProveRequest) error
	Close() error
}

// VerifierSession is the verifier half of a set-up session
type VerifierSession interface {
	// Verify waits for the prover's proof and checks it
	Verify(ctx context.Context) (*VerifiedDisclosure, error)
	// Conclude tells the prover whether the disclosure was accepted
	Conclude(ctx context.Context, accepted bool, reason string) error
	Close() error
}

// Text concatenates segment bytes, marking hidden gaps with sep
func Text(segments []RevealedSegment, total int, sep string) string {
	var out []byte
	cursor := 0
	for _, s := range segments {
		if s.Start > cursor {
			out = append(out, sep...)
		}
		out = append(out, s.Data...)
		cursor = s.End
	}
	if cursor < total {
		out = append(out, sep...)
	}
	return string(out)
}
