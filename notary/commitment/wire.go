package commitment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

// ProtocolVersion is exchanged during setup; peers must match exactly
const ProtocolVersion = "commitment/1"

// Message types
const (
	MsgSetup       = "setup"
	MsgSetupAck    = "setup_ack"
	MsgSetupReject = "setup_reject"
	MsgProof       = "proof"
	MsgVerdict     = "verdict"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type setupMessage struct {
	Version    string `json:"version"`
	ServerName string `json:"server_name"`
	MaxSent    int    `json:"max_sent"`
	MaxRecv    int    `json:"max_recv"`
}

type setupAckMessage struct {
	SessionID string `json:"session_id"`
}

type setupRejectMessage struct {
	Reason string `json:"reason"`
}

type rangeCommitment struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Digest []byte `json:"digest"`
}

type proofMessage struct {
	ServerName      string                   `json:"server_name,omitempty"`
	CertChain       [][]byte                 `json:"cert_chain,omitempty"`
	SentLen         int                      `json:"sent_len"`
	RecvLen         int                      `json:"recv_len"`
	Sent            []notary.RevealedSegment `json:"sent"`
	Received        []notary.RevealedSegment `json:"received"`
	SentCommitments []rangeCommitment        `json:"sent_commitments"`
	RecvCommitments []rangeCommitment        `json:"recv_commitments"`
}

type verdictMessage struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// peer frames JSON messages over the duplex transport to the other role
type peer struct {
	rw      io.ReadWriteCloser
	dec     *json.Decoder
	writeMu sync.Mutex
	enc     *json.Encoder

	closeOnce sync.Once
	closeErr  error
}

func newPeer(rw io.ReadWriteCloser) *peer {
	return &peer{rw: rw, dec: json.NewDecoder(rw), enc: json.NewEncoder(rw)}
}

func (p *peer) send(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", msgType, err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.enc.Encode(envelope{Type: msgType, Payload: raw}); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// receive reads the next message. Cancelling ctx closes the transport so the
// pending read returns.
func (p *peer) receive(ctx context.Context, phase string) (*envelope, error) {
	type result struct {
		env envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var env envelope
		err := p.dec.Decode(&env)
		ch <- result{env: env, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, shared.NewSessionError(shared.KindExchange, phase, "failed to read peer message", r.err)
		}
		return &r.env, nil
	case <-ctx.Done():
		_ = p.close()
		return nil, contextError(ctx, phase, "peer message not received")
	}
}

func (p *peer) expect(ctx context.Context, phase, msgType string, out interface{}) error {
	env, err := p.receive(ctx, phase)
	if err != nil {
		return err
	}
	if env.Type != msgType {
		return shared.NewSessionError(shared.KindExchange, phase, fmt.Sprintf("expected %s message, got %q", msgType, env.Type), nil)
	}
	if err := decodePayload(env, out); err != nil {
		return shared.NewSessionError(shared.KindExchange, phase, "malformed "+msgType+" message", err)
	}
	return nil
}

func decodePayload(env *envelope, out interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("empty %s payload", env.Type)
	}
	return json.Unmarshal(env.Payload, out)
}

func (p *peer) close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.rw.Close()
	})
	return p.closeErr
}

// contextError classifies a cancelled context: deadlines are timeouts,
// anything else aborts the exchange
func contextError(ctx context.Context, phase, message string) error {
	kind := shared.KindExchange
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = shared.KindTimeout
	}
	return shared.NewSessionError(kind, phase, message, ctx.Err())
}
