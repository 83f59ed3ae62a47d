package verifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zkrwa-prover/shared"
)

// AttestationPayload is the statement a verifier signs after accepting a disclosure
type AttestationPayload struct {
	SessionID    string            `json:"session_id"`
	ServerName   string            `json:"server_name"`
	SentLen      int               `json:"sent_len"`
	ReceivedLen  int               `json:"received_len"`
	SentText     string            `json:"sent_text"`
	ReceivedText string            `json:"received_text"`
	Fields       map[string]string `json:"fields"`
	IssuedAt     int64             `json:"issued_at"`
}

// Attestation is a payload signed with the verifier's secp256k1 key
type Attestation struct {
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
	Signer    string          `json:"signer"` // 0x address
}

// Sign serializes payload and signs it with Ethereum personal-message hashing
func Sign(payload AttestationPayload, key *shared.SigningKeyPair) (*Attestation, error) {
	if payload.IssuedAt == 0 {
		payload.IssuedAt = time.Now().Unix()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attestation payload: %w", err)
	}
	sig, err := key.SignData(raw)
	if err != nil {
		return nil, err
	}
	return &Attestation{
		Payload:   raw,
		Signature: sig,
		Signer:    key.GetEthAddress().Hex(),
	}, nil
}

// Check verifies the signature against the embedded signer address and, when
// trusted is non-empty, that the signer is the trusted address
func (a *Attestation) Check(trusted string) (*AttestationPayload, error) {
	if !common.IsHexAddress(a.Signer) {
		return nil, fmt.Errorf("invalid signer address %q", a.Signer)
	}
	signer := common.HexToAddress(a.Signer)
	if trusted != "" && signer != common.HexToAddress(trusted) {
		return nil, fmt.Errorf("attestation signed by %s, expected %s", signer.Hex(), trusted)
	}
	if err := shared.VerifyEthSignature(a.Payload, a.Signature, signer); err != nil {
		return nil, err
	}

	var payload AttestationPayload
	if err := json.Unmarshal(a.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode attestation payload: %w", err)
	}
	return &payload, nil
}
