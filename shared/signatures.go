package shared

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningKeyPair represents an ECDSA secp256k1 key pair for Ethereum-style signatures
type SigningKeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// GenerateSigningKeyPair generates a new secp256k1 signing key pair
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key pair: %v", err)
	}
	return &SigningKeyPair{PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}, nil
}

// LoadOrGenerateSigningKey loads a secp256k1 key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (*SigningKeyPair, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return GenerateSigningKeyPair()
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &SigningKeyPair{PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}, nil
}

// SignData signs data using Ethereum personal-message hashing.
// The 65-byte signature carries the recovery ID.
func (kp *SigningKeyPair) SignData(data []byte) ([]byte, error) {
	hash := accounts.TextHash(data)
	signature, err := crypto.Sign(hash, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign data with ETH style: %v", err)
	}
	return signature, nil
}

// GetEthAddress returns the Ethereum address for this key pair
func (kp *SigningKeyPair) GetEthAddress() common.Address {
	return crypto.PubkeyToAddress(*kp.PublicKey)
}

// VerifyEthSignature verifies an Ethereum-style signature against the given data and address
func VerifyEthSignature(data []byte, signature []byte, expectedAddress common.Address) error {
	if len(signature) != 65 {
		return fmt.Errorf("invalid ETH signature length: expected 65 bytes, got %d", len(signature))
	}

	hash := accounts.TextHash(data)
	recoveredPubKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return fmt.Errorf("failed to recover public key from signature: %v", err)
	}

	recoveredAddress := crypto.PubkeyToAddress(*recoveredPubKey)
	if recoveredAddress != expectedAddress {
		return fmt.Errorf("signature verification failed: expected address %s, got %s",
			expectedAddress.Hex(), recoveredAddress.Hex())
	}
	return nil
}
