// Package signing creates session keys and produces the signatures that
// authorize channel state transitions. One coordinator owns the quorum
// composition, so the 2-of-2 policy is written once and testable without a
// live transport.
package signing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/scikido/meter/internal/domain"
)

// GenerateSessionKey creates a fresh ephemeral secp256k1 keypair. Session
// keys authorize state updates in place of the wallet key and are never
// rotated.
func GenerateSessionKey() (*domain.SessionKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return &domain.SessionKey{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, nil
}

// Sign produces an ECDSA signature over keccak256 of the canonical payload
// bytes, with the recovery byte shifted to the 27/28 convention the channel
// network expects. Deterministic for a fixed key and payload.
func Sign(key *domain.SessionKey, payload []byte) (domain.Signature, error) {
	hash := crypto.Keccak256(payload)
	sig, err := crypto.Sign(hash, key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	sig[64] += 27
	return domain.Signature(hexutil.Encode(sig)), nil
}

// RecoverSigner returns the address that produced the signature over the
// payload. Used to verify signatures in the auth handshake and in tests.
func RecoverSigner(payload []byte, signature domain.Signature) (string, error) {
	sig, err := hexutil.Decode(string(signature))
	if err != nil {
		return "", fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
