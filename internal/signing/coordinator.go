package signing

import (
	"fmt"

	"github.com/scikido/meter/internal/domain"
)

// PayloadBuilder produces the canonical request bytes to be signed.
type PayloadBuilder func() ([]byte, error)

// QuorumMessage is a canonical payload together with the signatures that
// satisfy the session's quorum.
type QuorumMessage struct {
	Payload    []byte
	Signatures []domain.Signature
}

// Coordinator composes individual signatures into quorum-satisfying signed
// messages. The authorization policy is hard-coded 2-of-2: both participants
// must sign the identical canonical request.
type Coordinator struct{}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// SignerFor adapts a session key into the single-signature form the
// transport asks for on open and interim state updates.
func (c *Coordinator) SignerFor(key *domain.SessionKey) domain.SignFunc {
	return func(payload []byte) (domain.Signature, error) {
		return Sign(key, payload)
	}
}

// QuorumSignerFor returns a signer producing both participants' signatures
// over one identical payload, primary first.
func (c *Coordinator) QuorumSignerFor(primary, counterparty *domain.SessionKey) domain.QuorumSignFunc {
	return func(payload []byte) ([]domain.Signature, error) {
		msg, err := c.BuildQuorumMessage(primary, counterparty, func() ([]byte, error) {
			return payload, nil
		})
		if err != nil {
			return nil, err
		}
		return msg.Signatures, nil
	}
}

// BuildQuorumMessage constructs the unsigned payload once, signs it with the
// primary key, then appends the counterparty's signature over the same
// bytes. The message is rejected downstream if either signature is missing
// or covers a mismatched payload, so the payload is built exactly once.
func (c *Coordinator) BuildQuorumMessage(primary, counterparty *domain.SessionKey, build PayloadBuilder) (*QuorumMessage, error) {
	payload, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to build payload: %w", err)
	}

	primarySig, err := Sign(primary, payload)
	if err != nil {
		return nil, fmt.Errorf("primary signature: %w", err)
	}
	counterpartySig, err := Sign(counterparty, payload)
	if err != nil {
		return nil, fmt.Errorf("counterparty signature: %w", err)
	}

	return &QuorumMessage{
		Payload:    payload,
		Signatures: []domain.Signature{primarySig, counterpartySig},
	}, nil
}
