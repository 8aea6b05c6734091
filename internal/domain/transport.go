package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Signature is a 65-byte ECDSA signature, hex-encoded with a 0x prefix,
// as the channel network expects it on the wire.
type Signature string

// SignFunc produces one signature over the canonical payload bytes of a
// request. The transport builds the payload and hands it to the signer so
// that signing stays independent of wire plumbing.
type SignFunc func(payload []byte) (Signature, error)

// QuorumSignFunc produces the full signature set required by the session's
// quorum policy over one identical canonical payload.
type QuorumSignFunc func(payload []byte) ([]Signature, error)

// ChannelConn is one authenticated connection to the state-channel network.
// A connection is owned by exactly one session record once the session is
// created; Close releases it.
type ChannelConn interface {
	// Authenticate runs the auth handshake for a wallet and returns the
	// session signing key the network will accept for it. Fails with
	// ErrAuthFailed, ErrConnectionFailed or ErrTransportTimeout.
	Authenticate(ctx context.Context, wallet Wallet) (*SessionKey, error)

	// OpenSession submits a signed open-session message and returns the
	// channel-assigned session identifier. A response without an identifier
	// fails with ErrMissingSessionID.
	OpenSession(ctx context.Context, def AppDefinition, allocations []Allocation, sign SignFunc) (string, error)

	// UpdateSessionState restates the session's current allocation. Interim
	// updates need only the participant's signature.
	UpdateSessionState(ctx context.Context, channelSessionID string, allocations []Allocation, sign SignFunc) error

	// CloseSession submits the final allocation signed by the full quorum.
	CloseSession(ctx context.Context, channelSessionID string, allocations []Allocation, sign QuorumSignFunc) error

	Close() error
}

// ChannelDialer opens connections to the channel network.
type ChannelDialer interface {
	Dial(ctx context.Context) (ChannelConn, error)
}

// SessionStore abstracts the session registry for the lifecycle controller.
type SessionStore interface {
	Create(session *Session) error
	Get(sessionID string) (*Session, error)
	GetByParticipant(address string) (*Session, error)
	IncrementUsage(sessionID string, cost decimal.Decimal) (*Session, error)
	// Remove takes the session out of service and returns its final state.
	// After Remove returns, no increment can land on the session.
	Remove(sessionID string) (*Session, error)
	Delete(sessionID string) bool
	List() []*Session
	Len() int
}
