package domain

import (
	"crypto/ecdsa"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits used for all amounts on
// the wire. The settlement asset is a test stable token with 6 decimals.
const AmountDecimals = 6

// Wallet is a participant identity: an address plus the private key that
// proves ownership of it during the transport authentication handshake.
type Wallet struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// SessionKey is an ephemeral signing key issued for one session. It is
// created during Start and never rotated; state updates for the session are
// authorized with it instead of the wallet key.
type SessionKey struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Allocation assigns an amount of the settlement asset to a participant.
type Allocation struct {
	Participant string          `json:"participant"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
}

// AppDefinition describes the channel application opened for a session.
// Weights and quorum encode the 2-of-2 authorization policy: both
// participants carry weight 50 and the quorum is 100.
type AppDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []int64  `json:"weights"`
	Quorum       uint64   `json:"quorum"`
	Challenge    uint64   `json:"challenge"`
	Nonce        uint64   `json:"nonce"`
	Application  string   `json:"application"`
}

// Session is one metered, two-party payment channel instance.
//
// The registry exclusively owns session records. Callers receive copies and
// mutate only through registry operations; the transport connection and the
// two session keys belong to the record for its whole lifetime.
type Session struct {
	ID                  string
	ChannelSessionID    string
	ParticipantAddress  string
	CounterpartyAddress string
	ParticipantKey      *SessionKey
	CounterpartyKey     *SessionKey
	Conn                ChannelConn
	Asset               string
	InitialAllocation   decimal.Decimal
	UsageCount          uint64
	TotalCost           decimal.Decimal
	StartTime           time.Time
}

// HasParticipant reports whether addr is the session's participant,
// compared case-insensitively as hex addresses are.
func (s *Session) HasParticipant(addr string) bool {
	return strings.EqualFold(s.ParticipantAddress, addr)
}

// SettlementSummary is returned when a session is closed.
type SettlementSummary struct {
	SessionID          string
	ChannelSessionID   string
	UsageCount         uint64
	TotalCost          decimal.Decimal
	Duration           time.Duration
	ParticipantAmount  decimal.Decimal
	CounterpartyAmount decimal.Decimal
}
