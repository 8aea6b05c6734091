package clearnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scikido/meter/internal/domain"
	"github.com/scikido/meter/internal/platform/retry"
)

// wireAllocation is the on-wire allocation shape. Amounts are fixed to the
// asset's decimal precision so both signers marshal identical bytes.
type wireAllocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

func toWire(allocations []domain.Allocation) []wireAllocation {
	wire := make([]wireAllocation, len(allocations))
	for i, a := range allocations {
		wire[i] = wireAllocation{
			Participant: a.Participant,
			Asset:       a.Asset,
			Amount:      a.Amount.StringFixed(domain.AmountDecimals),
		}
	}
	return wire
}

type createSessionParams struct {
	Definition  domain.AppDefinition `json:"definition"`
	Allocations []wireAllocation     `json:"allocations"`
}

type sessionStateParams struct {
	AppSessionID string           `json:"app_session_id"`
	Allocations  []wireAllocation `json:"allocations"`
}

// OpenSession submits create_app_session and returns the channel-assigned
// session identifier.
func (c *Conn) OpenSession(ctx context.Context, def domain.AppDefinition, allocations []domain.Allocation, sign domain.SignFunc) (string, error) {
	params := createSessionParams{Definition: def, Allocations: toWire(allocations)}

	msg, err := c.call(ctx, methodCreateSession, params, quorumOf(sign))
	if err != nil {
		return "", err
	}

	var resp struct {
		AppSessionID string `json:"app_session_id"`
	}
	if err := msg.firstParam(&resp); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMissingSessionID, err)
	}
	if resp.AppSessionID == "" {
		return "", domain.ErrMissingSessionID
	}

	return resp.AppSessionID, nil
}

// UpdateSessionState restates the session's allocation via submit_app_state.
// The restatement is absolute, so resubmitting after a torn response is
// safe; transient failures are retried with backoff.
func (c *Conn) UpdateSessionState(ctx context.Context, channelSessionID string, allocations []domain.Allocation, sign domain.SignFunc) error {
	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Retrying state update",
				"channel_session_id", channelSessionID,
				"attempt", attempt,
				"backoff", backoff,
				"error", err)
		},
	}

	return retry.DoVoid(ctx, policy, classifyTransportErr, func() error {
		_, err := c.call(ctx, methodSubmitState, sessionStateParams{
			AppSessionID: channelSessionID,
			Allocations:  toWire(allocations),
		}, quorumOf(sign))
		return err
	})
}

// CloseSession submits close_app_session with the full quorum signature set.
func (c *Conn) CloseSession(ctx context.Context, channelSessionID string, allocations []domain.Allocation, sign domain.QuorumSignFunc) error {
	_, err := c.call(ctx, methodCloseSession, sessionStateParams{
		AppSessionID: channelSessionID,
		Allocations:  toWire(allocations),
	}, sign)
	return err
}

// classifyTransportErr treats server rejections as authoritative; only
// timeouts and torn connections are worth another attempt.
func classifyTransportErr(err error) retry.Action {
	if errors.Is(err, domain.ErrTransportRejected) {
		return retry.Stop
	}
	return retry.Retry
}
