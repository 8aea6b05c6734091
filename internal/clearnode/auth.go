package clearnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/scikido/meter/internal/domain"
	"github.com/scikido/meter/internal/signing"
)

// clientName identifies this application in the auth handshake.
const clientName = "meter"

type authParams struct {
	Address    string      `json:"address"`
	SessionKey string      `json:"session_key"`
	AppName    string      `json:"app_name"`
	Allowances []allowance `json:"allowances"`
}

type allowance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Authenticate runs the three-step handshake: auth_request announces the
// wallet and a freshly generated session key, auth_challenge returns a
// challenge message, auth_verify proves wallet ownership by signing it.
// The returned session key authorizes subsequent state updates.
func (c *Conn) Authenticate(ctx context.Context, wallet domain.Wallet) (*domain.SessionKey, error) {
	sessionKey, err := signing.GenerateSessionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}

	walletKey := &domain.SessionKey{Address: wallet.Address, PrivateKey: wallet.PrivateKey}
	walletSigner := quorumOf(func(payload []byte) (domain.Signature, error) {
		return signing.Sign(walletKey, payload)
	})

	request := authParams{
		Address:    wallet.Address.Hex(),
		SessionKey: sessionKey.Address.Hex(),
		AppName:    clientName,
		Allowances: []allowance{},
	}

	challengeMsg, err := c.call(ctx, methodAuthRequest, request, walletSigner)
	if err != nil {
		return nil, authError(err)
	}
	if challengeMsg.method != methodAuthChallenge {
		return nil, fmt.Errorf("%w: expected %s, got %s", domain.ErrAuthFailed, methodAuthChallenge, challengeMsg.method)
	}

	var challenge struct {
		ChallengeMessage string `json:"challenge_message"`
	}
	if err := challengeMsg.firstParam(&challenge); err != nil {
		return nil, fmt.Errorf("%w: malformed challenge: %v", domain.ErrAuthFailed, err)
	}
	if challenge.ChallengeMessage == "" {
		return nil, fmt.Errorf("%w: empty challenge", domain.ErrAuthFailed)
	}

	verifyMsg, err := c.call(ctx, methodAuthVerify, map[string]string{"challenge": challenge.ChallengeMessage}, walletSigner)
	if err != nil {
		return nil, authError(err)
	}

	var verdict struct {
		Success *bool `json:"success"`
	}
	if err := verifyMsg.firstParam(&verdict); err == nil && verdict.Success != nil && !*verdict.Success {
		return nil, fmt.Errorf("%w: verification refused for %s", domain.ErrAuthFailed, wallet.Address.Hex())
	}

	return sessionKey, nil
}

// authError folds server rejections into ErrAuthFailed while leaving
// timeouts and connection failures distinguishable for the caller.
func authError(err error) error {
	if errors.Is(err, domain.ErrTransportRejected) {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	return err
}
