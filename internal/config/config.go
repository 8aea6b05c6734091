package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go-simpler.org/env"

	"github.com/scikido/meter/internal/domain"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	ClearnodeWSURL        string `env:"CLEARNODE_WS_URL"`
	ParticipantWalletKey  string `env:"PARTICIPANT_WALLET_KEY"`
	CounterpartyWalletKey string `env:"COUNTERPARTY_WALLET_KEY"`

	SettlementAsset   string `env:"SETTLEMENT_ASSET" default:"ytest.usd"`
	SessionAllocation string `env:"SESSION_ALLOCATION" default:"0.01"`
	DefaultUsageCost  string `env:"DEFAULT_USAGE_COST" default:"0.001"`

	TransportTimeout time.Duration `env:"TRANSPORT_TIMEOUT" default:"30s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"CLEARNODE_WS_URL":        cfg.ClearnodeWSURL,
		"PARTICIPANT_WALLET_KEY":  cfg.ParticipantWalletKey,
		"COUNTERPARTY_WALLET_KEY": cfg.CounterpartyWalletKey,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if !strings.HasPrefix(cfg.ClearnodeWSURL, "ws://") && !strings.HasPrefix(cfg.ClearnodeWSURL, "wss://") {
		return fmt.Errorf("CLEARNODE_WS_URL must use ws:// or wss:// scheme")
	}

	if _, err := parseWalletKey(cfg.ParticipantWalletKey); err != nil {
		return fmt.Errorf("PARTICIPANT_WALLET_KEY: %w", err)
	}
	if _, err := parseWalletKey(cfg.CounterpartyWalletKey); err != nil {
		return fmt.Errorf("COUNTERPARTY_WALLET_KEY: %w", err)
	}

	allocation, err := decimal.NewFromString(cfg.SessionAllocation)
	if err != nil {
		return fmt.Errorf("SESSION_ALLOCATION must be a decimal amount: %w", err)
	}
	if !allocation.IsPositive() {
		return fmt.Errorf("SESSION_ALLOCATION must be positive, got %s", cfg.SessionAllocation)
	}

	cost, err := decimal.NewFromString(cfg.DefaultUsageCost)
	if err != nil {
		return fmt.Errorf("DEFAULT_USAGE_COST must be a decimal amount: %w", err)
	}
	if !cost.IsPositive() {
		return fmt.Errorf("DEFAULT_USAGE_COST must be positive, got %s", cfg.DefaultUsageCost)
	}
	if cost.GreaterThan(allocation) {
		return fmt.Errorf("DEFAULT_USAGE_COST %s exceeds SESSION_ALLOCATION %s", cfg.DefaultUsageCost, cfg.SessionAllocation)
	}

	return nil
}

// ParticipantWallet returns the funding participant's wallet derived from
// PARTICIPANT_WALLET_KEY.
func (c *Config) ParticipantWallet() (domain.Wallet, error) {
	return parseWalletKey(c.ParticipantWalletKey)
}

// CounterpartyWallet returns the counterparty's wallet derived from
// COUNTERPARTY_WALLET_KEY.
func (c *Config) CounterpartyWallet() (domain.Wallet, error) {
	return parseWalletKey(c.CounterpartyWalletKey)
}

// Allocation returns the per-session balance cap. Validated at load time.
func (c *Config) Allocation() decimal.Decimal {
	return decimal.RequireFromString(c.SessionAllocation)
}

// UsageCost returns the default per-use cost. Validated at load time.
func (c *Config) UsageCost() decimal.Decimal {
	return decimal.RequireFromString(c.DefaultUsageCost)
}

func parseWalletKey(hexKey string) (domain.Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("must be a valid secp256k1 private key in hex: %w", err)
	}
	return domain.Wallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}, nil
}
