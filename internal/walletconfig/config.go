package walletconfig

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/escrowline/walletcore/pkg/wallet"
)

// Config carries everything the wallet stack needs from the environment.
type Config struct {
	// Chain access
	RPCURL  string
	ChainID int64

	// Backend auth
	BackendURL string

	// Provider selection
	ProviderKind wallet.ProviderKind
	PrivateKey   string // embedded provider only
	RelayURL     string // remote-relay provider only

	// Token persistence
	TokenPath string

	// Gas policy (gwei)
	GasFloorGwei       int64
	GasCeilingGwei     int64
	GasLimitMultiplier float64

	// Read path
	ReadRateLimit int
	ReadBurst     int

	// General Config
	LogLevel string
	Logger   *logrus.Logger
}

// NewConfig loads configuration from the environment, with .env support.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	chainID, err := strconv.ParseInt(getEnvOrDefault("WALLET_CHAIN_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WALLET_CHAIN_ID: %w", err)
	}
	gasFloor, _ := strconv.ParseInt(getEnvOrDefault("WALLET_GAS_FLOOR_GWEI", "1"), 10, 64)
	gasCeiling, _ := strconv.ParseInt(getEnvOrDefault("WALLET_GAS_CEILING_GWEI", "300"), 10, 64)
	multiplier, _ := strconv.ParseFloat(getEnvOrDefault("WALLET_GAS_LIMIT_MULTIPLIER", "1.2"), 64)
	readRate, _ := strconv.Atoi(getEnvOrDefault("WALLET_READ_RATE_LIMIT", "20"))
	readBurst, _ := strconv.Atoi(getEnvOrDefault("WALLET_READ_BURST", "40"))

	config := &Config{
		RPCURL:     os.Getenv("WALLET_RPC_URL"),
		ChainID:    chainID,
		BackendURL: getEnvOrDefault("WALLET_BACKEND_URL", "http://localhost:8080"),

		ProviderKind: wallet.ProviderKind(getEnvOrDefault("WALLET_PROVIDER_KIND", string(wallet.KindEmbedded))),
		PrivateKey:   os.Getenv("WALLET_PRIVATE_KEY"),
		RelayURL:     os.Getenv("WALLET_RELAY_URL"),

		TokenPath: getEnvOrDefault("WALLET_TOKEN_PATH", defaultTokenPath()),

		GasFloorGwei:       gasFloor,
		GasCeilingGwei:     gasCeiling,
		GasLimitMultiplier: multiplier,

		ReadRateLimit: readRate,
		ReadBurst:     readBurst,

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the required fields for the selected provider
// kind are present.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("WALLET_RPC_URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("WALLET_CHAIN_ID must be positive")
	}
	switch c.ProviderKind {
	case wallet.KindEmbedded:
		if c.PrivateKey == "" {
			return fmt.Errorf("WALLET_PRIVATE_KEY is required for the embedded provider")
		}
	case wallet.KindRemoteRelay:
		if c.RelayURL == "" {
			return fmt.Errorf("WALLET_RELAY_URL is required for the remote-relay provider")
		}
	case wallet.KindInjected:
		// injected providers bridge over the RPC URL itself
	default:
		return fmt.Errorf("unknown WALLET_PROVIDER_KIND %q", c.ProviderKind)
	}
	if c.GasCeilingGwei < c.GasFloorGwei {
		return fmt.Errorf("WALLET_GAS_CEILING_GWEI must not be below WALLET_GAS_FLOOR_GWEI")
	}
	return nil
}

// GasPolicy converts the configured gwei bounds into a wallet.GasPolicy.
func (c *Config) GasPolicy() wallet.GasPolicy {
	gwei := big.NewInt(1_000_000_000)
	return wallet.GasPolicy{
		Floor:           new(big.Int).Mul(big.NewInt(c.GasFloorGwei), gwei),
		Ceiling:         new(big.Int).Mul(big.NewInt(c.GasCeilingGwei), gwei),
		LimitMultiplier: c.GasLimitMultiplier,
	}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletcore/token"
	}
	return home + "/.walletcore/token"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
