package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pixflow "github.com/arcdeck/pixflow/go"
	"github.com/arcdeck/pixflow/go/internal/logger"
	"github.com/arcdeck/pixflow/go/ledger/evm"
)

type Config struct {
	// Ledger
	RPCURL          string
	ChainID         int64
	InvoicesAddress string
	TokenAddress    string
	PrivateKey      string
	LogScanBlocks   uint64
	// Identity selects whose cache read-only commands operate on. Defaults
	// to the signer address.
	Identity string

	// Local cache and servers
	DBPath          string
	HTTPAddr        string
	SyncConcurrency int
	TxTimeout       time.Duration

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env files (when present) and the environment. envFiles
// defaults to ".env"; a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	network := evm.ArcTestnet
	defaults := logger.DefaultConfig()
	c := &Config{
		RPCURL:          getEnv("PIXFLOW_RPC_URL", network.RPCURL),
		InvoicesAddress: getEnv("PIXFLOW_INVOICES_ADDRESS", ""),
		TokenAddress:    getEnv("PIXFLOW_TOKEN_ADDRESS", network.USDCToken),
		PrivateKey:      getEnv("PIXFLOW_PRIVATE_KEY", ""),
		Identity:        getEnv("PIXFLOW_IDENTITY", ""),
		DBPath:          getEnv("PIXFLOW_DB_PATH", "pixflow.db"),
		HTTPAddr:        getEnv("PIXFLOW_HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", defaults.Level),
		LogFormat:       getEnv("LOG_FORMAT", defaults.Format),
		LogTimeFormat:   getEnv("LOG_TIME_FORMAT", defaults.TimeFormat),
		LogOutput:       getEnv("LOG_OUTPUT", defaults.Output),
	}

	var err error
	if c.ChainID, err = getInt64("PIXFLOW_CHAIN_ID", network.ChainID.Int64()); err != nil {
		return nil, err
	}
	if c.LogScanBlocks, err = getUint64("PIXFLOW_LOG_SCAN_BLOCKS", network.LogScanBlocks); err != nil {
		return nil, err
	}
	concurrency, err := getInt64("PIXFLOW_SYNC_CONCURRENCY", pixflow.DefaultSyncConcurrency)
	if err != nil {
		return nil, err
	}
	c.SyncConcurrency = int(concurrency)
	if c.TxTimeout, err = getDuration("PIXFLOW_TX_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("PIXFLOW_CHAIN_ID must be positive")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("PIXFLOW_SYNC_CONCURRENCY must be at least 1")
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("PIXFLOW_TX_TIMEOUT must be positive")
	}
	if c.InvoicesAddress != "" && !pixflow.IsAddress(c.InvoicesAddress) {
		return fmt.Errorf("PIXFLOW_INVOICES_ADDRESS is not a hex address")
	}
	if c.Identity != "" && !pixflow.IsAddress(c.Identity) {
		return fmt.Errorf("PIXFLOW_IDENTITY is not a hex address")
	}
	if c.TokenAddress != "" && !pixflow.IsAddress(c.TokenAddress) {
		return fmt.Errorf("PIXFLOW_TOKEN_ADDRESS is not a hex address")
	}
	return nil
}

// RequireLedger checks what read-only ledger access needs.
func (c *Config) RequireLedger() error {
	if c.RPCURL == "" {
		return fmt.Errorf("PIXFLOW_RPC_URL is required")
	}
	if c.InvoicesAddress == "" {
		return fmt.Errorf("PIXFLOW_INVOICES_ADDRESS is required")
	}
	return nil
}

// RequireSigner checks what submitting transactions needs.
func (c *Config) RequireSigner() error {
	if err := c.RequireLedger(); err != nil {
		return err
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("PIXFLOW_PRIVATE_KEY is required")
	}
	return nil
}

// Logging returns the logger settings.
func (c *Config) Logging() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// Network describes the configured chain, reusing known explorer links
// when the chain id matches one.
func (c *Config) Network() evm.NetworkConfig {
	for _, n := range evm.NetworkConfigs {
		if n.ChainID.Int64() == c.ChainID {
			n.RPCURL = c.RPCURL
			n.LogScanBlocks = c.LogScanBlocks
			return n
		}
	}
	return evm.NetworkConfig{
		Name:          "eip155:" + strconv.FormatInt(c.ChainID, 10),
		ChainID:       big.NewInt(c.ChainID),
		RPCURL:        c.RPCURL,
		LogScanBlocks: c.LogScanBlocks,
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getUint64(key string, defaultValue uint64) (uint64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
