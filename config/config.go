package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig registers a token symbol and its display precision in the
// decimals registry.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// Price is the oracle quote per whole token, as a decimal string in the
	// valuation currency's smallest unit. Empty leaves the token unpriced.
	Price string `toml:"Price"`
}

// Config carries the daemon settings for a single credit line.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogFile    string `toml:"LogFile"`
	Env        string `toml:"Env"`

	// LineAddress identifies the line and owns its custody account.
	LineAddress string `toml:"LineAddress"`
	Borrower    string `toml:"Borrower"`
	Arbiter     string `toml:"Arbiter"`
	// Operator receives the borrower share of pledged revenue.
	Operator string `toml:"Operator"`
	// EscrowTreasury is the custody address for escrowed revenue.
	EscrowTreasury string `toml:"EscrowTreasury"`

	// TTLSeconds is the line's time to live; the deadline is the bootstrap
	// time plus this value.
	TTLSeconds int64 `toml:"TTLSeconds"`
	// DefaultRevenueSplit is the percentage of revenue escrowed for debt
	// service while the line is healthy.
	DefaultRevenueSplit uint8 `toml:"DefaultRevenueSplit"`

	Tokens []TokenConfig `toml:"Tokens"`
}

// Load loads the configuration from the given path, creating a commented
// default file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and structural limits.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"LineAddress":    c.LineAddress,
		"Borrower":       c.Borrower,
		"Arbiter":        c.Arbiter,
		"Operator":       c.Operator,
		"EscrowTreasury": c.EscrowTreasury,
	} {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("config: TTLSeconds must be positive")
	}
	if c.DefaultRevenueSplit > 100 {
		return fmt.Errorf("config: DefaultRevenueSplit above 100")
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, accepting an optional 0x
// prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:          "127.0.0.1:8545",
		DataDir:             "./creditline-data",
		Env:                 "dev",
		LineAddress:         "0x" + strings.Repeat("01", 20),
		Borrower:            "0x" + strings.Repeat("02", 20),
		Arbiter:             "0x" + strings.Repeat("03", 20),
		Operator:            "0x" + strings.Repeat("04", 20),
		EscrowTreasury:      "0x" + strings.Repeat("05", 20),
		TTLSeconds:          180 * 24 * 3600,
		DefaultRevenueSplit: 50,
		Tokens: []TokenConfig{
			{Symbol: "DAI", Decimals: 18, Price: "100"},
			{Symbol: "USDC", Decimals: 6, Price: "100"},
		},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if _, err := file.WriteString("# creditline daemon configuration\n\n"); err != nil {
		return nil, err
	}
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
