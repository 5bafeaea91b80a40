package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.RPCAddress == "" {
		t.Fatalf("default config missing RPC address")
	}
	if len(cfg.Tokens) == 0 {
		t.Fatalf("default config must register tokens")
	}

	// A second load reads the file back.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress {
		t.Fatalf("reload mismatch: %q != %q", reloaded.RPCAddress, cfg.RPCAddress)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := strings.Join([]string{
		`RPCAddress = "127.0.0.1:8545"`,
		`LineAddress = "nonsense"`,
		`Borrower = "0x` + strings.Repeat("02", 20) + `"`,
		`Arbiter = "0x` + strings.Repeat("03", 20) + `"`,
		`Operator = "0x` + strings.Repeat("04", 20) + `"`,
		`EscrowTreasury = "0x` + strings.Repeat("05", 20) + `"`,
		`TTLSeconds = 100`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an invalid-address error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			LineAddress:         "0x" + strings.Repeat("01", 20),
			Borrower:            "0x" + strings.Repeat("02", 20),
			Arbiter:             "0x" + strings.Repeat("03", 20),
			Operator:            "0x" + strings.Repeat("04", 20),
			EscrowTreasury:      "0x" + strings.Repeat("05", 20),
			TTLSeconds:          100,
			DefaultRevenueSplit: 50,
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.TTLSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero TTL must be rejected")
	}

	cfg = base()
	cfg.DefaultRevenueSplit = 101
	if err := cfg.Validate(); err == nil {
		t.Fatalf("split above 100 must be rejected")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x" + strings.Repeat("ab", 20))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr[0] != 0xab || addr[19] != 0xab {
		t.Fatalf("unexpected decode: %x", addr)
	}

	if _, err := ParseAddress(strings.Repeat("ab", 20)); err != nil {
		t.Fatalf("bare hex must parse: %v", err)
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("short address must fail")
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Fatalf("non-hex address must fail")
	}
}
