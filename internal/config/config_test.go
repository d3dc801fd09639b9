package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen = %q, want :8080", cfg.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.MaxPositionsPerUser != 5 {
		t.Fatalf("max positions = %d, want 5", cfg.MaxPositionsPerUser)
	}

	params := cfg.BookParams()
	if err := params.Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	if params.MinPoolID != -50 || params.MaxPoolID != 50 {
		t.Fatalf("tick range = [%d, %d], want [-50, 50]", params.MinPoolID, params.MaxPoolID)
	}
	if cfg.OracleWad().Sign() <= 0 {
		t.Fatalf("oracle bootstrap price must be positive")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("listen: \":9090\"\nmax-ltv: 0.5\nquote-symbol: DAI\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("listen = %q, want :9090", cfg.Listen)
	}
	if cfg.QuoteSymbol != "DAI" {
		t.Fatalf("quote symbol = %q, want DAI", cfg.QuoteSymbol)
	}
	if cfg.MaxLTV != 0.5 {
		t.Fatalf("max ltv = %v, want 0.5", cfg.MaxLTV)
	}
	// Unset keys keep their defaults.
	if cfg.PriceStep != 1.1 {
		t.Fatalf("price step = %v, want default 1.1", cfg.PriceStep)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml", nil); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
