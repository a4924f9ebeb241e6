package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":7002" {
		t.Errorf("Expected :7002, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != "sqlite" || cfg.StoreLocation() != "./data/board.db" {
		t.Errorf("Unexpected store defaults: %q %q", cfg.Store, cfg.StoreLocation())
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("Expected 1h TTL, got %v", cfg.TokenTTL)
	}
	if !cfg.DisableTLS {
		t.Error("Expected TLS disabled by default")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for short secret")
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("CELERIX_BOARD_STORE", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for unknown store")
	}
}

func TestSeedsAndFileLocation(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("CELERIX_BOARD_STORE", "file")
	t.Setenv("CELERIX_BOARD_DATA_DIR", "/tmp/board")
	t.Setenv("CELERIX_BOARD_SEED_PRINCIPALS", " Alice@Example.com ,,bob@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreLocation() != "/tmp/board" {
		t.Errorf("Expected data dir, got %q", cfg.StoreLocation())
	}
	seeds := cfg.Seeds()
	if len(seeds) != 2 || seeds[0] != "alice@example.com" || seeds[1] != "bob@example.com" {
		t.Errorf("Unexpected seeds: %v", seeds)
	}
}

func TestDataKey(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("CELERIX_BOARD_DATA_KEY", "not-a-key")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for malformed data key")
	}

	t.Setenv("CELERIX_BOARD_DATA_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Key()) != 32 {
		t.Errorf("Expected 32-byte key, got %d", len(cfg.Key()))
	}
}

func TestTLSFilesTogether(t *testing.T) {
	t.Setenv("CELERIX_BOARD_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("CELERIX_BOARD_TLS_CERT", "/etc/board/cert.pem")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when only the certificate is set")
	}
}
