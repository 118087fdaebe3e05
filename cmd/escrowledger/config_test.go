package main

import (
	"EscrowLedger/internal/identity"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	owner := identity.Derive("game-owner")
	t.Setenv("ESCROW_GAME_OWNER", owner.Hex())
	t.Setenv("ESCROW_MARKET_OWNER", identity.Derive("market-owner").Hex())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GameOwner != owner {
		t.Errorf("game owner: got %s, want %s", cfg.GameOwner, owner)
	}
	if cfg.PersistFlushTimeout != 10*time.Millisecond {
		t.Errorf("flush timeout: got %s, want 10ms", cfg.PersistFlushTimeout)
	}
	if cfg.PersistBatchSize != 50 || cfg.SnapshotInterval != 100_000 {
		t.Errorf("defaults: got batch=%d snapshot=%d", cfg.PersistBatchSize, cfg.SnapshotInterval)
	}
	if !cfg.RebuildProjectionsOnStart {
		t.Error("rebuild on start should default to true")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ESCROW_GAME_OWNER", identity.Derive("a").Hex())
	t.Setenv("ESCROW_MARKET_OWNER", identity.Derive("b").Hex())
	t.Setenv("ESCROW_PERSIST_FLUSH_TIMEOUT", "250ms")
	t.Setenv("ESCROW_NATS_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PersistFlushTimeout != 250*time.Millisecond {
		t.Errorf("flush timeout: got %s, want 250ms", cfg.PersistFlushTimeout)
	}
	if cfg.NATSURL != "" {
		t.Errorf("nats url: got %q, want empty", cfg.NATSURL)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	chdir(t, t.TempDir())
	tests := []struct {
		name        string
		game, mkt   string
		wantErrPart string
	}{
		{"missing owner", "", identity.Derive("b").Hex(), "ESCROW_GAME_OWNER"},
		{"not an address", "owner", identity.Derive("b").Hex(), ""},
		{"zero owner", identity.Derive("a").Hex(), "0x0000000000000000000000000000000000000000", "ESCROW_MARKET_OWNER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ESCROW_GAME_OWNER", tt.game)
			t.Setenv("ESCROW_MARKET_OWNER", tt.mkt)
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErrPart) {
				t.Errorf("got %v, want error mentioning %s", err, tt.wantErrPart)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it switches the working
// directory for the rest of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}
