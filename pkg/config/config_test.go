package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadNodeDefaults(t *testing.T) {
	clearEnv(t, "RPC_URL", "MANAGER_CONTRACT_ADDRESS", "PRIVATE_KEY", "ARTIFACT_CACHE", "CERT_CACHE")
	cfg, err := LoadNode()
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if cfg.ArtifactCache != "./artifacts" {
		t.Errorf("ArtifactCache default = %q", cfg.ArtifactCache)
	}
	if cfg.CertCache != "./certs" {
		t.Errorf("CertCache default = %q", cfg.CertCache)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to fail with no RPC_URL/PRIVATE_KEY set")
	}
}

func TestLoadNodeValidateSucceedsWhenComplete(t *testing.T) {
	t.Setenv("RPC_URL", "wss://example.invalid")
	t.Setenv("MANAGER_CONTRACT_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("STAKING_CONTRACT_ADDRESS", "0x2222222222222222222222222222222222222222")
	t.Setenv("PRIVATE_KEY", "deadbeef")

	cfg, err := LoadNode()
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadKeeperDefaults(t *testing.T) {
	clearEnv(t, "L1_RPC_URL", "L2_RPC_URL", "TICK_INTERVAL_SECS", "EMISSIONS_INTERVAL_SECS", "LOOKBACK_BLOCKS", "DISABLE_JAILING")
	cfg, err := LoadKeeper()
	if err != nil {
		t.Fatalf("LoadKeeper: %v", err)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval default = %v", cfg.TickInterval)
	}
	if cfg.EmissionsInterval != 30*time.Second {
		t.Errorf("EmissionsInterval default = %v", cfg.EmissionsInterval)
	}
	if cfg.LookbackBlocks != 10000 {
		t.Errorf("LookbackBlocks default = %d", cfg.LookbackBlocks)
	}
}

func TestKeeperHasJailingPolicy(t *testing.T) {
	cfg := &KeeperConfig{L2JailingPolicyAddress: "0x3333333333333333333333333333333333333333"}
	if !cfg.HasJailingPolicy() {
		t.Error("expected jailing policy to be enabled")
	}
	cfg.DisableJailing = true
	if cfg.HasJailingPolicy() {
		t.Error("expected DISABLE_JAILING to override configured address")
	}
}

func TestLoadKeeperValidateReportsMissingFields(t *testing.T) {
	cfg := &KeeperConfig{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected Validate to fail on empty config")
	}
}
