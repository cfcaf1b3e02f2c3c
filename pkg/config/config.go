// Package config loads process configuration from environment variables.
//
// There are two process boundaries, node and keeper, each with its own
// Load function and its own set of required variables. Neither reads a
// config file or accepts CLI flags beyond what cmd/*/main.go wires up
// for convenience — environment variables are the source of truth, the
// same way the teacher's validator service is configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// NodeConfig configures an operator node process (cmd/node).
type NodeConfig struct {
	RPCURL                 string
	ManagerContractAddress string
	StakingContractAddress string
	TokenContractAddress   string
	PrivateKey             string
	ArtifactCache          string
	CertCache              string
	MinEthBalanceWei       string
	LogLevel               string
}

// KeeperConfig configures the keeper process (cmd/keeper).
type KeeperConfig struct {
	L1RPCURL                     string
	L2RPCURL                     string
	L2HeartbeatManagerAddress    string
	L2JailingPolicyAddress       string
	L1EmissionsControllerAddress string
	PrivateKey                   string
	L1BridgeValueWei             string
	LookbackBlocks               uint64
	TickInterval                 time.Duration
	EmissionsInterval            time.Duration
	DisableJailing               bool
	LogLevel                     string
}

// LoadNode reads NodeConfig from the environment. It does not validate;
// call Validate before using the result.
func LoadNode() (*NodeConfig, error) {
	cfg := &NodeConfig{
		RPCURL:                 getEnv("RPC_URL", ""),
		ManagerContractAddress: getEnv("MANAGER_CONTRACT_ADDRESS", ""),
		StakingContractAddress: getEnv("STAKING_CONTRACT_ADDRESS", ""),
		TokenContractAddress:   getEnv("TOKEN_CONTRACT_ADDRESS", ""),
		PrivateKey:             getEnv("PRIVATE_KEY", ""),
		ArtifactCache:          getEnv("ARTIFACT_CACHE", "./artifacts"),
		CertCache:              getEnv("CERT_CACHE", "./certs"),
		MinEthBalanceWei:       getEnv("MIN_ETH_BALANCE_WEI", "0"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that all variables required to run a node are present.
func (c *NodeConfig) Validate() error {
	var problems []string
	if c.RPCURL == "" {
		problems = append(problems, "RPC_URL is required but not set")
	}
	if c.ManagerContractAddress == "" {
		problems = append(problems, "MANAGER_CONTRACT_ADDRESS is required but not set")
	}
	if c.StakingContractAddress == "" {
		problems = append(problems, "STAKING_CONTRACT_ADDRESS is required but not set")
	}
	if c.PrivateKey == "" {
		problems = append(problems, "PRIVATE_KEY is required but not set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("node configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// LoadKeeper reads KeeperConfig from the environment.
func LoadKeeper() (*KeeperConfig, error) {
	cfg := &KeeperConfig{
		L1RPCURL:                      getEnv("L1_RPC_URL", ""),
		L2RPCURL:                      getEnv("L2_RPC_URL", ""),
		L2HeartbeatManagerAddress:     getEnv("L2_HEARTBEAT_MANAGER_ADDRESS", ""),
		L2JailingPolicyAddress:        getEnv("L2_JAILING_POLICY_ADDRESS", ""),
		L1EmissionsControllerAddress:  getEnv("L1_EMISSIONS_CONTROLLER_ADDRESS", ""),
		PrivateKey:                    getEnv("PRIVATE_KEY", ""),
		L1BridgeValueWei:              getEnv("L1_BRIDGE_VALUE_WEI", "0"),
		LookbackBlocks:                getEnvUint64("LOOKBACK_BLOCKS", 10000),
		TickInterval:                  getEnvSeconds("TICK_INTERVAL_SECS", 5*time.Second),
		EmissionsInterval:             getEnvSeconds("EMISSIONS_INTERVAL_SECS", 30*time.Second),
		DisableJailing:                getEnvBool("DISABLE_JAILING", false),
		LogLevel:                      getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// HasJailingPolicy reports whether jailing enforcement is configured and
// enabled for this keeper instance.
func (c *KeeperConfig) HasJailingPolicy() bool {
	return !c.DisableJailing && c.L2JailingPolicyAddress != ""
}

// Validate checks that all variables required to run a keeper are present.
func (c *KeeperConfig) Validate() error {
	var problems []string
	if c.L1RPCURL == "" {
		problems = append(problems, "L1_RPC_URL is required but not set")
	}
	if c.L2RPCURL == "" {
		problems = append(problems, "L2_RPC_URL is required but not set")
	}
	if c.L2HeartbeatManagerAddress == "" {
		problems = append(problems, "L2_HEARTBEAT_MANAGER_ADDRESS is required but not set")
	}
	if c.L1EmissionsControllerAddress == "" {
		problems = append(problems, "L1_EMISSIONS_CONTROLLER_ADDRESS is required but not set")
	}
	if c.PrivateKey == "" {
		problems = append(problems, "PRIVATE_KEY is required but not set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("keeper configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
