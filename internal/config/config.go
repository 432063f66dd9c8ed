package config

import (
	"github.com/kyra-ai/kyra/internal/logger"
	"github.com/kyra-ai/kyra/pkg/agent"
	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/resource"
)

// Config represents the main Kyra configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Governor admission thresholds
	Governor governor.Limits `json:"governor" mapstructure:"governor"`

	// Quota overrides per tier (free, premium, enterprise)
	Quotas map[string]governor.UserQuotas `json:"quotas,omitempty" mapstructure:"quotas"`

	// Root budget granted to top-level agents
	RootBudget resource.Budget `json:"root_budget" mapstructure:"root_budget"`

	// LLM provider
	Provider agent.ProviderConfig `json:"provider" mapstructure:"provider"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Audit trail configuration
	Audit AuditConfig `json:"audit" mapstructure:"audit"`
}

// GatewayConfig holds websocket gateway configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// AuditConfig holds audit store configuration
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Governor: governor.DefaultLimits(),
		RootBudget: resource.Budget{
			MaxCalls:           100,
			MaxComputeUnits:    10000,
			MaxStorageBytes:    10 << 20,
			MaxExecutionTimeMs: 300000,
		},
		Provider: agent.ProviderConfig{
			Kind: "anthropic",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8791,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}
