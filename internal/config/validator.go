package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the shape of the config file. Durations accept
// either a Go duration string ("30s") or integer nanoseconds.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"definitions": {
		"duration": {"type": ["string", "integer"]},
		"budget": {
			"type": "object",
			"properties": {
				"max_calls": {"type": "integer", "minimum": 0},
				"max_compute_units": {"type": "integer", "minimum": 0},
				"max_storage_bytes": {"type": "integer", "minimum": 0},
				"max_execution_time_ms": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		},
		"quotas": {
			"type": "object",
			"properties": {
				"tier": {"type": "string", "enum": ["free", "premium", "enterprise"]},
				"llm_per_hour": {"type": "integer", "minimum": 0},
				"llm_per_day": {"type": "integer", "minimum": 0},
				"compute_per_hour": {"type": "integer", "minimum": 0},
				"compute_per_day": {"type": "integer", "minimum": 0},
				"max_storage_bytes": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}
	},
	"properties": {
		"data_dir": {"type": "string"},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "error", "fatal", "panic"]},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			},
			"additionalProperties": false
		},
		"governor": {
			"type": "object",
			"properties": {
				"max_recursion_depth": {"type": "integer", "minimum": 1},
				"max_system_agents": {"type": "integer", "minimum": 1},
				"child_budget_share": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"clone_budget_threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"breaker_error_rate": {"type": "number", "minimum": 0, "maximum": 1},
				"breaker_min_samples": {"type": "integer", "minimum": 1},
				"breaker_cooldown": {"$ref": "#/definitions/duration"},
				"breaker_recovery_successes": {"type": "integer", "minimum": 1},
				"error_window": {"$ref": "#/definitions/duration"},
				"cost_window": {"$ref": "#/definitions/duration"},
				"cost_baseline": {"type": "number", "exclusiveMinimum": 0},
				"cost_spike_threshold": {"type": "number", "exclusiveMinimum": 0},
				"cost_spike_min_samples": {"type": "integer", "minimum": 0},
				"cost_spike_min_total": {"type": "number", "minimum": 0},
				"tempo_degrade_error_rate": {"type": "number", "minimum": 0, "maximum": 1},
				"tempo_recover_error_rate": {"type": "number", "minimum": 0, "maximum": 1},
				"tempo_degrade_cost_spike": {"type": "number", "minimum": 0},
				"tempo_recover_cost_spike": {"type": "number", "minimum": 0},
				"maintenance_schedule": {"type": "string"}
			},
			"additionalProperties": false
		},
		"quotas": {
			"type": "object",
			"additionalProperties": {"$ref": "#/definitions/quotas"}
		},
		"root_budget": {"$ref": "#/definitions/budget"},
		"provider": {
			"type": "object",
			"properties": {
				"kind": {"type": "string", "enum": ["anthropic", "openai", ""]},
				"api_key": {"type": "string"}
			},
			"additionalProperties": false
		},
		"gateway": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"host": {"type": "string"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"shared_secret": {"type": "string"}
			},
			"additionalProperties": false
		},
		"audit": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"path": {"type": "string"}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// ValidateFile validates a raw config file against the schema
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return ValidateBytes(data)
}

// ValidateBytes validates raw config JSON against the schema
func ValidateBytes(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("config validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// Validate performs semantic checks the schema cannot express
func Validate(cfg *Config) error {
	if cfg.Governor.TempoRecoverErrorRate >= cfg.Governor.TempoDegradeErrorRate {
		return fmt.Errorf("tempo_recover_error_rate must be below tempo_degrade_error_rate")
	}
	if cfg.Governor.TempoRecoverCostSpike >= cfg.Governor.TempoDegradeCostSpike {
		return fmt.Errorf("tempo_recover_cost_spike must be below tempo_degrade_cost_spike")
	}
	if err := cfg.RootBudget.Validate(); err != nil {
		return fmt.Errorf("root_budget: %w", err)
	}
	if cfg.Provider.Kind == "anthropic" && cfg.Provider.APIKey != "" && !strings.HasPrefix(cfg.Provider.APIKey, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}
	if cfg.Provider.Kind == "openai" && cfg.Provider.APIKey != "" && !strings.HasPrefix(cfg.Provider.APIKey, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}
