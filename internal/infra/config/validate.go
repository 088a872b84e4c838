package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateNode(cfg, ve)
	validateAMS(cfg, ve)
	validateDF(cfg, ve)
	validateSandbox(cfg, ve)
	validateTransport(cfg, ve)
	validateMigration(cfg, ve)
	validateSecurity(cfg, ve)
	validateCluster(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateNode(cfg *Config, ve *ValidationError) {
	if cfg.Node.Name == "" {
		ve.Add("node.name must not be empty")
	}
	if cfg.Node.DataDir == "" {
		ve.Add("node.data_dir must not be empty")
	}
}

func validateAMS(cfg *Config, ve *ValidationError) {
	if cfg.AMS.MaxAgents < 0 {
		ve.Add("ams.max_agents must be >= 0 (0 = unlimited)")
	}
	if cfg.AMS.MaxAgentNameLength <= 0 {
		ve.Add("ams.max_agent_name_length must be > 0")
	}
}

func validateDF(cfg *Config, ve *ValidationError) {
	if cfg.DF.MaxServicesPerAgent <= 0 {
		ve.Add("df.max_services_per_agent must be > 0")
	}
	if cfg.DF.MaxTotalServices <= 0 {
		ve.Add("df.max_total_services must be > 0")
	}
	if cfg.DF.DefaultLease <= 0 {
		ve.Add("df.default_lease must be > 0")
	}
	if cfg.DF.FederationTimeout <= 0 {
		ve.Add("df.federation_timeout must be > 0")
	}
}

func validateSandbox(cfg *Config, ve *ValidationError) {
	if cfg.Sandbox.ModuleDir == "" {
		ve.Add("sandbox.module_dir must not be empty")
	}
	if cfg.Sandbox.DefaultMaxMemoryMB <= 0 || cfg.Sandbox.DefaultMaxMemoryMB > 4096 {
		ve.Add("sandbox.default_max_memory_mb must be between 1 and 4096 (got %d)", cfg.Sandbox.DefaultMaxMemoryMB)
	}
	if cfg.Sandbox.DefaultExecTimeout <= 0 || cfg.Sandbox.DefaultExecTimeout > 5*time.Minute {
		ve.Add("sandbox.default_exec_timeout must be between 1ns and 5m (got %s)", cfg.Sandbox.DefaultExecTimeout)
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	if cfg.Transport.HTTP == nil && cfg.Transport.GRPC == nil && cfg.Transport.WebSocket == nil {
		ve.Add("transport must configure at least one MTP (http, grpc, or websocket)")
	}
	if cfg.Transport.HTTP != nil && cfg.Transport.HTTP.Enabled && cfg.Transport.HTTP.Addr == "" {
		ve.Add("transport.http.addr must be set when the HTTP MTP is enabled")
	}
	if cfg.Transport.GRPC != nil && cfg.Transport.GRPC.Enabled && cfg.Transport.GRPC.Addr == "" {
		ve.Add("transport.grpc.addr must be set when the gRPC MTP is enabled")
	}
	if cfg.Transport.WebSocket != nil && cfg.Transport.WebSocket.Enabled && cfg.Transport.WebSocket.Addr == "" {
		ve.Add("transport.websocket.addr must be set when the WebSocket MTP is enabled")
	}
	if cfg.Transport.RetryMax < 0 {
		ve.Add("transport.retry_max must be >= 0")
	}
	if cfg.Transport.RetryBaseDelay < 0 {
		ve.Add("transport.retry_base_delay must be >= 0")
	}
	cb := cfg.Transport.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("transport.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("transport.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
	rl := cfg.Transport.RateLimit
	if rl.Enabled {
		if rl.RequestsPerMin <= 0 {
			ve.Add("transport.rate_limit.requests_per_min must be > 0 when enabled")
		}
		if rl.BurstSize <= 0 {
			ve.Add("transport.rate_limit.burst_size must be > 0 when enabled")
		}
	}
}

func validateMigration(cfg *Config, ve *ValidationError) {
	if !cfg.Migration.Enabled {
		return
	}
	if cfg.Migration.MaxSnapshotBytes <= 0 {
		ve.Add("migration.max_snapshot_bytes must be > 0 when migration is enabled")
	}
	if cfg.Migration.TransferTimeout <= 0 {
		ve.Add("migration.transfer_timeout must be > 0 when migration is enabled")
	}
	if cfg.Migration.SigningEnabled && cfg.Migration.SignerPrivateKey == "" {
		ve.Add("migration.signer_private_key is required when signing_enabled is true")
	}
}

func validateSecurity(cfg *Config, ve *ValidationError) {
	if cfg.Security.Audit.Enabled && cfg.Security.Audit.Path == "" {
		ve.Add("security.audit.path must be set when audit is enabled")
	}
	if cfg.Security.Audit.Retention.MaxAge != "" {
		if _, err := time.ParseDuration(cfg.Security.Audit.Retention.MaxAge); err != nil {
			ve.Add("security.audit.retention.max_age %q is not a valid duration", cfg.Security.Audit.Retention.MaxAge)
		}
	}
	if cfg.Security.KeyRotation.Enabled {
		if cfg.Security.KeyRotation.Interval == "" {
			ve.Add("security.key_rotation.interval must be set when key_rotation is enabled")
		} else if d, err := time.ParseDuration(cfg.Security.KeyRotation.Interval); err != nil {
			ve.Add("security.key_rotation.interval %q is not a valid duration", cfg.Security.KeyRotation.Interval)
		} else if d < time.Hour {
			ve.Add("security.key_rotation.interval must be >= 1h (got %s)", d)
		}
	}
}

func validateCluster(cfg *Config, ve *ValidationError) {
	if cfg.Cluster == nil || !cfg.Cluster.Enabled {
		return
	}
	if cfg.Cluster.RedisURL == "" {
		ve.Add("cluster.redis_url is required when cluster mode is enabled")
	}
	if cfg.Cluster.LockTTL != "" {
		if _, err := time.ParseDuration(cfg.Cluster.LockTTL); err != nil {
			ve.Add("cluster.lock_ttl %q is not a valid duration", cfg.Cluster.LockTTL)
		}
	}
}
