package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return Defaults()
}

func TestValidateDefaultsPass(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateNodeNameRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Name = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node.name")
}

func TestValidateNodeDataDirRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Node.DataDir = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node.data_dir")
}

func TestValidateAMSMaxAgentsNegative(t *testing.T) {
	cfg := validConfig()
	cfg.AMS.MaxAgents = -1
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ams.max_agents")
}

func TestValidateDFRequiresPositiveLimits(t *testing.T) {
	cfg := validConfig()
	cfg.DF.MaxServicesPerAgent = 0
	cfg.DF.MaxTotalServices = 0
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "df.max_services_per_agent")
	require.Contains(t, err.Error(), "df.max_total_services")
}

func TestValidateSandboxMemoryBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.DefaultMaxMemoryMB = 0
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sandbox.default_max_memory_mb")

	cfg2 := validConfig()
	cfg2.Sandbox.DefaultMaxMemoryMB = 100000
	err2 := Validate(cfg2)
	require.Error(t, err2)
}

func TestValidateTransportRequiresAnMTP(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.HTTP = nil
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one MTP")
}

func TestValidateTransportHTTPAddrRequiredWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.HTTP.Addr = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport.http.addr")
}

func TestValidateCircuitBreakerRequiresMaxFailures(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.CircuitBreaker.Enabled = true
	cfg.Transport.CircuitBreaker.MaxFailures = 0
	cfg.Transport.CircuitBreaker.Timeout = time.Second
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circuit_breaker.max_failures")
}

func TestValidateRateLimitRequiresPositiveValues(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.RateLimit.Enabled = true
	cfg.Transport.RateLimit.RequestsPerMin = 0
	cfg.Transport.RateLimit.BurstSize = 0
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate_limit.requests_per_min")
	require.Contains(t, err.Error(), "rate_limit.burst_size")
}

func TestValidateMigrationRequiresSignerKeyWhenSigningEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Migration.Enabled = true
	cfg.Migration.MaxSnapshotBytes = 1024
	cfg.Migration.TransferTimeout = time.Second
	cfg.Migration.SigningEnabled = true
	cfg.Migration.SignerPrivateKey = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "signer_private_key")
}

func TestValidateMigrationDisabledSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Migration.Enabled = false
	cfg.Migration.MaxSnapshotBytes = 0
	require.NoError(t, Validate(cfg))
}

func TestValidateSecurityAuditPathRequiredWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Security.Audit.Enabled = true
	cfg.Security.Audit.Path = ""
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "security.audit.path")
}

func TestValidateKeyRotationIntervalMinimum(t *testing.T) {
	cfg := validConfig()
	cfg.Security.KeyRotation.Enabled = true
	cfg.Security.KeyRotation.Interval = "5m"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_rotation.interval")
}

func TestValidateClusterRequiresRedisURL(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster = &ClusterConfig{Enabled: true}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cluster.redis_url")
}

func TestValidateClusterNilIsStandalone(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster = nil
	require.NoError(t, Validate(cfg))
}

func TestValidationErrorAccumulatesMultiple(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Name = ""
	cfg.AMS.MaxAgents = -1
	cfg.DF.MaxTotalServices = 0

	err := Validate(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(ve.Errors), 3)
}
