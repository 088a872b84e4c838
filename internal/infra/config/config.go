package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level platform node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	AMS       AMSConfig       `yaml:"ams"`
	DF        DFConfig        `yaml:"df"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Transport TransportConfig `yaml:"transport"`
	Migration MigrationConfig `yaml:"migration"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Security  SecurityConfig  `yaml:"security"`
	Cluster   *ClusterConfig  `yaml:"cluster,omitempty"` // nil = standalone mode
	Includes  []string        `yaml:"includes,omitempty"`
}

// NodeConfig identifies this platform node to peers and to its own AMS/DF.
type NodeConfig struct {
	ID        string `yaml:"id"`         // stable id; auto-generated ("node-" + 32 hex chars) if empty
	Name      string `yaml:"name"`       // platform name, used as the AgentId platform suffix
	DataDir   string `yaml:"data_dir"`   // root for AMS/DF/lifecycle stores
	AuthToken string `yaml:"auth_token"` // shared secret for inbound migration/federation handshakes
}

// AMSConfig holds agent-management-system settings.
type AMSConfig struct {
	MaxAgents          int `yaml:"max_agents"`           // 0 = unlimited
	MaxAgentNameLength int `yaml:"max_agent_name_length"` // default 255
}

// DFConfig holds directory-facilitator settings.
type DFConfig struct {
	MaxServicesPerAgent int           `yaml:"max_services_per_agent"`
	MaxTotalServices    int           `yaml:"max_total_services"`
	DefaultLease        time.Duration `yaml:"default_lease"`
	FederationTimeout   time.Duration `yaml:"federation_timeout"`
}

// SandboxConfig holds WASM agent-module sandbox settings.
type SandboxConfig struct {
	ModuleDir          string        `yaml:"module_dir"`
	DefaultMaxMemoryMB int           `yaml:"default_max_memory_mb"`
	DefaultExecTimeout time.Duration `yaml:"default_exec_timeout"`
	CompilationCache   string        `yaml:"compilation_cache"` // dir for wazero's compiled-module cache; "" disables
}

// TransportConfig holds ACC/MTP listener and retry settings.
type TransportConfig struct {
	HTTP           *HTTPMTPConfig `yaml:"http,omitempty"`
	GRPC           *GRPCMTPConfig `yaml:"grpc,omitempty"`
	WebSocket      *WSMTPConfig   `yaml:"websocket,omitempty"`
	RetryMax       int            `yaml:"retry_max"`
	RetryBaseDelay time.Duration  `yaml:"retry_base_delay"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// HTTPMTPConfig holds HTTP message-transport-protocol settings.
type HTTPMTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GRPCMTPConfig holds gRPC message-transport-protocol settings.
type GRPCMTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WSMTPConfig holds WebSocket message-transport-protocol settings.
type WSMTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// CircuitBreakerConfig holds outbound-MTP circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig holds inbound HTTP MTP rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	BurstSize      int      `yaml:"burst_size"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// MigrationConfig holds agent-migration settings.
type MigrationConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SigningEnabled   bool          `yaml:"signing_enabled"`
	SignerPrivateKey string        `yaml:"signer_private_key"` // hex-encoded ed25519 seed; may be "enc:..."
	MaxSnapshotBytes int64         `yaml:"max_snapshot_bytes"`
	TransferTimeout  time.Duration `yaml:"transfer_timeout"`
}

// ClusterConfig holds horizontal scaling / replicated-log settings.
type ClusterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	NodeID   string `yaml:"node_id"`   // not auto-generated; empty unless set
	RedisURL string `yaml:"redis_url"` // e.g. "redis://localhost:6379"
	LockTTL  string `yaml:"lock_ttl"`  // duration string; no default is applied
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// SecurityConfig holds audit, encryption, key rotation, and egress policy settings.
type SecurityConfig struct {
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Audit       AuditConfig       `yaml:"audit"`
	KeyRotation KeyRotationConfig `yaml:"key_rotation"`
	SSRF        SSRFConfig        `yaml:"ssrf"`
}

// EncryptionConfig holds agent-storage-at-rest encryption settings.
// Passphrase is read from the FIPA_STORAGE_KEY env var, never from YAML.
type EncryptionConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuditConfig holds audit logging settings.
type AuditConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Path      string          `yaml:"path"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig holds audit log retention policy settings.
type RetentionConfig struct {
	MaxAge  string `yaml:"max_age"`  // duration string, e.g. "2160h" (90 days)
	MaxSize string `yaml:"max_size"` // e.g. "100MB"
}

// KeyRotationConfig holds storage encryption key rotation settings.
type KeyRotationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"` // duration string, e.g. "720h" (30 days)
}

// SSRFConfig allows loosening the default private-range egress block for
// trusted deployments (e.g. a LAN-only platform cluster).
type SSRFConfig struct {
	AllowPrivateRanges bool `yaml:"allow_private_ranges"`
}

// defaultDataDir returns the persistent data directory under $HOME/.fipa-platform/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".fipa-platform", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Node: NodeConfig{
			Name:    "platform-1",
			DataDir: dataDir,
		},
		AMS: AMSConfig{
			MaxAgents:          0,
			MaxAgentNameLength: 255,
		},
		DF: DFConfig{
			MaxServicesPerAgent: 32,
			MaxTotalServices:    10000,
			DefaultLease:        1 * time.Hour,
			FederationTimeout:   5 * time.Second,
		},
		Sandbox: SandboxConfig{
			ModuleDir:          filepath.Join(dataDir, "modules"),
			DefaultMaxMemoryMB: 64,
			DefaultExecTimeout: 5 * time.Second,
			CompilationCache:   filepath.Join(dataDir, "wasm-cache"),
		},
		Transport: TransportConfig{
			HTTP: &HTTPMTPConfig{Enabled: true, Addr: ":7701"},
			RetryMax:       3,
			RetryBaseDelay: 200 * time.Millisecond,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 600,
				BurstSize:      100,
			},
		},
		Migration: MigrationConfig{
			Enabled:          false,
			SigningEnabled:   false,
			MaxSnapshotBytes: 16 * 1024 * 1024,
			TransferTimeout:  30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Security: SecurityConfig{
			Encryption: EncryptionConfig{Enabled: false},
			Audit: AuditConfig{
				Enabled: true,
				Path:    filepath.Join(dataDir, "audit.jsonl"),
			},
			KeyRotation: KeyRotationConfig{Enabled: false, Interval: "720h"},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("FIPA_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps FIPA_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIPA_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("FIPA_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("FIPA_NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("FIPA_NODE_AUTH_TOKEN"); v != "" {
		cfg.Node.AuthToken = v
	}
	if v := os.Getenv("FIPA_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FIPA_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FIPA_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("FIPA_TRANSPORT_HTTP_ADDR"); v != "" {
		if cfg.Transport.HTTP == nil {
			cfg.Transport.HTTP = &HTTPMTPConfig{Enabled: true}
		}
		cfg.Transport.HTTP.Addr = v
	}
	if v := os.Getenv("FIPA_TRANSPORT_GRPC_ADDR"); v != "" {
		if cfg.Transport.GRPC == nil {
			cfg.Transport.GRPC = &GRPCMTPConfig{Enabled: true}
		}
		cfg.Transport.GRPC.Addr = v
	}
	if v := os.Getenv("FIPA_MIGRATION_ENABLED"); v == "true" {
		cfg.Migration.Enabled = true
	}
	if v := os.Getenv("FIPA_MIGRATION_SIGNER_KEY"); v != "" {
		cfg.Migration.SignerPrivateKey = v
	}
	if v := os.Getenv("FIPA_SECURITY_ENCRYPTION_ENABLED"); v == "true" {
		cfg.Security.Encryption.Enabled = true
	}
	if v := os.Getenv("FIPA_SECURITY_AUDIT_ENABLED"); v == "true" {
		cfg.Security.Audit.Enabled = true
	} else if v == "false" {
		cfg.Security.Audit.Enabled = false
	}
	if v := os.Getenv("FIPA_SECURITY_AUDIT_PATH"); v != "" {
		cfg.Security.Audit.Path = v
	}
	if v := os.Getenv("FIPA_SANDBOX_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sandbox.DefaultMaxMemoryMB = n
		}
	}
	if v := os.Getenv("FIPA_SANDBOX_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sandbox.DefaultExecTimeout = d
		}
	}
	if v := os.Getenv("FIPA_CLUSTER_ENABLED"); v == "true" {
		if cfg.Cluster == nil {
			cfg.Cluster = &ClusterConfig{}
		}
		cfg.Cluster.Enabled = true
	}
	if v := os.Getenv("FIPA_CLUSTER_REDIS_URL"); v != "" {
		if cfg.Cluster == nil {
			cfg.Cluster = &ClusterConfig{}
		}
		cfg.Cluster.RedisURL = v
	}
	if v := os.Getenv("FIPA_TRANSPORT_RATE_LIMIT_TRUSTED_PROXIES"); v != "" {
		cfg.Transport.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in config secrets and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Node.AuthToken, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Node.AuthToken, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("node auth_token: %w", err)
		}
		cfg.Node.AuthToken = decrypted
	}

	if strings.HasPrefix(cfg.Migration.SignerPrivateKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Migration.SignerPrivateKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("migration signer_private_key: %w", err)
		}
		cfg.Migration.SignerPrivateKey = decrypted
	}

	if cfg.Cluster != nil && strings.HasPrefix(cfg.Cluster.RedisURL, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Cluster.RedisURL, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("cluster redis_url: %w", err)
		}
		cfg.Cluster.RedisURL = decrypted
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
