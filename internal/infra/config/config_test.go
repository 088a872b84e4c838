package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NotEmpty(t, cfg.Node.Name)
	require.NotEmpty(t, cfg.Node.DataDir)
	require.Equal(t, 64, cfg.Sandbox.DefaultMaxMemoryMB)
	require.Equal(t, 5*time.Second, cfg.Sandbox.DefaultExecTimeout)
	require.NotNil(t, cfg.Transport.HTTP)
	require.True(t, cfg.Transport.HTTP.Enabled)
	require.True(t, cfg.Security.Audit.Enabled)
	require.Nil(t, cfg.Cluster)
	require.NoError(t, Validate(cfg))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults().Sandbox.DefaultMaxMemoryMB, cfg.Sandbox.DefaultMaxMemoryMB)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
node:
  name: "platform-east"
ams:
  max_agents: 100
transport:
  http:
    enabled: true
    addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "platform-east", cfg.Node.Name)
	require.Equal(t, 100, cfg.AMS.MaxAgents)
	require.Equal(t, ":9090", cfg.Transport.HTTP.Addr)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  name: x\n"), 0666))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insecure permissions")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FIPA_NODE_NAME", "env-platform")
	t.Setenv("FIPA_SANDBOX_MAX_MEMORY_MB", "128")
	t.Setenv("FIPA_CLUSTER_ENABLED", "true")
	t.Setenv("FIPA_CLUSTER_REDIS_URL", "redis://cache:6379")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	require.Equal(t, "env-platform", cfg.Node.Name)
	require.Equal(t, 128, cfg.Sandbox.DefaultMaxMemoryMB)
	require.NotNil(t, cfg.Cluster)
	require.True(t, cfg.Cluster.Enabled)
	require.Equal(t, "redis://cache:6379", cfg.Cluster.RedisURL)
}

func TestEncryptDecryptValueRoundTrip(t *testing.T) {
	plaintext := "top-secret-migration-key"
	passphrase := "correct horse battery staple"

	enc, err := EncryptValue(plaintext, passphrase)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, enc)

	dec, err := DecryptValue(enc, passphrase)
	require.NoError(t, err)
	require.Equal(t, plaintext, dec)
}

func TestEncryptDecryptValueWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("secret", "passphrase-a")
	require.NoError(t, err)

	_, err = DecryptValue(enc, "passphrase-b")
	require.Error(t, err)
}

func TestDecryptSecretsDecryptsNodeAuthToken(t *testing.T) {
	passphrase := "node-secret-pass"
	plain := "shared-node-secret"
	enc, err := EncryptValue(plain, passphrase)
	require.NoError(t, err)

	cfg := Defaults()
	cfg.Node.AuthToken = "enc:" + enc

	require.NoError(t, decryptSecrets(cfg, passphrase))
	require.Equal(t, plain, cfg.Node.AuthToken)
}

func TestDecryptSecretsDecryptsMigrationSignerKey(t *testing.T) {
	passphrase := "migration-pass"
	plain := "ed25519-seed-hex"
	enc, err := EncryptValue(plain, passphrase)
	require.NoError(t, err)

	cfg := Defaults()
	cfg.Migration.SignerPrivateKey = "enc:" + enc

	require.NoError(t, decryptSecrets(cfg, passphrase))
	require.Equal(t, plain, cfg.Migration.SignerPrivateKey)
}

func TestSplitAndTrim(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitAndTrim(" a, b ,c ", ","))
}
