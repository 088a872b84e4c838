package migration

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/lifecycle"
	"github.com/fipacore/platform/internal/protocol"
	"github.com/fipacore/platform/internal/sandbox"
	"github.com/fipacore/platform/internal/security"
	"github.com/fipacore/platform/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// buildNoopModule mirrors internal/lifecycle's test fixture: a minimal WASM
// binary exporting malloc/free/memory, enough to load, snapshot and restore
// without any behavior exports.
func buildNoopModule(t *testing.T) []byte {
	t.Helper()
	return []byte{
		0x00, 0x61, 0x73, 0x6d,
		0x01, 0x00, 0x00, 0x00,

		0x01, 0x0b,
		0x02,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x02, 0x7f, 0x7f, 0x00,

		0x03, 0x03,
		0x02,
		0x00,
		0x01,

		0x05, 0x03,
		0x01,
		0x00, 0x01,

		0x07, 0x1a,
		0x03,
		0x06, 'm', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
		0x04, 'f', 'r', 'e', 'e', 0x00, 0x01,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,

		0x0a, 0x0a,
		0x02,
		0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
		0x02, 0x00, 0x0b,
	}
}

func newTestManager(t *testing.T) *lifecycle.Manager {
	t.Helper()
	ctx := context.Background()

	rt, err := sandbox.NewRuntime(ctx, sandbox.DefaultRuntimeConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(ctx) })

	sb, err := security.NewSandbox(t.TempDir())
	require.NoError(t, err)

	enc, err := security.NewAESContentEncryptor("test-passphrase")
	require.NoError(t, err)

	audit, err := security.NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	bus := eventbus.New(testLogger())

	return lifecycle.NewManager(rt, sb, enc, protocol.NewRegistry(), bus, audit, testLogger())
}

func newTestService(t *testing.T, nodeID string, mgr *lifecycle.Manager) *Service {
	t.Helper()
	bus := eventbus.New(testLogger())
	audit, err := security.NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	signer, _, err := GenerateSigningKey()
	require.NoError(t, err)

	svc := NewService(nodeID, "127.0.0.1:0", mgr, signer, bus, audit, testLogger())
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func TestService_MigrateToEndToEnd(t *testing.T) {
	ctx := context.Background()

	sourceMgr := newTestManager(t)
	targetMgr := newTestManager(t)

	source := newTestService(t, "node-a", sourceMgr)
	target := newTestService(t, "node-b", targetMgr)
	target.TrustKey(source.signer.Public().(ed25519.PublicKey))

	agent := domain.Agent{
		ID:          domain.NewAgentId("worker-1"),
		ModuleBytes: buildNoopModule(t),
		Capabilities: domain.Capabilities{
			StorageQuotaBytes: 1024,
			MigrationAllowed:  true,
		},
	}
	_, err := sourceMgr.CreateAgent(ctx, agent)
	require.NoError(t, err)

	err = source.MigrateTo(ctx, "worker-1", "node-b", target.BoundAddr(), domain.MigrationUserRequested)
	require.NoError(t, err)

	_, err = sourceMgr.Get("worker-1")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	restored, err := targetMgr.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, restored.Status.Current())
}

func TestService_MigrateToForbiddenWithoutCapability(t *testing.T) {
	ctx := context.Background()
	sourceMgr := newTestManager(t)
	source := newTestService(t, "node-a", sourceMgr)

	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: buildNoopModule(t)}
	_, err := sourceMgr.CreateAgent(ctx, agent)
	require.NoError(t, err)

	err = source.MigrateTo(ctx, "worker-1", "node-b", "127.0.0.1:1", domain.MigrationUserRequested)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMigrationNotAllowed)
}

func TestService_MigrateToRejectsUntrustedSignature(t *testing.T) {
	ctx := context.Background()
	sourceMgr := newTestManager(t)
	targetMgr := newTestManager(t)

	source := newTestService(t, "node-a", sourceMgr)
	target := newTestService(t, "node-b", targetMgr)
	// deliberately do not call target.TrustKey, so any signed package is rejected.

	agent := domain.Agent{
		ID:          domain.NewAgentId("worker-1"),
		ModuleBytes: buildNoopModule(t),
		Capabilities: domain.Capabilities{MigrationAllowed: true},
	}
	_, err := sourceMgr.CreateAgent(ctx, agent)
	require.NoError(t, err)

	err = source.MigrateTo(ctx, "worker-1", "node-b", target.BoundAddr(), domain.MigrationUserRequested)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTargetRefused)

	restored, err := sourceMgr.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, restored.Status.Current())
}

func TestPackage_BuildAndVerifyRoundTrip(t *testing.T) {
	signer, pub, err := GenerateSigningKey()
	require.NoError(t, err)

	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: []byte{0x00, 0x61, 0x73, 0x6d}}
	snap := domain.AgentSnapshot{LinearMemory: []byte{1, 2, 3}}

	pkg, err := buildPackage(agent, snap, signer)
	require.NoError(t, err)

	require.NoError(t, verifyPackage(pkg, []ed25519.PublicKey{pub}))

	pkg.Snapshot.LinearMemory[0] = 0xff
	assert.ErrorIs(t, verifyPackage(pkg, []ed25519.PublicKey{pub}), domain.ErrHashMismatch)
}

func TestPackage_VerifyRejectsUnknownSigner(t *testing.T) {
	signer, _, err := GenerateSigningKey()
	require.NoError(t, err)
	_, otherPub, err := GenerateSigningKey()
	require.NoError(t, err)

	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: []byte{0x00}}
	pkg, err := buildPackage(agent, domain.AgentSnapshot{}, signer)
	require.NoError(t, err)

	err = verifyPackage(pkg, []ed25519.PublicKey{otherPub})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
}
