package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/protocol"
	"github.com/fipacore/platform/internal/sandbox"
	"github.com/fipacore/platform/internal/security"
	"github.com/fipacore/platform/internal/usecase/eventbus"
	"github.com/fipacore/platform/internal/usecase/scheduling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// buildNoopModule mirrors internal/sandbox's test fixture: a minimal WASM
// binary exporting malloc/free/memory and nothing else, enough to load
// and tick but with no behavior exports.
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

func newTestManager(t *testing.T) *Manager {
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

	return NewManager(rt, sb, enc, protocol.NewRegistry(), bus, audit, testLogger())
}

func TestManager_CreateAndDestroyAgent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	agent := domain.Agent{
		ID:          domain.NewAgentId("worker-1"),
		ModuleBytes: buildNoopModule(t),
		Capabilities: domain.Capabilities{
			StorageQuotaBytes: 1024,
		},
	}

	ctrl, err := m.CreateAgent(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, ctrl.Status.Current())

	got, err := m.Get("worker-1")
	require.NoError(t, err)
	assert.Same(t, ctrl, got)

	require.NoError(t, m.DestroyAgent(ctx, "worker-1"))
	_, err = m.Get("worker-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestManager_CreateAgentDuplicateName(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: buildNoopModule(t)}

	_, err := m.CreateAgent(ctx, agent)
	require.NoError(t, err)

	_, err = m.CreateAgent(ctx, agent)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNameInUse)
}

func TestManager_Tick(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: buildNoopModule(t)}

	_, err := m.CreateAgent(ctx, agent)
	require.NoError(t, err)

	require.NoError(t, m.Tick(ctx))
}

func TestManager_RegisterWithScheduler(t *testing.T) {
	m := newTestManager(t)
	s := scheduling.NewScheduler(testLogger())
	m.RegisterWithScheduler(s)
	require.NoError(t, s.AddTask(scheduling.ScheduledTask{
		Name:     "tick",
		Schedule: "1h",
		Action:   scheduling.ActionAgentTick,
	}))
}

func TestManager_LifecycleControlSelfSuspendResume(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	agent := domain.Agent{ID: domain.NewAgentId("worker-1"), ModuleBytes: buildNoopModule(t)}
	ctrl, err := m.CreateAgent(ctx, agent)
	require.NoError(t, err)

	lc := &managerLifecycle{m: m}
	require.NoError(t, lc.Suspend(ctx, "worker-1"))
	assert.Equal(t, domain.StateSuspended, ctrl.Status.Current())

	require.NoError(t, lc.Resume(ctx, "worker-1"))
	assert.Equal(t, domain.StateActive, ctrl.Status.Current())
}

func TestManager_ListDescriptors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	agent := domain.Agent{
		ID:           domain.NewAgentId("worker-1"),
		ModuleBytes:  buildNoopModule(t),
		Capabilities: domain.Capabilities{MaxMemoryBytes: 1024},
	}
	_, err := m.CreateAgent(ctx, agent)
	require.NoError(t, err)

	descriptors := m.ListDescriptors("node-a")
	require.Len(t, descriptors, 1)
	assert.Equal(t, "worker-1", descriptors[0].ID.Name)
	assert.Equal(t, "node-a", descriptors[0].CurrentNode)
	assert.Equal(t, domain.StateActive, descriptors[0].Status)
}
