package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
)

type noopMailbox struct{}

func (noopMailbox) Send(context.Context, domain.AclMessage) error { return nil }
func (noopMailbox) Receive(context.Context) (domain.AclMessage, bool) {
	return domain.AclMessage{}, false
}

type noopStorage struct{}

func (noopStorage) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (noopStorage) Put(string, []byte) error         { return nil }
func (noopStorage) Delete(string) error              { return nil }

type noopServices struct{}

func (noopServices) Register(context.Context, domain.AgentId, domain.ServiceDescription) error {
	return nil
}
func (noopServices) Search(context.Context, domain.ServiceFilter) ([]domain.ServiceRegistration, error) {
	return nil, nil
}
func (noopServices) Deregister(context.Context, domain.AgentId, string) error { return nil }

type noopLifecycle struct{}

func (noopLifecycle) Status(string) (domain.AgentLifecycleState, error) {
	return domain.StateActive, nil
}
func (noopLifecycle) Suspend(context.Context, string) error            { return nil }
func (noopLifecycle) Resume(context.Context, string) error             { return nil }
func (noopLifecycle) Terminate(context.Context, string) error          { return nil }
func (noopLifecycle) MigrateTo(context.Context, string, string) error  { return nil }

type noopOutbound struct{}

func (noopOutbound) Route(context.Context, domain.AclMessage) error { return nil }

func newTestHostEnv(agentID string) *HostEnv {
	return &HostEnv{
		AgentID:   agentID,
		Sandbox:   NewSandbox(domain.DefaultCapabilities(), newTestLogger()),
		Logger:    newTestLogger(),
		Mailbox:   noopMailbox{},
		Storage:   noopStorage{},
		Services:  noopServices{},
		Lifecycle: noopLifecycle{},
		Outbound:  noopOutbound{},
	}
}

func TestLoadModule_NoExports(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, DefaultRuntimeConfig(), newTestLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	env := newTestHostEnv("agent-1")
	am, err := LoadModule(ctx, rt, buildNoopWASM(t), env)
	require.NoError(t, err)
	require.NotNil(t, am)

	require.NoError(t, am.Run(ctx))
	require.NoError(t, am.ExecuteBehavior(ctx, "ping"))
	require.NoError(t, am.Shutdown(ctx))
}

func TestLoadModule_RejectsGarbageBytes(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, DefaultRuntimeConfig(), newTestLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	env := newTestHostEnv("agent-2")
	_, err = LoadModule(ctx, rt, []byte("not wasm"), env)
	require.Error(t, err)
}

func TestAgentModule_SnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, DefaultRuntimeConfig(), newTestLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	env := newTestHostEnv("agent-3")
	am, err := LoadModule(ctx, rt, buildNoopWASM(t), env)
	require.NoError(t, err)
	defer am.Shutdown(ctx)

	ptr, _, err := WriteBytes(am.module, []byte("hello"))
	require.NoError(t, err)

	snap, err := am.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snap.LinearMemory)

	written, ok := am.module.Memory().Read(ptr, 5)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), written)

	require.NoError(t, am.module.Memory().Write(ptr, []byte("wiped")))

	require.NoError(t, am.Restore(ctx, snap))
	restored, ok := am.module.Memory().Read(ptr, 5)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), restored)
}
