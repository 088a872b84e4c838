package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fipacore/platform/internal/domain"
)

// AgentModule wraps a compiled and instantiated agent byte-code module
// hosted under this sandbox. Its exports are probed at load time: init,
// run, shutdown, execute_behavior, on_behavior_start, and on_behavior_end
// are all optional, called only when the guest exports them.
type AgentModule struct {
	agentID  string
	module   api.Module
	compiled wazero.CompiledModule
	runtime  *Runtime
	sandbox  *Sandbox
	hostEnv  *HostEnv
	logger   *slog.Logger

	hasExecuteBehavior bool
	hasBehaviorHooks   bool
}

// LoadModule compiles and instantiates an agent's byte-code, registering
// the host-call surface env's Sandbox permits, and calls the guest's init
// export if present. The caller must call Shutdown when the agent is
// terminated or migrated away.
func LoadModule(ctx context.Context, rt *Runtime, moduleBytes []byte, env *HostEnv) (*AgentModule, error) {
	compiled, err := rt.Inner().CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: compile agent module: %v", domain.ErrTrapInGuest, err)
	}

	logger := env.Logger.With("agent", env.AgentID)
	env.Logger = logger

	hostCompiled, err := RegisterHostFunctions(ctx, rt.Inner(), env)
	if err != nil {
		return nil, err
	}
	if _, err := rt.Inner().InstantiateModule(ctx, hostCompiled, wazero.NewModuleConfig().WithName(HostModule)); err != nil {
		return nil, fmt.Errorf("%w: instantiate host module: %v", domain.ErrTrapInGuest, err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(env.AgentID).
		WithStartFunctions()

	mod, err := rt.Inner().InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate agent module: %v", domain.ErrTrapInGuest, err)
	}

	hasExecuteBehavior := mod.ExportedFunction("execute_behavior") != nil
	hasBehaviorHooks := mod.ExportedFunction("on_behavior_start") != nil ||
		mod.ExportedFunction("on_behavior_end") != nil

	am := &AgentModule{
		agentID:            env.AgentID,
		module:             mod,
		compiled:           compiled,
		runtime:            rt,
		sandbox:            env.Sandbox,
		hostEnv:            env,
		logger:             logger,
		hasExecuteBehavior: hasExecuteBehavior,
		hasBehaviorHooks:   hasBehaviorHooks,
	}

	if err := am.callVoidExport(ctx, "init"); err != nil {
		return nil, err
	}

	logger.Info("agent module loaded",
		"has_execute_behavior", hasExecuteBehavior,
		"has_behavior_hooks", hasBehaviorHooks,
	)

	return am, nil
}

// Run invokes the guest's run export, which drives the agent's main
// behavior scheduling loop for one scheduling tick. Absent a run export
// this is a no-op, since some agent modules are purely reactive and act
// only from within message-delivery host calls.
func (m *AgentModule) Run(ctx context.Context) error {
	return m.callVoidExport(ctx, "run")
}

// ExecuteBehavior invokes the guest's execute_behavior export with a
// behavior name, wrapping any guest panic or deadline overrun into the
// Faulted-state sentinel errors.
func (m *AgentModule) ExecuteBehavior(ctx context.Context, behavior string) error {
	if !m.hasExecuteBehavior {
		return nil
	}
	if m.hasBehaviorHooks {
		_ = m.callVoidExport(ctx, "on_behavior_start")
		defer func() { _ = m.callVoidExport(ctx, "on_behavior_end") }()
	}

	fn := m.module.ExportedFunction("execute_behavior")
	ptr, size, err := WriteString(m.module, behavior)
	if err != nil {
		return fmt.Errorf("%w: write behavior name: %v", domain.ErrTrapInGuest, err)
	}
	defer FreeBytes(m.module, ptr, size)

	execCtx, cancel := context.WithTimeout(ctx, m.sandbox.ExecTimeout())
	defer cancel()

	_, err = fn.Call(execCtx, uint64(ptr), uint64(size))
	if err != nil {
		if execCtx.Err() != nil {
			return fmt.Errorf("%w: execute_behavior %q", domain.ErrTimeQuotaExceeded, behavior)
		}
		return fmt.Errorf("%w: execute_behavior %q: %v", domain.ErrTrapInGuest, behavior, err)
	}
	return nil
}

// Shutdown calls the guest's shutdown export, if present, then releases
// the module instance. Errors from shutdown are logged, not returned,
// since the caller is tearing the agent down regardless.
func (m *AgentModule) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.callVoidExport(shutdownCtx, "shutdown"); err != nil {
		m.logger.Warn("agent module shutdown export failed", "error", err)
	}
	return m.module.Close(context.Background())
}

// Snapshot captures the guest's entire linear memory and any globals it
// exports, for internal/migration to ship as part of a domain.AgentPackage.
// Restoring the result into a freshly loaded module of the same module
// hash must reproduce this agent's runtime state.
func (m *AgentModule) Snapshot(ctx context.Context) (domain.AgentSnapshot, error) {
	mem := m.module.Memory()
	size := mem.Size()

	linear, err := ReadBytes(m.module, 0, size)
	if err != nil {
		return domain.AgentSnapshot{}, fmt.Errorf("snapshot agent %s: %w", m.agentID, err)
	}

	globals := make(map[string]int64)
	for name, exp := range m.compiled.AllExports() {
		if exp.Type() != api.ExternTypeGlobal {
			continue
		}
		if g := m.module.ExportedGlobal(name); g != nil {
			globals[name] = int64(g.Get())
		}
	}

	return domain.AgentSnapshot{
		LinearMemory:      linear,
		ExportedGlobals:   globals,
		OpenConversations: map[string]domain.ConversationSnapshot{},
	}, nil
}

// Restore writes snap's linear memory and exported mutable globals back
// into the guest and is called once on a freshly loaded module on the
// migration target, before the agent resumes ticking.
func (m *AgentModule) Restore(ctx context.Context, snap domain.AgentSnapshot) error {
	if len(snap.LinearMemory) > 0 && !m.module.Memory().Write(0, snap.LinearMemory) {
		return fmt.Errorf("%w: restore snapshot for %s: memory write out of bounds", domain.ErrTrapInGuest, m.agentID)
	}
	for name, v := range snap.ExportedGlobals {
		if g, ok := m.module.ExportedGlobal(name).(api.MutableGlobal); ok {
			g.Set(uint64(v))
		}
	}
	return nil
}

func (m *AgentModule) callVoidExport(ctx context.Context, name string) error {
	fn := m.module.ExportedFunction(name)
	if fn == nil {
		return nil
	}

	execCtx, cancel := context.WithTimeout(ctx, m.sandbox.ExecTimeout())
	defer cancel()

	if _, err := fn.Call(execCtx); err != nil {
		if execCtx.Err() != nil {
			return fmt.Errorf("%w: %s", domain.ErrTimeQuotaExceeded, name)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrTrapInGuest, name, err)
	}
	return nil
}
