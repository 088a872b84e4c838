package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fipacore/platform/internal/domain"
)

// HostModule is the namespace under which host functions are registered.
const HostModule = "fipa_agent_v1"

// Mailbox is the subset of an agent's mailbox the sandbox host functions
// operate on. Implemented by internal/lifecycle.
type Mailbox interface {
	Send(ctx context.Context, msg domain.AclMessage) error
	Receive(ctx context.Context) (domain.AclMessage, bool)
}

// Storage is the subset of an agent's persistent KV store the sandbox host
// functions operate on. Implemented by internal/lifecycle.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// ServiceDirectory is the subset of the DF an agent module can reach
// directly, without going through the ACL message substrate.
type ServiceDirectory interface {
	Register(ctx context.Context, owner domain.AgentId, svc domain.ServiceDescription) error
	Search(ctx context.Context, filter domain.ServiceFilter) ([]domain.ServiceRegistration, error)
	Deregister(ctx context.Context, owner domain.AgentId, name string) error
}

// LifecycleControl lets an agent module drive its own lifecycle and request
// migration. Implemented by internal/lifecycle.
type LifecycleControl interface {
	Status(agentID string) (domain.AgentLifecycleState, error)
	Suspend(ctx context.Context, agentID string) error
	Resume(ctx context.Context, agentID string) error
	Terminate(ctx context.Context, agentID string) error
	MigrateTo(ctx context.Context, agentID, targetNode string) error
}

// Outbound is how an agent module's send_message host call reaches the rest
// of the platform: the ACC resolves msg's receivers to a local mailbox, a
// remote MTP, or both, rather than the host call depositing the message
// straight back into the sending agent's own mailbox. Implemented by
// internal/transport.ACC.
type Outbound interface {
	Route(ctx context.Context, msg domain.AclMessage) error
}

// HostEnv holds the dependencies injected into an agent module's host
// functions. One HostEnv is created per hosted agent.
type HostEnv struct {
	AgentID   string
	Sandbox   *Sandbox
	Logger    *slog.Logger
	Bus       domain.EventBus
	Mailbox   Mailbox
	Storage   Storage
	Services  ServiceDirectory
	Lifecycle LifecycleControl
	Outbound  Outbound
}

// RegisterHostFunctions registers the fipa_agent_v1 host module on rt.
// Only capabilities allowed by env.Sandbox are registered; a guest module
// calling an unregistered import traps at instantiation time.
func RegisterHostFunctions(ctx context.Context, rt wazero.Runtime, env *HostEnv) (wazero.CompiledModule, error) {
	builder := rt.NewHostModuleBuilder(HostModule)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			level, ptr, size := int32(stack[0]), uint32(stack[1]), uint32(stack[2])
			msg, err := ReadString(mod, ptr, size)
			if err != nil {
				env.Logger.Error("agent log: read failed", "error", err)
				return
			}
			switch {
			case level <= 0:
				env.Logger.Debug(msg, "agent", env.AgentID)
			case level == 1:
				env.Logger.Info(msg, "agent", env.AgentID)
			case level == 2:
				env.Logger.Warn(msg, "agent", env.AgentID)
			default:
				env.Logger.Error(msg, "agent", env.AgentID)
			}
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log")

	if env.Sandbox.AllowCapability(CapReceiveMessage) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				msg, ok := env.Mailbox.Receive(ctx)
				if !ok {
					stack[0], stack[1] = 0, 0
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					env.Logger.Error("receive_message: marshal failed", "error", err)
					stack[0], stack[1] = 0, 0
					return
				}
				ptr, size, err := WriteBytes(mod, payload)
				if err != nil {
					env.Logger.Error("receive_message: write failed", "error", err)
					stack[0], stack[1] = 0, 0
					return
				}
				stack[0], stack[1] = uint64(ptr), uint64(size)
			}), nil, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}).
			Export("receive_message")
	}

	if env.Sandbox.AllowCapability(CapSendMessage) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, size := uint32(stack[0]), uint32(stack[1])
				raw, err := ReadBytes(mod, ptr, size)
				if err != nil {
					env.Logger.Error("send_message: read failed", "error", err)
					stack[0] = 1
					return
				}
				var msg domain.AclMessage
				if err := json.Unmarshal(raw, &msg); err != nil {
					env.Logger.Error("send_message: unmarshal failed", "error", err)
					stack[0] = 1
					return
				}
				if err := env.Outbound.Route(ctx, msg); err != nil {
					env.Logger.Warn("send_message failed", "error", err)
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("send_message")
	}

	if env.Sandbox.AllowCapability(CapStorageGet) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
				keyPtr, keyLen := uint32(stack[0]), uint32(stack[1])
				key, err := ReadString(mod, keyPtr, keyLen)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				value, ok, err := env.Storage.Get(key)
				if err != nil || !ok {
					stack[0], stack[1] = 0, 0
					return
				}
				ptr, size, err := WriteBytes(mod, value)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				stack[0], stack[1] = uint64(ptr), uint64(size)
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}).
			Export("storage_get")
	}

	if env.Sandbox.AllowCapability(CapStoragePut) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
				keyPtr, keyLen, valPtr, valLen := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])
				key, err := ReadString(mod, keyPtr, keyLen)
				if err != nil {
					stack[0] = 1
					return
				}
				value, err := ReadBytes(mod, valPtr, valLen)
				if err != nil {
					stack[0] = 1
					return
				}
				if err := env.Storage.Put(key, value); err != nil {
					env.Logger.Warn("storage_put failed", "error", err)
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("storage_put")
	}

	if env.Sandbox.AllowCapability(CapStorageDelete) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
				keyPtr, keyLen := uint32(stack[0]), uint32(stack[1])
				key, err := ReadString(mod, keyPtr, keyLen)
				if err != nil {
					stack[0] = 1
					return
				}
				if err := env.Storage.Delete(key); err != nil {
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("storage_delete")
	}

	if env.Sandbox.AllowCapability(CapServicesRegister) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, size := uint32(stack[0]), uint32(stack[1])
				raw, err := ReadBytes(mod, ptr, size)
				if err != nil {
					stack[0] = 1
					return
				}
				var svc domain.ServiceDescription
				if err := json.Unmarshal(raw, &svc); err != nil {
					stack[0] = 1
					return
				}
				if err := env.Services.Register(ctx, domain.NewAgentId(env.AgentID), svc); err != nil {
					env.Logger.Warn("services.register failed", "error", err)
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("services_register")
	}

	if env.Sandbox.AllowCapability(CapServicesSearch) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, size := uint32(stack[0]), uint32(stack[1])
				raw, err := ReadBytes(mod, ptr, size)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				var filter domain.ServiceFilter
				if err := json.Unmarshal(raw, &filter); err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				results, err := env.Services.Search(ctx, filter)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				payload, err := json.Marshal(results)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				outPtr, outSize, err := WriteBytes(mod, payload)
				if err != nil {
					stack[0], stack[1] = 0, 0
					return
				}
				stack[0], stack[1] = uint64(outPtr), uint64(outSize)
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}).
			Export("services_search")
	}

	if env.Sandbox.AllowCapability(CapServicesDeregister) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, size := uint32(stack[0]), uint32(stack[1])
				name, err := ReadString(mod, ptr, size)
				if err != nil {
					stack[0] = 1
					return
				}
				if err := env.Services.Deregister(ctx, domain.NewAgentId(env.AgentID), name); err != nil {
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("services_deregister")
	}

	if env.Sandbox.AllowCapability(CapLifecycleControl) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				action := uint32(stack[0])
				var err error
				switch action {
				case 0:
					err = env.Lifecycle.Suspend(ctx, env.AgentID)
				case 1:
					err = env.Lifecycle.Resume(ctx, env.AgentID)
				case 2:
					err = env.Lifecycle.Terminate(ctx, env.AgentID)
				default:
					err = fmt.Errorf("%w: unknown lifecycle action %d", domain.ErrInvalidInput, action)
				}
				if err != nil {
					env.Logger.Warn("lifecycle.control failed", "action", action, "error", err)
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("lifecycle_control")
	}

	if env.Sandbox.AllowCapability(CapMigrate) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ptr, size := uint32(stack[0]), uint32(stack[1])
				target, err := ReadString(mod, ptr, size)
				if err != nil {
					stack[0] = 1
					return
				}
				if err := env.Lifecycle.MigrateTo(ctx, env.AgentID, target); err != nil {
					env.Logger.Warn("migrate_to failed", "target", target, "error", err)
					stack[0] = 1
					return
				}
				stack[0] = 0
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
			Export("migrate_to")
	}

	compiled, err := builder.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile host module: %v", domain.ErrInvalidInput, err)
	}
	return compiled, nil
}
