package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/protocol"
	"github.com/fipacore/platform/internal/sandbox"
	"github.com/fipacore/platform/internal/security"
	"github.com/fipacore/platform/internal/transport"
	"github.com/fipacore/platform/internal/usecase/scheduling"
)

// DefaultTickRate bounds how many agent dispatches Manager.Tick issues
// per second, so a burst of hundreds of hosted agents cannot starve the
// node's own scheduler goroutine of CPU in a single tick.
const DefaultTickRate = 200

// Compile-time checks that the lifecycle runtime satisfies the consumer
// interfaces internal/sandbox's host functions call through.
var (
	_ sandbox.Mailbox            = (*Mailbox)(nil)
	_ sandbox.Storage            = (*KVStore)(nil)
	_ sandbox.LifecycleControl   = (*managerLifecycle)(nil)
	_ sandbox.ServiceDirectory   = noopServiceDirectory{}
	_ sandbox.Outbound           = noopOutbound{}
	_ transport.LocalDeliverer   = (*Manager)(nil)
)

// Controller is everything the node runs for a single hosted agent: its
// status machine, mailbox, persistent storage, and loaded byte-code
// module.
type Controller struct {
	ID            string
	Status        *StatusMachine
	Mailbox       *Mailbox
	Storage       *KVStore
	Conversations *protocol.Manager

	module      *sandbox.AgentModule
	caps        domain.Capabilities
	moduleBytes []byte
	moduleHash  string
	createdAt   time.Time
}

// Manager is the node's registry of hosted agents: it admits new agents,
// tears down destroyed or migrated-away ones, and ticks every Active
// agent's module on the platform's scheduler. Grounded on the teacher's
// SessionManager (internal/usecase/session.go): an RWMutex-guarded map
// with per-item locking delegated to the item itself.
type Manager struct {
	mu          sync.RWMutex
	agents      map[string]*Controller
	runtime     *sandbox.Runtime
	fsSandbox   *security.Sandbox
	encryptor   domain.ContentEncryptor
	bus         domain.EventBus
	audit       domain.AuditLogger
	services    sandbox.ServiceDirectory
	outbound    sandbox.Outbound
	protocols   *protocol.Registry
	scheduler   *scheduling.Scheduler
	logger      *slog.Logger
	dispatch    *rate.Limiter
}

// NewManager creates a Manager. sb is the filesystem sandbox rooted at
// the node's per-agent storage directory; encryptor may be nil to store
// agent KV data in plaintext (not recommended outside tests). protocols is
// the shared protocol.Registry every hosted agent's own conversation
// manager validates and transitions messages against.
func NewManager(rt *sandbox.Runtime, sb *security.Sandbox, encryptor domain.ContentEncryptor, protocols *protocol.Registry, bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Manager {
	return &Manager{
		agents:    make(map[string]*Controller),
		runtime:   rt,
		fsSandbox: sb,
		encryptor: encryptor,
		protocols: protocols,
		bus:       bus,
		audit:     audit,
		services:  noopServiceDirectory{},
		outbound:  noopOutbound{},
		logger:    logger,
		dispatch:  rate.NewLimiter(rate.Limit(DefaultTickRate), DefaultTickRate),
	}
}

// SetServiceDirectory wires the DF client agent modules reach through
// services.* host calls. Until internal/df is constructed, the Manager
// answers those calls with empty results rather than failing module load.
func (m *Manager) SetServiceDirectory(services sandbox.ServiceDirectory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = services
}

// SetOutbound wires the ACC an agent module's send_message host call
// routes through. Until the node's transport layer is built, outbound
// sends fail closed rather than silently vanishing.
func (m *Manager) SetOutbound(outbound sandbox.Outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound = outbound
}

// SetScheduler wires the scheduler Deliver uses to arm a per-conversation
// reply_by timeout. Without it, a conversation with a reply deadline never
// times out on its own; it still advances normally on every inbound
// message.
func (m *Manager) SetScheduler(s *scheduling.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler = s
}

// CreateAgent admits a new agent: it loads the module, opens its mailbox
// and KV store, and transitions it Initiated -> Active.
func (m *Manager) CreateAgent(ctx context.Context, agent domain.Agent) (*Controller, error) {
	agentID := agent.ID.Name

	m.mu.Lock()
	if _, exists := m.agents[agentID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s", domain.ErrNameInUse, agentID)
	}
	m.mu.Unlock()

	kv, err := NewKVStore(m.fsSandbox, agentID, agent.Capabilities.StorageQuotaBytes, m.encryptor)
	if err != nil {
		return nil, err
	}

	status := NewStatusMachine(agentID, m.bus, m.audit)
	mailbox := NewMailbox(agentID, DefaultMailboxCapacity, m.bus)

	ctrl := &Controller{
		ID:            agentID,
		Status:        status,
		Mailbox:       mailbox,
		Storage:       kv,
		Conversations: protocol.NewManager(agentID, m.protocols, m.bus, m.audit, m.logger),
		caps:          agent.Capabilities,
		moduleBytes:   agent.ModuleBytes,
		moduleHash:    agent.ModuleHash,
		createdAt:     agent.CreatedAt,
	}

	m.mu.RLock()
	outbound := m.outbound
	m.mu.RUnlock()

	env := &sandbox.HostEnv{
		AgentID:   agentID,
		Sandbox:   sandbox.NewSandbox(agent.Capabilities, m.logger),
		Logger:    m.logger,
		Bus:       m.bus,
		Mailbox:   mailbox,
		Storage:   kv,
		Services:  m.services,
		Lifecycle: &managerLifecycle{m: m},
		Outbound:  outbound,
	}

	module, err := sandbox.LoadModule(ctx, m.runtime, agent.ModuleBytes, env)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load module for %s: %w", agentID, err)
	}
	ctrl.module = module

	m.mu.Lock()
	m.agents[agentID] = ctrl
	m.mu.Unlock()

	if err := status.Transition(ctx, domain.StateActive); err != nil {
		m.mu.Lock()
		delete(m.agents, agentID)
		m.mu.Unlock()
		_ = module.Shutdown(ctx)
		return nil, err
	}

	m.bus.Publish(ctx, domain.Event{Type: domain.EventAgentCreated, AgentID: agentID})
	_ = m.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentCreate,
		Actor: "lifecycle.Manager", Resource: agentID, Action: "create", Outcome: "ok",
	})

	return ctrl, nil
}

// Agent reconstructs the domain.Agent record for agentID, as it would have
// been admitted, for internal/migration to seal into an AgentPackage.
func (m *Manager) Agent(agentID string) (domain.Agent, error) {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return domain.Agent{}, err
	}
	return domain.Agent{
		ID:           domain.NewAgentId(ctrl.ID),
		ModuleBytes:  ctrl.moduleBytes,
		ModuleHash:   ctrl.moduleHash,
		Capabilities: ctrl.caps,
		Status:       ctrl.Status.Current(),
		CreatedAt:    ctrl.createdAt,
	}, nil
}

// Get returns the controller for agentID.
func (m *Manager) Get(agentID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", domain.ErrAgentNotFound, agentID)
	}
	return ctrl, nil
}

// DestroyAgent terminates and unregisters an agent.
func (m *Manager) DestroyAgent(ctx context.Context, agentID string) error {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return err
	}

	if err := ctrl.Status.Transition(ctx, domain.StateTerminated); err != nil {
		return err
	}
	if err := ctrl.module.Shutdown(ctx); err != nil {
		m.logger.Warn("agent module shutdown error", "agent", agentID, "error", err)
	}

	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()

	_ = m.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentDestroy,
		Actor: "lifecycle.Manager", Resource: agentID, Action: "destroy", Outcome: "ok",
	})
	return nil
}

// Tick drives one scheduling round across every Active agent: it calls
// each module's run export, if exported, and moves any agent whose call
// traps or overruns its execution quota to Faulted.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.agents))
	for _, c := range m.agents {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, ctrl := range controllers {
		if ctrl.Status.Current() != domain.StateActive {
			continue
		}
		if err := m.dispatch.Wait(ctx); err != nil {
			return err
		}
		if err := ctrl.module.Run(ctx); err != nil {
			m.logger.Warn("agent tick failed", "agent", ctrl.ID, "error", err)
			if errors.Is(err, domain.ErrTrapInGuest) || errors.Is(err, domain.ErrTimeQuotaExceeded) {
				_ = ctrl.Status.Transition(ctx, domain.StateFaulted)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Suspend moves agentID from Active to Suspended. Used both by the AMS
// (external suspend request) and by managerLifecycle (agent module
// suspending itself via a lifecycle_control host call).
func (m *Manager) Suspend(ctx context.Context, agentID string) error {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return err
	}
	return ctrl.Status.Transition(ctx, domain.StateSuspended)
}

// Resume moves agentID back to Active from Suspended or Transit.
func (m *Manager) Resume(ctx context.Context, agentID string) error {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return err
	}
	return ctrl.Status.Transition(ctx, domain.StateActive)
}

// MigrateTo marks agentID as in transit to targetNode. It does not itself
// move any bytes: internal/migration drives the snapshot/package/transfer
// sequence and calls back into the Manager (via DestroyAgent on the
// source once the target confirms receipt).
func (m *Manager) MigrateTo(ctx context.Context, agentID, targetNode string) error {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return err
	}
	if !ctrl.caps.MigrationAllowed {
		return fmt.Errorf("%w: agent %s", domain.ErrMigrationNotAllowed, agentID)
	}
	return ctrl.Status.Transition(ctx, domain.StateTransit)
}

// Snapshot captures agentID's current runtime state for internal/migration
// to seal into an domain.AgentPackage. The agent must already be in
// StateTransit (see MigrateTo) so no further message dispatch races the
// capture.
func (m *Manager) Snapshot(ctx context.Context, agentID string) (domain.AgentSnapshot, error) {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return domain.AgentSnapshot{}, err
	}
	if ctrl.Status.Current() != domain.StateTransit {
		return domain.AgentSnapshot{}, fmt.Errorf("%w: agent %s must be in transit to snapshot", domain.ErrInvalidTransition, agentID)
	}
	return ctrl.module.Snapshot(ctx)
}

// RestoreAgent admits an agent arriving from a migration: it loads the
// module exactly as CreateAgent does, then restores snap into the fresh
// instance before transitioning Initiated -> Active. sourceNode is
// recorded only in the migrate-in audit event's detail; the controller
// keeps no migration history.
func (m *Manager) RestoreAgent(ctx context.Context, agent domain.Agent, snap domain.AgentSnapshot, sourceNode string) (*Controller, error) {
	agentID := agent.ID.Name

	m.mu.Lock()
	if _, exists := m.agents[agentID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s", domain.ErrNameInUse, agentID)
	}
	m.mu.Unlock()

	kv, err := NewKVStore(m.fsSandbox, agentID, agent.Capabilities.StorageQuotaBytes, m.encryptor)
	if err != nil {
		return nil, err
	}

	status := NewStatusMachine(agentID, m.bus, m.audit)
	mailbox := NewMailbox(agentID, DefaultMailboxCapacity, m.bus)

	ctrl := &Controller{
		ID:            agentID,
		Status:        status,
		Mailbox:       mailbox,
		Storage:       kv,
		Conversations: protocol.NewManager(agentID, m.protocols, m.bus, m.audit, m.logger),
		caps:          agent.Capabilities,
		moduleBytes:   agent.ModuleBytes,
		moduleHash:    agent.ModuleHash,
		createdAt:     agent.CreatedAt,
	}

	m.mu.RLock()
	outbound := m.outbound
	m.mu.RUnlock()

	env := &sandbox.HostEnv{
		AgentID:   agentID,
		Sandbox:   sandbox.NewSandbox(agent.Capabilities, m.logger),
		Logger:    m.logger,
		Bus:       m.bus,
		Mailbox:   mailbox,
		Storage:   kv,
		Services:  m.services,
		Lifecycle: &managerLifecycle{m: m},
		Outbound:  outbound,
	}

	module, err := sandbox.LoadModule(ctx, m.runtime, agent.ModuleBytes, env)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load module for %s: %w", agentID, err)
	}
	if err := module.Restore(ctx, snap); err != nil {
		_ = module.Shutdown(ctx)
		return nil, fmt.Errorf("lifecycle: restore snapshot for %s: %w", agentID, err)
	}
	ctrl.module = module

	m.mu.Lock()
	m.agents[agentID] = ctrl
	m.mu.Unlock()

	if err := status.Transition(ctx, domain.StateActive); err != nil {
		m.mu.Lock()
		delete(m.agents, agentID)
		m.mu.Unlock()
		_ = module.Shutdown(ctx)
		return nil, err
	}

	m.bus.Publish(ctx, domain.Event{Type: domain.EventAgentCreated, AgentID: agentID})
	_ = m.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentCreate,
		Actor: "lifecycle.Manager", Resource: agentID, Action: "migrate-in", Outcome: "ok",
		Detail: map[string]string{"source_node": sourceNode},
	})

	return ctrl, nil
}

// Capabilities returns the granted capability set for agentID.
func (m *Manager) Capabilities(agentID string) (domain.Capabilities, error) {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return domain.Capabilities{}, err
	}
	return ctrl.caps, nil
}

// RegisterWithScheduler wires Manager.Tick to the platform's
// scheduling.ActionAgentTick action.
func (m *Manager) RegisterWithScheduler(s *scheduling.Scheduler) {
	s.RegisterAction(scheduling.ActionAgentTick, m.Tick)
}

// ListDescriptors returns the AMS-facing descriptor for every hosted
// agent, used by internal/ams to answer AMS search/get-description
// requests without reaching back into the Manager's internals.
func (m *Manager) ListDescriptors(currentNode string) []domain.AgentDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	descriptors := make([]domain.AgentDescriptor, 0, len(m.agents))
	for _, ctrl := range m.agents {
		descriptors = append(descriptors, domain.AgentDescriptor{
			ID:           domain.NewAgentId(ctrl.ID),
			CurrentNode:  currentNode,
			Capabilities: ctrl.caps,
			Load: domain.LoadMetrics{
				ActiveConversations: 0,
				MemoryUsageBytes:    0,
			},
			Status: ctrl.Status.Current(),
		})
	}
	return descriptors
}

// LocalAgentIDs returns the bare names of every agent currently hosted on
// this node. Used by transport.ACC to resolve a receiver as local versus
// remote and to fan a Broadcast receiver set out across every hosted agent.
func (m *Manager) LocalAgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	return ids
}

// Deliver hands msg to agentID's mailbox, implementing
// transport.LocalDeliverer. A message that declares a protocol or
// conversation_id is first validated and transitioned against that
// agent's own conversation manager (spec.md §4.3); a bare message with
// neither bypasses the conversation engine and is enqueued as-is.
func (m *Manager) Deliver(ctx context.Context, agentID string, msg domain.AclMessage) error {
	ctrl, err := m.Get(agentID)
	if err != nil {
		return err
	}
	if msg.Protocol != nil || msg.ConversationID != "" {
		conv, err := ctrl.Conversations.Handle(ctx, msg, time.Now())
		if err != nil {
			return err
		}
		if conv.ReplyDeadline != nil {
			m.mu.RLock()
			scheduler := m.scheduler
			m.mu.RUnlock()
			if scheduler != nil {
				if err := ctrl.Conversations.ArmTimeout(scheduler, conv.ConversationID, *conv.ReplyDeadline, time.Now()); err != nil {
					m.logger.Warn("lifecycle: arm conversation timeout failed", "agent", agentID, "conversation", conv.ConversationID, "error", err)
				}
			}
		}
	}
	return ctrl.Mailbox.Send(ctx, msg)
}

// managerLifecycle adapts Manager to sandbox.LifecycleControl, so an
// agent module's lifecycle_control/migrate_to host calls route back
// through the same status machine and audit trail as an external
// AMS-driven Suspend/Resume/Terminate.
type managerLifecycle struct {
	m *Manager
}

func (l *managerLifecycle) Status(agentID string) (domain.AgentLifecycleState, error) {
	ctrl, err := l.m.Get(agentID)
	if err != nil {
		return "", err
	}
	return ctrl.Status.Current(), nil
}

func (l *managerLifecycle) Suspend(ctx context.Context, agentID string) error {
	return l.m.Suspend(ctx, agentID)
}

func (l *managerLifecycle) Resume(ctx context.Context, agentID string) error {
	return l.m.Resume(ctx, agentID)
}

func (l *managerLifecycle) Terminate(ctx context.Context, agentID string) error {
	return l.m.DestroyAgent(ctx, agentID)
}

func (l *managerLifecycle) MigrateTo(ctx context.Context, agentID, targetNode string) error {
	return l.m.MigrateTo(ctx, agentID, targetNode)
}

// noopServiceDirectory answers every DF host call with an empty result
// rather than failing module load, until internal/df is wired in via
// Manager.SetServiceDirectory.
type noopServiceDirectory struct{}

func (noopServiceDirectory) Register(context.Context, domain.AgentId, domain.ServiceDescription) error {
	return nil
}

func (noopServiceDirectory) Search(context.Context, domain.ServiceFilter) ([]domain.ServiceRegistration, error) {
	return nil, nil
}

func (noopServiceDirectory) Deregister(context.Context, domain.AgentId, string) error {
	return nil
}

// noopOutbound fails every send_message host call until Manager.SetOutbound
// wires in the node's ACC, rather than leaving agent modules' sends
// silently dropped.
type noopOutbound struct{}

func (noopOutbound) Route(context.Context, domain.AclMessage) error {
	return fmt.Errorf("%w: acc not wired into lifecycle manager", domain.ErrDisabled)
}
