package domain

import "time"

// AgentLifecycleState is the status machine every hosted agent moves
// through: Initiated -> Active <-> Suspended -> Terminated, with a
// transient Active -> Transit -> Active' excursion during migration.
type AgentLifecycleState string

const (
	StateInitiated  AgentLifecycleState = "initiated"
	StateActive     AgentLifecycleState = "active"
	StateSuspended  AgentLifecycleState = "suspended"
	StateTransit    AgentLifecycleState = "transit"
	StateFaulted    AgentLifecycleState = "faulted"
	StateTerminated AgentLifecycleState = "terminated"
)

// legalTransitions enumerates the only allowed status-machine edges.
var legalTransitions = map[AgentLifecycleState]map[AgentLifecycleState]bool{
	StateInitiated: {StateActive: true, StateTerminated: true},
	StateActive: {
		StateSuspended: true, StateTransit: true, StateFaulted: true, StateTerminated: true,
	},
	StateSuspended: {StateActive: true, StateTerminated: true},
	StateTransit:   {StateActive: true, StateTerminated: true},
	StateFaulted:   {StateTerminated: true},
}

// CanTransition reports whether moving from "from" to "to" is legal.
func CanTransition(from, to AgentLifecycleState) bool {
	return legalTransitions[from][to]
}

// NetworkAccessLevel bounds what an agent's host calls may reach outside
// the local platform.
type NetworkAccessLevel string

const (
	NetworkNone         NetworkAccessLevel = "none"
	NetworkLocalOnly    NetworkAccessLevel = "local-only"
	NetworkRestricted   NetworkAccessLevel = "restricted"
	NetworkUnrestricted NetworkAccessLevel = "unrestricted"
)

// Capabilities bounds what a hosted agent's module may do and consume.
type Capabilities struct {
	MaxMemoryBytes     int64              `json:"max_memory_bytes"`
	MaxExecutionTimeMS int64              `json:"max_execution_time_ms"`
	AllowedProtocols   []ProtocolType     `json:"allowed_protocols,omitempty"`
	NetworkAccess      NetworkAccessLevel `json:"network_access"`
	RestrictedHosts    []string           `json:"restricted_hosts,omitempty"`
	StorageQuotaBytes  int64              `json:"storage_quota_bytes"`
	MigrationAllowed   bool               `json:"migration_allowed"`
}

// DefaultCapabilities mirrors the original agent programs' defaults: 64MB
// memory, a 5s execution slice, local-only networking, 10MB of storage, and
// migration disabled until explicitly granted.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MaxMemoryBytes:     64 * 1024 * 1024,
		MaxExecutionTimeMS: 5000,
		NetworkAccess:      NetworkLocalOnly,
		StorageQuotaBytes:  10 * 1024 * 1024,
		MigrationAllowed:   false,
	}
}

// AllowsProtocol reports whether p is in the allowlist. An empty allowlist
// means all protocols are permitted.
func (c Capabilities) AllowsProtocol(p ProtocolType) bool {
	if len(c.AllowedProtocols) == 0 {
		return true
	}
	for _, allowed := range c.AllowedProtocols {
		if allowed == p {
			return true
		}
	}
	return false
}

// AgentSnapshot is the serializable, restorable image of a running agent.
// Restoring a snapshot into a freshly-instantiated module of the same
// module hash must yield an execution-equivalent agent.
type AgentSnapshot struct {
	LinearMemory     []byte                          `json:"linear_memory"`
	ExportedGlobals  map[string]int64                `json:"exported_globals"`
	OpenConversations map[string]ConversationSnapshot `json:"open_conversations"`
	CustomBytes      []byte                          `json:"custom_bytes,omitempty"`
}

// Agent is a hosted mobile agent: its identity, byte-code module, granted
// capabilities, runtime state, and migration provenance.
type Agent struct {
	ID               AgentId             `json:"id"`
	ModuleBytes      []byte              `json:"-"`
	ModuleHash       string              `json:"module_hash"`
	Capabilities     Capabilities        `json:"capabilities"`
	Status           AgentLifecycleState `json:"status"`
	MigrationHistory []string            `json:"migration_history,omitempty"`
	Signature        []byte              `json:"signature,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// MigrationReason records why an agent was moved between nodes.
type MigrationReason string

const (
	MigrationLoadBalancing MigrationReason = "load-balancing"
	MigrationUserRequested MigrationReason = "user-requested"
	MigrationNodeShutdown  MigrationReason = "node-shutdown"
	MigrationResourceLimit MigrationReason = "resource-limit"
)

// MigrationMetadata describes a single migration hop.
type MigrationMetadata struct {
	SourceNode string          `json:"source_node"`
	TargetNode string          `json:"target_node"`
	AgentID    string          `json:"agent_id"`
	Reason     MigrationReason `json:"reason"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PackageVerification is the tamper-evidence attached to an AgentPackage.
type PackageVerification struct {
	ContentHash     [32]byte  `json:"content_hash"`
	Signature       []byte    `json:"signature,omitempty"`
	SignerPublicKey []byte    `json:"signer_public_key,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AgentPackage is the self-contained unit shipped during migration: the
// agent's module, its snapshot, and a verification record binding the two.
type AgentPackage struct {
	Agent        Agent         `json:"agent"`
	Snapshot     AgentSnapshot `json:"snapshot"`
	Verification PackageVerification `json:"verification"`
}

// LoadMetrics is a point-in-time resource usage sample for an agent,
// published by the AMS as part of its AgentDescriptor.
type LoadMetrics struct {
	ActiveConversations int     `json:"active_conversations"`
	CPUUsagePercent     float64 `json:"cpu_usage_percent"`
	MemoryUsageBytes    int64   `json:"memory_usage_bytes"`
}

// AgentDescriptor is the AMS's public record of a locally hosted agent.
type AgentDescriptor struct {
	ID           AgentId              `json:"id"`
	CurrentNode  string               `json:"current_node"`
	Capabilities Capabilities         `json:"capabilities"`
	Services     []ServiceDescription `json:"services,omitempty"`
	Load         LoadMetrics          `json:"load"`
	Status       AgentLifecycleState  `json:"status"`
}
