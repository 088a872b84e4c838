package domain

import "context"

// LogEntryKind distinguishes the AMS mutations that must go through
// consensus when replication is enabled.
type LogEntryKind string

const (
	LogEntryCreateAgent  LogEntryKind = "create-agent"
	LogEntryDestroyAgent LogEntryKind = "destroy-agent"
	LogEntryUpdateDescr  LogEntryKind = "update-descriptor"
)

// LogEntry is a single AMS mutation submitted for replication.
type LogEntry struct {
	Kind    LogEntryKind
	AgentID string
	Payload []byte
}

// ReplicatedLog is the external consensus log the AMS writes AgentId
// admission and destruction through when multi-node agreement is enabled.
// This platform specifies only the contract; Raft (or any other consensus
// protocol) is an external collaborator.
//
// Append must not return until the entry has either committed (quorum
// reached) or definitively failed; the AMS applies the mutation locally
// only after a successful Append.
type ReplicatedLog interface {
	Append(ctx context.Context, entry LogEntry) error
	// IsLeader reports whether this node may originate new entries. A
	// standalone, non-clustered node is always its own leader.
	IsLeader() bool
}

// noopReplicatedLog is the default for a standalone (non-clustered) node:
// every append "commits" immediately and locally.
type noopReplicatedLog struct{}

// NewNoopReplicatedLog returns a ReplicatedLog with no cross-node effect,
// suitable for a single-node platform.
func NewNoopReplicatedLog() ReplicatedLog { return noopReplicatedLog{} }

func (noopReplicatedLog) Append(ctx context.Context, entry LogEntry) error { return nil }
func (noopReplicatedLog) IsLeader() bool                                  { return true }
