package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditAgentCreate  AuditEventType = "agent_create"
	AuditAgentDestroy AuditEventType = "agent_destroy"
	AuditAgentMigrate AuditEventType = "agent_migrate"

	AuditNodeRegister    AuditEventType = "node_register"
	AuditNodeUnregister  AuditEventType = "node_unregister"
	AuditNodeTokenGen    AuditEventType = "node_token_gen"
	AuditNodeTokenRevoke AuditEventType = "node_token_revoke"
	AuditNodeInvoke      AuditEventType = "node_invoke"

	AuditAccessDenied AuditEventType = "access_denied"
	AuditAccessLog    AuditEventType = "access_log"
	AuditDataEvent    AuditEventType = "data_event"
)

// AuditEvent represents a single auditable action.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Detail    map[string]string `json:"detail"`

	Actor    string `json:"actor,omitempty"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
