package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Agent lifecycle.
	EventAgentCreated    EventType = "agent.created"
	EventAgentDestroyed  EventType = "agent.destroyed"
	EventAgentSuspended  EventType = "agent.suspended"
	EventAgentResumed    EventType = "agent.resumed"
	EventAgentFaulted    EventType = "agent.faulted"
	EventAgentScheduled  EventType = "agent.scheduled"

	// Messaging.
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"
	EventMailboxOverflow EventType = "mailbox.overflow"

	// Protocol / conversation engine.
	EventConversationOpened   EventType = "conversation.opened"
	EventConversationAdvanced EventType = "conversation.advanced"
	EventConversationTerminal EventType = "conversation.terminal"
	EventConversationTimeout  EventType = "conversation.timeout"

	// AMS.
	EventAMSAgentRegistered   EventType = "ams.agent.registered"
	EventAMSAgentDeregistered EventType = "ams.agent.deregistered"

	// DF.
	EventDFServiceRegistered   EventType = "df.service.registered"
	EventDFServiceDeregistered EventType = "df.service.deregistered"
	EventDFSubscriptionFired   EventType = "df.subscription.fired"

	// Transport / ACC.
	EventEnvelopeSent     EventType = "envelope.sent"
	EventEnvelopeReceived EventType = "envelope.received"
	EventEnvelopeFailed   EventType = "envelope.failed"
	EventMTPActivated     EventType = "mtp.activated"
	EventMTPDeactivated   EventType = "mtp.deactivated"

	// Migration.
	EventMigrationStarted   EventType = "migration.started"
	EventMigrationCommitted EventType = "migration.committed"
	EventMigrationAborted   EventType = "migration.aborted"

	// Node / cluster (ambient infra shared with AMS target discovery).
	EventNodeRegistered   EventType = "node.registered"
	EventNodeUnregistered EventType = "node.unregistered"
	EventNodeHeartbeat    EventType = "node.heartbeat"
	EventNodeUnreachable  EventType = "node.unreachable"
	EventNodeInvoked      EventType = "node.invoked"
	EventNodeDiscovered   EventType = "node.discovered"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
