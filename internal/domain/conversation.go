package domain

import "time"

// ConversationRole is the part an agent plays within a conversation.
type ConversationRole string

const (
	RoleInitiator   ConversationRole = "initiator"
	RoleParticipant ConversationRole = "participant"
	RoleBroker      ConversationRole = "broker"
)

// ConversationState is the opaque, protocol-specific state tag a conversation
// carries. Each protocol defines its own concrete string values (see
// internal/protocol); the engine only needs to compare and serialize it.
type ConversationState string

// Conversation is an ordered exchange of messages sharing a conversation id.
// It is created when the first message bearing a fresh ConversationID is
// sent or received, and destroyed when its protocol state machine reaches a
// terminal state or times out. A Conversation is owned by exactly one local
// agent; the protocol engine keeps one conversation manager per agent.
type Conversation struct {
	ConversationID string
	Protocol       ProtocolType
	Role           ConversationRole
	State          ConversationState
	Messages       []AclMessage
	Participants   []AgentId
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ReplyDeadline  *time.Time
}

// AppendMessage records a message in the conversation's history and bumps
// UpdatedAt. It does not itself validate or transition state — that is the
// protocol engine's job.
func (c *Conversation) AppendMessage(msg AclMessage, now time.Time) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
}

// ConversationSnapshot is the serializable slice of a Conversation carried
// inside an AgentSnapshot during migration.
type ConversationSnapshot struct {
	ConversationID string
	Protocol       ProtocolType
	Role           ConversationRole
	State          ConversationState
	Messages       []AclMessage
	Participants   []AgentId
}

func (c *Conversation) Snapshot() ConversationSnapshot {
	return ConversationSnapshot{
		ConversationID: c.ConversationID,
		Protocol:       c.Protocol,
		Role:           c.Role,
		State:          c.State,
		Messages:       append([]AclMessage(nil), c.Messages...),
		Participants:   append([]AgentId(nil), c.Participants...),
	}
}

func ConversationFromSnapshot(s ConversationSnapshot, now time.Time) *Conversation {
	return &Conversation{
		ConversationID: s.ConversationID,
		Protocol:       s.Protocol,
		Role:           s.Role,
		State:          s.State,
		Messages:       append([]AclMessage(nil), s.Messages...),
		Participants:   append([]AgentId(nil), s.Participants...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
