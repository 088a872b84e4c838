package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/usecase/scheduling"
)

// DefaultGCGrace is how long a terminal conversation is kept around (for
// late duplicate deliveries and audit inspection) before Manager.GC
// reclaims it.
const DefaultGCGrace = 5 * time.Minute

// Manager is the per-agent conversation manager: it owns every
// domain.Conversation the agent currently has open, validates and
// transitions each inbound/outbound message through the right Protocol,
// arms reply_by timeouts, and lazily garbage-collects conversations that
// have reached a terminal state.
type Manager struct {
	mu            sync.Mutex
	agentID       string
	registry      *Registry
	conversations map[string]*domain.Conversation
	bus           domain.EventBus
	audit         domain.AuditLogger
	logger        *slog.Logger
	gcGrace       time.Duration
	terminalAt    map[string]time.Time
}

// NewManager creates a conversation Manager for one agent.
func NewManager(agentID string, registry *Registry, bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Manager {
	return &Manager{
		agentID:       agentID,
		registry:      registry,
		conversations: make(map[string]*domain.Conversation),
		bus:           bus,
		audit:         audit,
		logger:        logger,
		gcGrace:       DefaultGCGrace,
		terminalAt:    make(map[string]time.Time),
	}
}

// Open starts a new conversation in the given role, at its protocol's
// initial state. Returns ErrDuplicate if conversationID is already open.
func (m *Manager) Open(ctx context.Context, conversationID string, protoType domain.ProtocolType, role domain.ConversationRole, participants []domain.AgentId, now time.Time) (*domain.Conversation, error) {
	proto, err := m.registry.Get(protoType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[conversationID]; exists {
		return nil, fmt.Errorf("%w: conversation %s already open", domain.ErrDuplicate, conversationID)
	}

	conv := &domain.Conversation{
		ConversationID: conversationID,
		Protocol:       protoType,
		Role:           role,
		State:          proto.InitialState(),
		Participants:   participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.conversations[conversationID] = conv
	m.bus.Publish(ctx, domain.Event{Type: domain.EventConversationOpened, AgentID: m.agentID})
	return conv, nil
}

// Handle validates msg against its conversation's current state, applies
// the transition, appends msg to history, and publishes the relevant
// lifecycle events. If the conversation is unknown, an opener performative
// bootstraps a fresh Participant conversation; any other performative on
// an unknown conversation_id is ErrUnknownConversation. Any message
// carrying no conversation_id is ErrMissingConversationID.
func (m *Manager) Handle(ctx context.Context, msg domain.AclMessage, now time.Time) (*domain.Conversation, error) {
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: %s message has no conversation_id", domain.ErrMissingConversationID, msg.Performative)
	}

	m.mu.Lock()
	conv, exists := m.conversations[msg.ConversationID]
	m.mu.Unlock()

	if !exists {
		proto, ok := m.registry.Opener(msg)
		if !ok {
			return nil, fmt.Errorf("%w: conversation %s", domain.ErrUnknownConversation, msg.ConversationID)
		}
		var err error
		conv, err = m.Open(ctx, msg.ConversationID, proto.Type(), domain.RoleParticipant, []domain.AgentId{msg.Sender}, now)
		if err != nil {
			return nil, err
		}
	}

	proto, err := m.registry.Get(conv.Protocol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := proto.Validate(conv.State, msg); err != nil {
		return conv, err
	}
	next, err := proto.Transition(conv.State, msg)
	if err != nil {
		return conv, err
	}

	conv.State = next
	conv.AppendMessage(msg, now)
	if msg.ReplyBy != nil {
		conv.ReplyDeadline = msg.ReplyBy
	}

	if proto.IsTerminal(next) {
		m.terminalAt[conv.ConversationID] = now
		m.bus.Publish(ctx, domain.Event{Type: domain.EventConversationTerminal, AgentID: m.agentID})
	} else {
		m.bus.Publish(ctx, domain.Event{Type: domain.EventConversationAdvanced, AgentID: m.agentID})
	}
	_ = m.audit.Log(ctx, domain.AuditEvent{
		Timestamp: now, Type: domain.AuditDataEvent,
		Actor: m.agentID, Resource: conv.ConversationID,
		Action: fmt.Sprintf("%s -> %s", msg.Performative, next), Outcome: "ok",
	})

	return conv, nil
}

// Get returns the conversation for id, if still open.
func (m *Manager) Get(conversationID string) (*domain.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationID]
	return conv, ok
}

// GC reclaims conversations that reached a terminal state more than
// gcGrace ago (spec.md §4.3: "completed conversations are garbage-collected
// lazily").
func (m *Manager) GC(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reclaimed := 0
	for id, at := range m.terminalAt {
		if now.Sub(at) >= m.gcGrace {
			delete(m.conversations, id)
			delete(m.terminalAt, id)
			reclaimed++
		}
	}
	return reclaimed
}

// ArmTimeout schedules a one-shot timeout check for conversationID at
// deadline: if the conversation is still open and non-terminal when the
// timer fires, it is queued for GC as if terminal (its State is left
// as it was), EventConversationTimeout is published and the timeout is
// audited. Requires the node's scheduling.Scheduler to have
// scheduling.ActionConversationTimeout registered (Manager does that via
// RegisterWithScheduler).
func (m *Manager) ArmTimeout(s *scheduling.Scheduler, conversationID string, deadline, now time.Time) error {
	delay := deadline.Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	taskID := fmt.Sprintf("conversation-timeout:%s:%s", m.agentID, conversationID)
	return s.AddDynamicTask(taskID, scheduling.NewConstantDelay(delay), func(ctx context.Context) error {
		return m.expire(ctx, conversationID, time.Now())
	}, true)
}

// RegisterWithScheduler registers Manager's handling of
// scheduling.ActionConversationTimeout tasks added via scheduling.AddTask
// (as opposed to the per-conversation dynamic timers ArmTimeout sets up).
func (m *Manager) RegisterWithScheduler(s *scheduling.Scheduler) {
	s.RegisterAction(scheduling.ActionConversationTimeout, func(ctx context.Context) error {
		m.mu.Lock()
		ids := make([]string, 0, len(m.conversations))
		for id, conv := range m.conversations {
			if conv.ReplyDeadline != nil && time.Now().After(*conv.ReplyDeadline) {
				ids = append(ids, id)
			}
		}
		m.mu.Unlock()

		var firstErr error
		for _, id := range ids {
			if err := m.expire(ctx, id, time.Now()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

func (m *Manager) expire(ctx context.Context, conversationID string, now time.Time) error {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	proto, err := m.registry.Get(conv.Protocol)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if proto.IsTerminal(conv.State) {
		m.mu.Unlock()
		return nil
	}
	conv.UpdatedAt = now
	m.terminalAt[conversationID] = now
	m.mu.Unlock()

	m.logger.Warn("conversation timed out", "agent", m.agentID, "conversation", conversationID)
	m.bus.Publish(ctx, domain.Event{Type: domain.EventConversationTimeout, AgentID: m.agentID})
	return m.audit.Log(ctx, domain.AuditEvent{
		Timestamp: now, Type: domain.AuditDataEvent,
		Actor: m.agentID, Resource: conversationID, Action: "timeout", Outcome: "expired",
	})
}
