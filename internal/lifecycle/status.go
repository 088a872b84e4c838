package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fipacore/platform/internal/domain"
)

// StatusMachine guards an agent's AgentLifecycleState transitions,
// rejecting any edge domain.CanTransition does not allow and publishing
// an event/audit record for every legal one.
type StatusMachine struct {
	mu      sync.RWMutex
	agentID string
	state   domain.AgentLifecycleState
	bus     domain.EventBus
	audit   domain.AuditLogger
}

// NewStatusMachine creates a machine starting in domain.StateInitiated.
func NewStatusMachine(agentID string, bus domain.EventBus, audit domain.AuditLogger) *StatusMachine {
	return &StatusMachine{
		agentID: agentID,
		state:   domain.StateInitiated,
		bus:     bus,
		audit:   audit,
	}
}

// Current returns the agent's present state.
func (m *StatusMachine) Current() domain.AgentLifecycleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the agent from its current state to to, if legal.
func (m *StatusMachine) Transition(ctx context.Context, to domain.AgentLifecycleState) error {
	m.mu.Lock()
	from := m.state
	if !domain.CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for agent %s", domain.ErrInvalidTransition, from, to, m.agentID)
	}
	m.state = to
	m.mu.Unlock()

	m.publish(ctx, from, to)
	return nil
}

func (m *StatusMachine) publish(ctx context.Context, from, to domain.AgentLifecycleState) {
	if m.bus != nil {
		m.bus.Publish(ctx, domain.Event{
			Type:    eventForTransition(to),
			AgentID: m.agentID,
		})
	}
	if m.audit != nil {
		_ = m.audit.Log(ctx, domain.AuditEvent{
			Timestamp: time.Now(),
			Type:      domain.AuditAgentCreate,
			Actor:     "lifecycle.StatusMachine",
			Resource:  m.agentID,
			Action:    fmt.Sprintf("%s->%s", from, to),
			Outcome:   "ok",
		})
	}
}

func eventForTransition(to domain.AgentLifecycleState) domain.EventType {
	switch to {
	case domain.StateActive:
		return domain.EventAgentResumed
	case domain.StateSuspended:
		return domain.EventAgentSuspended
	case domain.StateFaulted:
		return domain.EventAgentFaulted
	case domain.StateTerminated:
		return domain.EventAgentDestroyed
	default:
		return domain.EventAgentScheduled
	}
}
