// Package protocol implements the FIPA interaction-protocol state machines:
// Request, Query, Propose, Contract-Net, and Subscribe. Each protocol is a
// tagged-variant state plus a transition table, matching the
// ProtocolStateMachine shape of the platform this was ported from
// (validate_message / transition / is_terminal / protocol_type), and the
// teacher's table-driven step state machine in internal/usecase/workflow
// for how control flow and errors propagate through a multi-step exchange.
package protocol

import (
	"fmt"

	"github.com/fipacore/platform/internal/domain"
)

// Protocol is the generic interaction-protocol state machine every concrete
// protocol in this package implements. A Protocol is stateless and
// concurrency-safe: all state lives in the domain.Conversation the engine
// passes in, never in the Protocol value itself.
type Protocol interface {
	// Type identifies the protocol on the wire and in domain.Conversation.
	Type() domain.ProtocolType

	// InitialState is the state a freshly opened conversation starts in.
	InitialState() domain.ConversationState

	// Validate reports whether msg's performative is legal to receive while
	// the conversation is in state. It never mutates anything.
	Validate(state domain.ConversationState, msg domain.AclMessage) error

	// Transition computes the next state after msg is accepted into the
	// conversation. Callers must call Validate first; Transition assumes
	// the message is already known-legal and returns ErrInvalidTransition
	// only for performatives Validate would also have rejected.
	Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error)

	// IsTerminal reports whether state is a terminal state: no further
	// messages are expected and the conversation may be garbage-collected.
	IsTerminal(state domain.ConversationState) bool

	// ExpectedPerformatives lists the performatives a message arriving
	// while the conversation is in state may legally carry. Used to build
	// NotUnderstood/Failure diagnostics and for opener detection.
	ExpectedPerformatives(state domain.ConversationState) []domain.Performative
}

// transitionTable is the table-driven shape every concrete protocol in this
// package is built from: state -> performative -> next state. A missing
// entry means the performative is not legal in that state.
type transitionTable map[domain.ConversationState]map[domain.Performative]domain.ConversationState

func (t transitionTable) next(state domain.ConversationState, p domain.Performative) (domain.ConversationState, bool) {
	edges, ok := t[state]
	if !ok {
		return "", false
	}
	next, ok := edges[p]
	return next, ok
}

func (t transitionTable) expected(state domain.ConversationState) []domain.Performative {
	edges := t[state]
	out := make([]domain.Performative, 0, len(edges))
	for p := range edges {
		out = append(out, p)
	}
	return out
}

// validateAgainst is the shared Validate implementation for every
// table-driven protocol in this package: a performative is legal in state
// exactly when the transition table has an edge for it.
func validateAgainst(table transitionTable, protoType domain.ProtocolType, state domain.ConversationState, msg domain.AclMessage) error {
	if _, ok := table.next(state, msg.Performative); !ok {
		return fmt.Errorf("%w: %s protocol, state %q does not accept %s", domain.ErrValidationFailed, protoType, state, msg.Performative)
	}
	return nil
}

// transitionAgainst is the shared Transition implementation for every
// table-driven protocol in this package.
func transitionAgainst(table transitionTable, protoType domain.ProtocolType, state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	next, ok := table.next(state, msg.Performative)
	if !ok {
		return state, fmt.Errorf("%w: %s protocol, state %q has no edge for %s", domain.ErrInvalidTransition, protoType, state, msg.Performative)
	}
	return next, nil
}

func isTerminalIn(terminal map[domain.ConversationState]bool, state domain.ConversationState) bool {
	return terminal[state]
}
