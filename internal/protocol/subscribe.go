package protocol

import "github.com/fipacore/platform/internal/domain"

// Subscribe protocol states (spec.md §4.3): NotStarted -> Subscribed ->
// (repeated Inform stays Subscribed) -> Cancelled|Failed. Terminal on
// Cancel from either side.
const (
	SubscribeNotStarted domain.ConversationState = "not-started"
	SubscribeSubscribed domain.ConversationState = "subscribed"
	SubscribeCancelled  domain.ConversationState = "cancelled"
	SubscribeFailed     domain.ConversationState = "failed"
)

var subscribeTable = transitionTable{
	SubscribeNotStarted: {
		domain.Subscribe: SubscribeSubscribed,
	},
	SubscribeSubscribed: {
		domain.Inform:  SubscribeSubscribed,
		domain.Cancel:  SubscribeCancelled,
		domain.Failure: SubscribeFailed,
	},
}

var subscribeTerminal = map[domain.ConversationState]bool{
	SubscribeCancelled: true,
	SubscribeFailed:    true,
}

// SubscribeProtocol implements the FIPA Subscribe interaction protocol. A
// subscription stays open across any number of Inform notifications; it
// only reaches a terminal state when either party cancels or the notifier
// reports a failure.
type SubscribeProtocol struct{}

func (SubscribeProtocol) Type() domain.ProtocolType { return domain.ProtocolSubscribe }

func (SubscribeProtocol) InitialState() domain.ConversationState { return SubscribeNotStarted }

func (SubscribeProtocol) Validate(state domain.ConversationState, msg domain.AclMessage) error {
	return validateAgainst(subscribeTable, domain.ProtocolSubscribe, state, msg)
}

func (SubscribeProtocol) Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	return transitionAgainst(subscribeTable, domain.ProtocolSubscribe, state, msg)
}

func (SubscribeProtocol) IsTerminal(state domain.ConversationState) bool {
	return isTerminalIn(subscribeTerminal, state)
}

func (SubscribeProtocol) ExpectedPerformatives(state domain.ConversationState) []domain.Performative {
	return subscribeTable.expected(state)
}
