package protocol

import "github.com/fipacore/platform/internal/domain"

// Propose protocol states, grounded on original_source/src/protocol/propose.rs's
// ProposeState enum and validate_transition match-arm table: NotStarted ->
// Proposed -> {Accepted, Rejected, Cancelled}.
const (
	ProposeNotStarted domain.ConversationState = "not-started"
	ProposeProposed   domain.ConversationState = "proposed"
	ProposeAccepted   domain.ConversationState = "accepted"
	ProposeRejected   domain.ConversationState = "rejected"
	ProposeCancelled  domain.ConversationState = "cancelled"
)

var proposeTable = transitionTable{
	ProposeNotStarted: {
		domain.Propose: ProposeProposed,
	},
	ProposeProposed: {
		domain.AcceptProposal: ProposeAccepted,
		domain.RejectProposal: ProposeRejected,
		domain.Cancel:         ProposeCancelled,
	},
}

var proposeTerminal = map[domain.ConversationState]bool{
	ProposeAccepted:  true,
	ProposeRejected:  true,
	ProposeCancelled: true,
}

// ProposeProtocol implements the FIPA Propose interaction protocol.
type ProposeProtocol struct{}

func (ProposeProtocol) Type() domain.ProtocolType { return domain.ProtocolPropose }

func (ProposeProtocol) InitialState() domain.ConversationState { return ProposeNotStarted }

func (ProposeProtocol) Validate(state domain.ConversationState, msg domain.AclMessage) error {
	return validateAgainst(proposeTable, domain.ProtocolPropose, state, msg)
}

func (ProposeProtocol) Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	return transitionAgainst(proposeTable, domain.ProtocolPropose, state, msg)
}

func (ProposeProtocol) IsTerminal(state domain.ConversationState) bool {
	return isTerminalIn(proposeTerminal, state)
}

func (ProposeProtocol) ExpectedPerformatives(state domain.ConversationState) []domain.Performative {
	return proposeTable.expected(state)
}
