package protocol

import "github.com/fipacore/platform/internal/domain"

// Query protocol states (spec.md §4.3, covers both QueryRef and QueryIf):
// NotStarted -> Queried -> {Informed, Refused, Failed}.
const (
	QueryNotStarted domain.ConversationState = "not-started"
	QueryQueried    domain.ConversationState = "queried"
	QueryInformed   domain.ConversationState = "informed"
	QueryRefused    domain.ConversationState = "refused"
	QueryFailed     domain.ConversationState = "failed"
)

var queryTable = transitionTable{
	QueryNotStarted: {
		domain.QueryIf:  QueryQueried,
		domain.QueryRef: QueryQueried,
	},
	QueryQueried: {
		domain.Inform:    QueryInformed,
		domain.InformIf:  QueryInformed,
		domain.InformRef: QueryInformed,
		domain.Refuse:    QueryRefused,
		domain.Failure:   QueryFailed,
	},
}

var queryTerminal = map[domain.ConversationState]bool{
	QueryInformed: true,
	QueryRefused:  true,
	QueryFailed:   true,
}

// QueryProtocol implements the FIPA Query interaction protocol (QueryRef
// and QueryIf share one state machine; the opening performative selects
// which query semantics the replying agent applies).
type QueryProtocol struct{}

func (QueryProtocol) Type() domain.ProtocolType { return domain.ProtocolQuery }

func (QueryProtocol) InitialState() domain.ConversationState { return QueryNotStarted }

func (QueryProtocol) Validate(state domain.ConversationState, msg domain.AclMessage) error {
	return validateAgainst(queryTable, domain.ProtocolQuery, state, msg)
}

func (QueryProtocol) Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	return transitionAgainst(queryTable, domain.ProtocolQuery, state, msg)
}

func (QueryProtocol) IsTerminal(state domain.ConversationState) bool {
	return isTerminalIn(queryTerminal, state)
}

func (QueryProtocol) ExpectedPerformatives(state domain.ConversationState) []domain.Performative {
	return queryTable.expected(state)
}
