package protocol

import "github.com/fipacore/platform/internal/domain"

// Request protocol states (spec.md §4.3): NotStarted -> Requested ->
// {Agreed, Refused, NotUnderstood} -> {Informed, Failed}.
const (
	RequestNotStarted   domain.ConversationState = "not-started"
	RequestRequested    domain.ConversationState = "requested"
	RequestAgreed       domain.ConversationState = "agreed"
	RequestRefused      domain.ConversationState = "refused"
	RequestNotUnderstood domain.ConversationState = "not-understood"
	RequestInformed     domain.ConversationState = "informed"
	RequestFailed       domain.ConversationState = "failed"
)

var requestTable = transitionTable{
	RequestNotStarted: {
		domain.Request:     RequestRequested,
		domain.RequestWhen:  RequestRequested,
		domain.RequestWhenever: RequestRequested,
	},
	RequestRequested: {
		domain.Agree:         RequestAgreed,
		domain.Refuse:        RequestRefused,
		domain.NotUnderstood: RequestNotUnderstood,
	},
	RequestAgreed: {
		domain.Inform:       RequestInformed,
		domain.InformDone:   RequestInformed,
		domain.InformResult: RequestInformed,
		domain.Failure:      RequestFailed,
	},
}

var requestTerminal = map[domain.ConversationState]bool{
	RequestInformed:      true,
	RequestFailed:        true,
	RequestRefused:       true,
	RequestNotUnderstood: true,
}

// RequestProtocol implements the FIPA Request interaction protocol.
type RequestProtocol struct{}

func (RequestProtocol) Type() domain.ProtocolType { return domain.ProtocolRequest }

func (RequestProtocol) InitialState() domain.ConversationState { return RequestNotStarted }

func (RequestProtocol) Validate(state domain.ConversationState, msg domain.AclMessage) error {
	return validateAgainst(requestTable, domain.ProtocolRequest, state, msg)
}

func (RequestProtocol) Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	return transitionAgainst(requestTable, domain.ProtocolRequest, state, msg)
}

func (RequestProtocol) IsTerminal(state domain.ConversationState) bool {
	return isTerminalIn(requestTerminal, state)
}

func (RequestProtocol) ExpectedPerformatives(state domain.ConversationState) []domain.Performative {
	return requestTable.expected(state)
}
