package protocol

import (
	"fmt"
	"sort"

	"github.com/fipacore/platform/internal/domain"
)

// Contract-Net protocol states, one per participant leg (spec.md §4.3): the
// initiator shares a single conversation_id across the N participants it
// solicits; each participant's reply sequence, tracked as a domain.Conversation
// per-participant, runs NotStarted -> CFPSent -> {Proposed, Refused} ->
// {Accepted, Rejected} -> {Completed, Failed}. ContractNetCoordinator (below)
// fans a CFP round out across legs and applies the ranking rule across them.
const (
	ContractNetNotStarted domain.ConversationState = "not-started"
	ContractNetCFPSent    domain.ConversationState = "cfp-sent"
	ContractNetProposed   domain.ConversationState = "proposed"
	ContractNetRefused    domain.ConversationState = "refused"
	ContractNetAccepted   domain.ConversationState = "accepted"
	ContractNetRejected   domain.ConversationState = "rejected"
	ContractNetCompleted  domain.ConversationState = "completed"
	ContractNetFailed     domain.ConversationState = "failed"
)

var contractNetTable = transitionTable{
	ContractNetNotStarted: {
		domain.Cfp: ContractNetCFPSent,
	},
	ContractNetCFPSent: {
		domain.Propose: ContractNetProposed,
		domain.Refuse:  ContractNetRefused,
	},
	ContractNetProposed: {
		domain.AcceptProposal: ContractNetAccepted,
		domain.RejectProposal: ContractNetRejected,
	},
	ContractNetAccepted: {
		domain.InformResult: ContractNetCompleted,
		domain.Failure:      ContractNetFailed,
	},
}

var contractNetTerminal = map[domain.ConversationState]bool{
	ContractNetRefused:  true,
	ContractNetRejected: true,
	ContractNetCompleted: true,
	ContractNetFailed:   true,
}

// ContractNetProtocol implements one participant leg of the FIPA
// Contract-Net interaction protocol.
type ContractNetProtocol struct{}

func (ContractNetProtocol) Type() domain.ProtocolType { return domain.ProtocolContractNet }

func (ContractNetProtocol) InitialState() domain.ConversationState { return ContractNetNotStarted }

func (ContractNetProtocol) Validate(state domain.ConversationState, msg domain.AclMessage) error {
	return validateAgainst(contractNetTable, domain.ProtocolContractNet, state, msg)
}

func (ContractNetProtocol) Transition(state domain.ConversationState, msg domain.AclMessage) (domain.ConversationState, error) {
	return transitionAgainst(contractNetTable, domain.ProtocolContractNet, state, msg)
}

func (ContractNetProtocol) IsTerminal(state domain.ConversationState) bool {
	return isTerminalIn(contractNetTerminal, state)
}

func (ContractNetProtocol) ExpectedPerformatives(state domain.ConversationState) []domain.Performative {
	return contractNetTable.expected(state)
}

// Bid is one participant's reply to a Contract-Net call for proposals: the
// leg's AgentId, the Propose message carrying the bid (nil if the
// participant refused), and the bid's price.
type Bid struct {
	Participant domain.AgentId
	Proposal    *domain.AclMessage
	Price       float64
}

// Ranker selects winners from a set of bids. The default ranker picks the
// single lowest-price bid, breaking ties by the lexicographically lowest
// message_id (spec.md §4.3).
type Ranker func(bids []Bid) []domain.AgentId

// DefaultRanker implements the spec's default selection rule: best single
// price, ties broken by the lowest message_id.
func DefaultRanker(bids []Bid) []domain.AgentId {
	candidates := make([]Bid, 0, len(bids))
	for _, b := range bids {
		if b.Proposal != nil {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Price != candidates[j].Price {
			return candidates[i].Price < candidates[j].Price
		}
		return candidates[i].Proposal.MessageID < candidates[j].Proposal.MessageID
	})
	return []domain.AgentId{candidates[0].Participant}
}

// ContractNetCoordinator runs one CFP round across N participant legs, each
// tracked as its own domain.Conversation sharing the round's conversation
// id. It does not perform transport; callers drive it with the messages
// they have already sent and received.
type ContractNetCoordinator struct {
	ranker Ranker
	bids   map[string]Bid // participant name -> bid
	order  []string
}

// NewContractNetCoordinator creates a coordinator. A nil ranker uses
// DefaultRanker.
func NewContractNetCoordinator(ranker Ranker) *ContractNetCoordinator {
	if ranker == nil {
		ranker = DefaultRanker
	}
	return &ContractNetCoordinator{ranker: ranker, bids: make(map[string]Bid)}
}

// RecordReply stores a participant's Propose or Refuse reply for the round.
func (c *ContractNetCoordinator) RecordReply(participant domain.AgentId, msg domain.AclMessage) error {
	switch msg.Performative {
	case domain.Propose:
		price, err := proposalPrice(msg)
		if err != nil {
			return err
		}
		if _, seen := c.bids[participant.Name]; !seen {
			c.order = append(c.order, participant.Name)
		}
		c.bids[participant.Name] = Bid{Participant: participant, Proposal: &msg, Price: price}
	case domain.Refuse:
		if _, seen := c.bids[participant.Name]; !seen {
			c.order = append(c.order, participant.Name)
		}
		c.bids[participant.Name] = Bid{Participant: participant}
	default:
		return fmt.Errorf("%w: contract-net round does not accept %s as a CFP reply", domain.ErrValidationFailed, msg.Performative)
	}
	return nil
}

// Decide closes the round and returns the winners (per the coordinator's
// Ranker) and the losers (everyone else who replied). Participants who
// never replied before reply_by are neither: callers time them out
// separately via the conversation manager.
func (c *ContractNetCoordinator) Decide() (winners, losers []domain.AgentId) {
	bids := make([]Bid, 0, len(c.order))
	for _, name := range c.order {
		bids = append(bids, c.bids[name])
	}
	winners = c.ranker(bids)

	won := make(map[string]bool, len(winners))
	for _, w := range winners {
		won[w.Name] = true
	}
	for _, name := range c.order {
		if !won[name] {
			losers = append(losers, c.bids[name].Participant)
		}
	}
	return winners, losers
}

// proposalPrice extracts the bid price a Propose message carries. Agent
// modules are expected to encode it as a bare decimal string in Content;
// this keeps the coordinator ontology-agnostic.
func proposalPrice(msg domain.AclMessage) (float64, error) {
	var price float64
	if _, err := fmt.Sscanf(string(msg.Content), "%g", &price); err != nil {
		return 0, fmt.Errorf("%w: contract-net proposal content is not a numeric price: %v", domain.ErrValidationFailed, err)
	}
	return price, nil
}
