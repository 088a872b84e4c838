package domain

import "strings"

// AgentId identifies an agent by name plus the transport addresses and
// resolvers it can be reached through. Names are unique within a platform
// namespace of the form "agent@platform".
type AgentId struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	Resolvers []string `json:"resolvers,omitempty"`
}

// NewAgentId builds a bare AgentId with no known addresses or resolvers.
// Such an id is unroutable except to the local platform.
func NewAgentId(name string) AgentId {
	return AgentId{Name: name}
}

// Unroutable reports whether this id carries neither an address nor a
// resolver and can therefore only be reached on the local platform.
func (a AgentId) Unroutable() bool {
	return len(a.Addresses) == 0 && len(a.Resolvers) == 0
}

// Platform returns the platform suffix of "agent@platform", or "" if the
// name carries none.
func (a AgentId) Platform() string {
	if i := strings.IndexByte(a.Name, '@'); i >= 0 {
		return a.Name[i+1:]
	}
	return ""
}

func (a AgentId) Equal(other AgentId) bool { return a.Name == other.Name }

// ReceiverKind distinguishes the shape of a ReceiverSet.
type ReceiverKind uint8

const (
	ReceiverSingle ReceiverKind = iota
	ReceiverMultiple
	ReceiverBroadcast
)

// ReceiverSet is the receiver field of an AclMessage: a single agent, an
// explicit list of agents, or a platform-wide broadcast.
type ReceiverSet struct {
	Kind  ReceiverKind
	Ids   []AgentId // unused when Kind == ReceiverBroadcast
}

func SingleReceiver(id AgentId) ReceiverSet {
	return ReceiverSet{Kind: ReceiverSingle, Ids: []AgentId{id}}
}

func MultipleReceivers(ids ...AgentId) ReceiverSet {
	return ReceiverSet{Kind: ReceiverMultiple, Ids: ids}
}

func BroadcastReceiver() ReceiverSet {
	return ReceiverSet{Kind: ReceiverBroadcast}
}

// PrimaryReceiver returns the first addressable agent in the set. It never
// panics: ok is false for an empty Multiple set or for a Broadcast, and
// every caller must handle that case explicitly (there is no single
// "first" agent to address in a broadcast).
func (r ReceiverSet) PrimaryReceiver() (AgentId, bool) {
	switch r.Kind {
	case ReceiverSingle, ReceiverMultiple:
		if len(r.Ids) == 0 {
			return AgentId{}, false
		}
		return r.Ids[0], true
	default:
		return AgentId{}, false
	}
}

// All returns every addressable agent in the set; empty for Broadcast,
// since broadcast delivery is resolved by the ACC against the platform's
// local agent directory rather than an explicit id list.
func (r ReceiverSet) All() []AgentId {
	if r.Kind == ReceiverBroadcast {
		return nil
	}
	return r.Ids
}
