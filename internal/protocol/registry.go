package protocol

import (
	"fmt"

	"github.com/fipacore/platform/internal/domain"
)

// Registry maps a domain.ProtocolType to the Protocol implementing it. A
// node builds one Registry at startup and shares it across every agent's
// conversation manager.
type Registry struct {
	protocols map[domain.ProtocolType]Protocol
}

// NewRegistry builds a Registry pre-loaded with the five protocols this
// platform ships: Request, Query, Propose, Contract-Net, and Subscribe.
func NewRegistry() *Registry {
	r := &Registry{protocols: make(map[domain.ProtocolType]Protocol)}
	r.Register(RequestProtocol{})
	r.Register(QueryProtocol{})
	r.Register(ProposeProtocol{})
	r.Register(ContractNetProtocol{})
	r.Register(SubscribeProtocol{})
	return r
}

// Register adds or replaces the Protocol handling p.Type().
func (r *Registry) Register(p Protocol) {
	r.protocols[p.Type()] = p
}

// Get looks up the Protocol for t, returning ErrProtocolNotSupported if
// none is registered.
func (r *Registry) Get(t domain.ProtocolType) (Protocol, error) {
	p, ok := r.protocols[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocolNotSupported, t)
	}
	return p, nil
}

// Opener reports whether msg's performative is a legitimate opener for any
// registered protocol, and if so, which one. Used to bootstrap a
// Participant-role conversation for an unknown conversation_id (spec.md
// §4.3).
func (r *Registry) Opener(msg domain.AclMessage) (Protocol, bool) {
	for _, p := range r.protocols {
		for _, expected := range p.ExpectedPerformatives(p.InitialState()) {
			if expected == msg.Performative {
				return p, true
			}
		}
	}
	return nil, false
}
