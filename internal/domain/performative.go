package domain

import "fmt"

// Performative is the speech-act kind of an ACL message. Numeric codes are
// fixed by the wire protocol and must never be renumbered.
type Performative uint8

const (
	AcceptProposal Performative = iota
	Agree
	Cancel
	Cfp
	Confirm
	Disconfirm
	Failure
	Inform
	InformDone
	InformIf
	InformRef
	InformResult
	NotUnderstood
	Propagate
	Propose
	Proxy
	QueryIf
	QueryRef
	Refuse
	RejectProposal
	Request
	RequestWhen
	RequestWhenever
	Subscribe
)

var performativeNames = [...]string{
	"accept-proposal", "agree", "cancel", "cfp", "confirm", "disconfirm",
	"failure", "inform", "inform-done", "inform-if", "inform-ref",
	"inform-result", "not-understood", "propagate", "propose", "proxy",
	"query-if", "query-ref", "refuse", "reject-proposal", "request",
	"request-when", "request-whenever", "subscribe",
}

// String returns the FIPA wire name of the performative.
func (p Performative) String() string {
	if int(p) < len(performativeNames) {
		return performativeNames[p]
	}
	return fmt.Sprintf("performative(%d)", uint8(p))
}

// Valid reports whether p is one of the 24 defined performatives.
func (p Performative) Valid() bool {
	return int(p) < len(performativeNames)
}

// ParsePerformative decodes a wire numeric code into a Performative.
func ParsePerformative(code uint8) (Performative, error) {
	p := Performative(code)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: performative code %d", ErrInvalidInput, code)
	}
	return p, nil
}
