package domain

import (
	"encoding/json"
	"fmt"
)

// ProtocolType names the interaction pattern a conversation follows. The
// first 11 values carry fixed wire codes; Custom protocols are identified
// by name only and are never encoded as a numeric code on the wire.
type ProtocolType struct {
	code   uint8
	custom string
}

var (
	ProtocolRequest             = ProtocolType{code: 0}
	ProtocolQuery               = ProtocolType{code: 1}
	ProtocolRequestWhen         = ProtocolType{code: 2}
	ProtocolContractNet         = ProtocolType{code: 3}
	ProtocolIteratedContractNet = ProtocolType{code: 4}
	ProtocolPropose             = ProtocolType{code: 5}
	ProtocolBrokering           = ProtocolType{code: 6}
	ProtocolRecruiting          = ProtocolType{code: 7}
	ProtocolSubscribe           = ProtocolType{code: 8}
	ProtocolEnglishAuction      = ProtocolType{code: 9}
	ProtocolDutchAuction        = ProtocolType{code: 10}
)

const protocolCustomCode = 255

var protocolNames = [...]string{
	"request", "query", "request-when", "contract-net", "iterated-contract-net",
	"propose", "brokering", "recruiting", "subscribe", "english-auction",
	"dutch-auction",
}

// CustomProtocol builds a named protocol with no fixed wire code.
func CustomProtocol(name string) ProtocolType {
	return ProtocolType{code: protocolCustomCode, custom: name}
}

// IsCustom reports whether the protocol has no fixed wire code.
func (p ProtocolType) IsCustom() bool { return p.code == protocolCustomCode }

// Code returns the wire numeric code, or (0, false) for a Custom protocol.
func (p ProtocolType) Code() (uint8, bool) {
	if p.IsCustom() {
		return 0, false
	}
	return p.code, true
}

func (p ProtocolType) String() string {
	if p.IsCustom() {
		return p.custom
	}
	if int(p.code) < len(protocolNames) {
		return protocolNames[p.code]
	}
	return fmt.Sprintf("protocol(%d)", p.code)
}

// ParseProtocolType decodes a wire numeric code into a ProtocolType.
func ParseProtocolType(code uint8) (ProtocolType, error) {
	if int(code) >= len(protocolNames) {
		return ProtocolType{}, fmt.Errorf("%w: protocol code %d", ErrInvalidInput, code)
	}
	return ProtocolType{code: code}, nil
}

// MarshalJSON encodes a ProtocolType as its wire name, since its fields are
// unexported and a fixed protocol's name round-trips uniquely through
// ParseProtocolName.
func (p ProtocolType) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a protocol name produced by MarshalJSON. A name
// that matches one of the fixed protocols wins over a custom protocol of
// the same name; no platform is expected to register a custom protocol
// that shadows a FIPA-defined one.
func (p *ProtocolType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseProtocolName(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseProtocolName looks up a fixed protocol by its wire name, falling
// back to a Custom protocol for any name it doesn't recognize.
func ParseProtocolName(name string) (ProtocolType, error) {
	for code, known := range protocolNames {
		if known == name {
			return ProtocolType{code: uint8(code)}, nil
		}
	}
	if name == "" {
		return ProtocolType{}, fmt.Errorf("%w: empty protocol name", ErrInvalidInput)
	}
	return CustomProtocol(name), nil
}
