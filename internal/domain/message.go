package domain

import "time"

// ContentLanguage names the representation of an AclMessage's content.
type ContentLanguage string

const (
	LanguageFipaSL  ContentLanguage = "fipa-sl"
	LanguageFipaSL0 ContentLanguage = "fipa-sl0"
	LanguageFipaSL1 ContentLanguage = "fipa-sl1"
	LanguageFipaSL2 ContentLanguage = "fipa-sl2"
	LanguageXML     ContentLanguage = "xml"
	LanguageRDF     ContentLanguage = "rdf"
)

// Encoding names how content bytes are transported.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
)

// AclMessage is a single FIPA Agent Communication Language message.
//
// Invariants: if InReplyTo is set, it must equal the MessageID of a prior
// message in the same Conversation; ReplyBy, when present, is a UTC instant.
type AclMessage struct {
	MessageID      string       `json:"message_id"`
	Performative   Performative `json:"performative"`
	Sender         AgentId      `json:"sender"`
	Receivers      ReceiverSet  `json:"receivers"`
	Protocol       *ProtocolType `json:"protocol,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	ReplyWith      string       `json:"reply_with,omitempty"`
	InReplyTo      string       `json:"in_reply_to,omitempty"`
	ReplyBy        *time.Time   `json:"reply_by,omitempty"`
	Language       ContentLanguage `json:"language,omitempty"`
	Encoding       Encoding     `json:"encoding,omitempty"`
	Ontology       string       `json:"ontology,omitempty"`
	Content        []byte       `json:"content,omitempty"`
}

// NewAclMessage constructs a message with the FIPA-SL/UTF-8 defaults the
// original agent programs always set.
func NewAclMessage(performative Performative, sender AgentId, receivers ReceiverSet) AclMessage {
	return AclMessage{
		Performative: performative,
		Sender:       sender,
		Receivers:    receivers,
		Language:     LanguageFipaSL,
		Encoding:     EncodingUTF8,
	}
}

func (m AclMessage) WithContent(content []byte) AclMessage {
	m.Content = content
	return m
}

func (m AclMessage) WithProtocol(p ProtocolType) AclMessage {
	m.Protocol = &p
	return m
}

func (m AclMessage) WithConversation(conversationID string) AclMessage {
	m.ConversationID = conversationID
	return m
}

// ReplyTo builds a reply message addressed back to m's sender, carrying the
// same conversation id and InReplyTo set to m's MessageID.
func (m AclMessage) ReplyTo(performative Performative, from AgentId, content []byte) AclMessage {
	reply := NewAclMessage(performative, from, SingleReceiver(m.Sender))
	reply.ConversationID = m.ConversationID
	reply.Protocol = m.Protocol
	reply.InReplyTo = m.MessageID
	reply.Content = content
	return reply
}

// FailureReason is the machine-readable detail carried in a Failure
// message's content when the platform itself generates the failure
// (transport exhaustion, mailbox overflow, admission refusal, ...).
type FailureReason string

const (
	FailureMailboxFull   FailureReason = "mailbox-full"
	FailureTimeout       FailureReason = "timeout"
	FailureAgentNotFound FailureReason = "agent-not-found"
	FailureNameInUse     FailureReason = "name-in-use"
	FailureTransport     FailureReason = "transport-failure"
)
