// Package wire implements the platform's reference ACL message encoding: a
// language-neutral, length-prefixed binary record so two independent
// implementations of this protocol can exchange messages without sharing a
// serialization library. Every multi-byte integer is little-endian,
// grounded on internal/adapter/memory/vector/search.go's
// binary.LittleEndian use for its own on-disk vector encoding.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fipacore/platform/internal/domain"
)

// Field order matches the platform's wire specification exactly:
// message_id, performative, sender, receivers, protocol, conversation_id,
// reply_with, in_reply_to, reply_by, language, encoding, ontology, content.

// Encode serializes msg into the reference binary record. It never fails
// for a well-formed AclMessage except when msg.Protocol names a Custom
// protocol, which has no fixed wire code to carry.
func Encode(msg domain.AclMessage) ([]byte, error) {
	var buf bytes.Buffer

	writeString(&buf, msg.MessageID)
	buf.WriteByte(byte(msg.Performative))

	if err := writeAgentID(&buf, msg.Sender); err != nil {
		return nil, err
	}
	if err := writeReceivers(&buf, msg.Receivers); err != nil {
		return nil, err
	}

	if err := writeOptionalProtocol(&buf, msg.Protocol); err != nil {
		return nil, err
	}
	writeOptionalString(&buf, msg.ConversationID)
	writeOptionalString(&buf, msg.ReplyWith)
	writeOptionalString(&buf, msg.InReplyTo)
	writeOptionalTime(&buf, msg.ReplyBy)
	writeOptionalString(&buf, string(msg.Language))
	writeOptionalString(&buf, string(msg.Encoding))
	writeOptionalString(&buf, msg.Ontology)

	writeBytes(&buf, msg.Content)

	return buf.Bytes(), nil
}

// Decode parses a reference binary record back into an AclMessage. It
// returns domain.ErrSerialization wrapping the underlying cause on any
// truncated or malformed input.
func Decode(data []byte) (domain.AclMessage, error) {
	r := bytes.NewReader(data)
	var msg domain.AclMessage

	messageID, err := readString(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("message_id", err)
	}
	msg.MessageID = messageID

	perfByte, err := r.ReadByte()
	if err != nil {
		return domain.AclMessage{}, wrapErr("performative", err)
	}
	perf, err := domain.ParsePerformative(perfByte)
	if err != nil {
		return domain.AclMessage{}, wrapErr("performative", err)
	}
	msg.Performative = perf

	sender, err := readAgentID(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("sender", err)
	}
	msg.Sender = sender

	receivers, err := readReceivers(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("receivers", err)
	}
	msg.Receivers = receivers

	protocol, err := readOptionalProtocol(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("protocol", err)
	}
	msg.Protocol = protocol

	if msg.ConversationID, err = readOptionalString(r); err != nil {
		return domain.AclMessage{}, wrapErr("conversation_id", err)
	}
	if msg.ReplyWith, err = readOptionalString(r); err != nil {
		return domain.AclMessage{}, wrapErr("reply_with", err)
	}
	if msg.InReplyTo, err = readOptionalString(r); err != nil {
		return domain.AclMessage{}, wrapErr("in_reply_to", err)
	}
	if msg.ReplyBy, err = readOptionalTime(r); err != nil {
		return domain.AclMessage{}, wrapErr("reply_by", err)
	}

	lang, err := readOptionalString(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("language", err)
	}
	msg.Language = domain.ContentLanguage(lang)

	enc, err := readOptionalString(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("encoding", err)
	}
	msg.Encoding = domain.Encoding(enc)

	if msg.Ontology, err = readOptionalString(r); err != nil {
		return domain.AclMessage{}, wrapErr("ontology", err)
	}

	content, err := readBytes(r)
	if err != nil {
		return domain.AclMessage{}, wrapErr("content", err)
	}
	msg.Content = content

	return msg, nil
}

func wrapErr(field string, err error) error {
	return fmt.Errorf("%w: field %s: %v", domain.ErrSerialization, field, err)
}

// --- primitive writers ---

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(b)))
	buf.Write(lenField[:])
	buf.Write(b)
}

func writeOptionalString(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeString(buf, s)
}

func writeOptionalTime(buf *bytes.Buffer, t *time.Time) {
	if t == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	var millisField [8]byte
	binary.LittleEndian.PutUint64(millisField[:], uint64(t.UnixMilli()))
	buf.Write(millisField[:])
}

func writeOptionalProtocol(buf *bytes.Buffer, p *domain.ProtocolType) error {
	if p == nil {
		buf.WriteByte(0)
		return nil
	}
	code, ok := p.Code()
	if !ok {
		return fmt.Errorf("%w: custom protocol %q has no fixed wire code", domain.ErrProtocolNotSupported, p.String())
	}
	buf.WriteByte(1)
	buf.WriteByte(code)
	return nil
}

func writeAgentID(buf *bytes.Buffer, id domain.AgentId) error {
	writeString(buf, id.Name)
	writeStringList(buf, id.Addresses)
	writeStringList(buf, id.Resolvers)
	return nil
}

func writeStringList(buf *bytes.Buffer, items []string) {
	var countField [4]byte
	binary.LittleEndian.PutUint32(countField[:], uint32(len(items)))
	buf.Write(countField[:])
	for _, s := range items {
		writeString(buf, s)
	}
}

// writeReceivers encodes a ReceiverSet as a kind byte followed by
// list<AgentId> (empty for a broadcast), extending the spec's plain
// list<AgentId> just enough to round-trip the platform's three receiver
// shapes.
func writeReceivers(buf *bytes.Buffer, r domain.ReceiverSet) error {
	buf.WriteByte(byte(r.Kind))
	ids := r.Ids
	var countField [4]byte
	binary.LittleEndian.PutUint32(countField[:], uint32(len(ids)))
	buf.Write(countField[:])
	for _, id := range ids {
		if err := writeAgentID(buf, id); err != nil {
			return err
		}
	}
	return nil
}

// --- primitive readers ---

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var lenField [4]byte
	if _, err := io.ReadFull(r, lenField[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenField[:])
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readOptionalString(r *bytes.Reader) (string, error) {
	present, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if present == 0 {
		return "", nil
	}
	return readString(r)
}

func readOptionalTime(r *bytes.Reader) (*time.Time, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var millisField [8]byte
	if _, err := io.ReadFull(r, millisField[:]); err != nil {
		return nil, err
	}
	millis := int64(binary.LittleEndian.Uint64(millisField[:]))
	t := time.UnixMilli(millis).UTC()
	return &t, nil
}

func readOptionalProtocol(r *bytes.Reader) (*domain.ProtocolType, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	code, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	p, err := domain.ParseProtocolType(code)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func readAgentID(r *bytes.Reader) (domain.AgentId, error) {
	name, err := readString(r)
	if err != nil {
		return domain.AgentId{}, err
	}
	addresses, err := readStringList(r)
	if err != nil {
		return domain.AgentId{}, err
	}
	resolvers, err := readStringList(r)
	if err != nil {
		return domain.AgentId{}, err
	}
	return domain.AgentId{Name: name, Addresses: addresses, Resolvers: resolvers}, nil
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var countField [4]byte
	if _, err := io.ReadFull(r, countField[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(countField[:])
	if n == 0 {
		return nil, nil
	}
	items := make([]string, n)
	for i := range items {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		items[i] = s
	}
	return items, nil
}

func readReceivers(r *bytes.Reader) (domain.ReceiverSet, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return domain.ReceiverSet{}, err
	}
	var countField [4]byte
	if _, err := io.ReadFull(r, countField[:]); err != nil {
		return domain.ReceiverSet{}, err
	}
	n := binary.LittleEndian.Uint32(countField[:])
	ids := make([]domain.AgentId, n)
	for i := range ids {
		id, err := readAgentID(r)
		if err != nil {
			return domain.ReceiverSet{}, err
		}
		ids[i] = id
	}
	return domain.ReceiverSet{Kind: domain.ReceiverKind(kindByte), Ids: ids}, nil
}
