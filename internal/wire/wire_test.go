package wire

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
)

func sampleMessage() domain.AclMessage {
	protocol := domain.ProtocolRequest
	replyBy := time.UnixMilli(1_700_000_000_000).UTC()
	return domain.AclMessage{
		MessageID:    "msg-1",
		Performative: domain.Request,
		Sender:       domain.NewAgentId("alice"),
		Receivers: domain.MultipleReceivers(
			domain.NewAgentId("bob"),
			domain.NewAgentId("carol"),
		),
		Protocol:       &protocol,
		ConversationID: "conv-1",
		ReplyWith:      "rw-1",
		InReplyTo:      "irt-1",
		ReplyBy:        &replyBy,
		Language:       domain.ContentLanguage("fipa-sl"),
		Encoding:       domain.Encoding("json"),
		Ontology:       "fipa-agent-management",
		Content:        []byte(`{"hello":"world"}`),
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	msg := sampleMessage()

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.Performative, decoded.Performative)
	assert.Equal(t, msg.Sender, decoded.Sender)
	assert.Equal(t, msg.Receivers, decoded.Receivers)
	require.NotNil(t, decoded.Protocol)
	assert.Equal(t, *msg.Protocol, *decoded.Protocol)
	assert.Equal(t, msg.ConversationID, decoded.ConversationID)
	assert.Equal(t, msg.ReplyWith, decoded.ReplyWith)
	assert.Equal(t, msg.InReplyTo, decoded.InReplyTo)
	require.NotNil(t, decoded.ReplyBy)
	assert.True(t, msg.ReplyBy.Equal(*decoded.ReplyBy))
	assert.Equal(t, msg.Language, decoded.Language)
	assert.Equal(t, msg.Encoding, decoded.Encoding)
	assert.Equal(t, msg.Ontology, decoded.Ontology)
	assert.Equal(t, msg.Content, decoded.Content)
}

func TestEncodeDecode_MinimalMessageWithoutOptionals(t *testing.T) {
	msg := domain.AclMessage{
		MessageID:    "msg-2",
		Performative: domain.Inform,
		Sender:       domain.NewAgentId("alice"),
		Receivers:    domain.SingleReceiver(domain.NewAgentId("bob")),
		Content:      nil,
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.Performative, decoded.Performative)
	assert.Equal(t, msg.Sender, decoded.Sender)
	assert.Equal(t, msg.Receivers, decoded.Receivers)
	assert.Nil(t, decoded.Protocol)
	assert.Empty(t, decoded.ConversationID)
	assert.Nil(t, decoded.ReplyBy)
	assert.Empty(t, decoded.Content)
}

func TestEncodeDecode_BroadcastReceivers(t *testing.T) {
	msg := domain.AclMessage{
		MessageID:    "msg-3",
		Performative: domain.Cfp,
		Sender:       domain.NewAgentId("auctioneer"),
		Receivers:    domain.BroadcastReceiver(),
		Content:      []byte("bid-now"),
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, domain.ReceiverBroadcast, decoded.Receivers.Kind)
	assert.Empty(t, decoded.Receivers.Ids)
}

func TestEncode_CustomProtocolRejected(t *testing.T) {
	msg := sampleMessage()
	custom := domain.CustomProtocol("my-custom-protocol")
	msg.Protocol = &custom

	_, err := Encode(msg)
	assert.ErrorIs(t, err, domain.ErrProtocolNotSupported)
}

func TestDecode_TruncatedInputFails(t *testing.T) {
	msg := sampleMessage()
	encoded, err := Encode(msg)
	require.NoError(t, err)

	for cut := 0; cut < len(encoded); cut += 7 {
		_, err := Decode(encoded[:cut])
		assert.Error(t, err, "expected truncation at byte %d to fail", cut)
	}
}

func TestDecode_RejectsUnknownPerformative(t *testing.T) {
	msg := sampleMessage()
	encoded, err := Encode(msg)
	require.NoError(t, err)

	// message_id is length-prefixed ("msg-1" -> 4-byte len + 5 bytes), so the
	// performative byte sits right after.
	perfOffset := 4 + len(msg.MessageID)
	encoded[perfOffset] = 0xfe

	_, err = Decode(encoded)
	assert.Error(t, err)
}

// TestEncodeDecode_Fuzz follows the table-driven property-test convention
// used by internal/adapter/tool's fuzz tests: for any well-formed message
// without a custom protocol, decode(encode(m)) must reproduce m's content.
func TestEncodeDecode_Fuzz(t *testing.T) {
	f := func(messageID, conversationID, ontology string, content []byte, performativeCode uint8) bool {
		perf, err := domain.ParsePerformative(performativeCode % 24)
		if err != nil {
			return true
		}
		msg := domain.AclMessage{
			MessageID:      messageID,
			Performative:   perf,
			Sender:         domain.NewAgentId("fuzzer"),
			Receivers:      domain.SingleReceiver(domain.NewAgentId("target")),
			ConversationID: conversationID,
			Ontology:       ontology,
			Content:        content,
		}

		encoded, err := Encode(msg)
		if err != nil {
			t.Logf("encode failed: %v", err)
			return false
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Logf("decode failed: %v", err)
			return false
		}

		return decoded.MessageID == msg.MessageID &&
			decoded.Performative == msg.Performative &&
			decoded.ConversationID == msg.ConversationID &&
			decoded.Ontology == msg.Ontology &&
			string(decoded.Content) == string(msg.Content)
	}

	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 500}))
}
