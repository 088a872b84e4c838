package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAclMessageReplyTo(t *testing.T) {
	p := NewAgentId("p@platform")
	q := NewAgentId("q@platform")

	req := NewAclMessage(Request, q, SingleReceiver(p)).
		WithProtocol(ProtocolRequest).
		WithConversation("conv-1").
		WithContent([]byte("ping"))
	req.MessageID = "msg-1"

	reply := req.ReplyTo(Inform, p, []byte("pong"))

	require.Equal(t, "conv-1", reply.ConversationID)
	require.Equal(t, "msg-1", reply.InReplyTo)
	require.Equal(t, ProtocolRequest, *reply.Protocol)
	recv, ok := reply.Receivers.PrimaryReceiver()
	require.True(t, ok)
	require.Equal(t, q.Name, recv.Name)
}

func TestPerformativeRoundTrip(t *testing.T) {
	for code := uint8(0); code < 24; code++ {
		p, err := ParsePerformative(code)
		require.NoError(t, err)
		require.True(t, p.Valid())
	}
	_, err := ParsePerformative(24)
	require.Error(t, err)
}

func TestProtocolTypeRoundTrip(t *testing.T) {
	for code := uint8(0); code <= 10; code++ {
		p, err := ParseProtocolType(code)
		require.NoError(t, err)
		got, ok := p.Code()
		require.True(t, ok)
		require.Equal(t, code, got)
	}
	_, err := ParseProtocolType(11)
	require.Error(t, err)

	custom := CustomProtocol("my-ontology-protocol")
	require.True(t, custom.IsCustom())
	_, ok := custom.Code()
	require.False(t, ok)
}

func TestProtocolTypeJSONRoundTrip(t *testing.T) {
	for code := uint8(0); code <= 10; code++ {
		p, err := ParseProtocolType(code)
		require.NoError(t, err)

		data, err := json.Marshal(p)
		require.NoError(t, err)

		var decoded ProtocolType
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, p, decoded)
	}

	custom := CustomProtocol("fipa-translate")
	data, err := json.Marshal(custom)
	require.NoError(t, err)
	require.Equal(t, `"fipa-translate"`, string(data))

	var decoded ProtocolType
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, decoded.IsCustom())
	require.Equal(t, "fipa-translate", decoded.String())
}

func TestReceiverSetPrimaryReceiverNeverPanics(t *testing.T) {
	broadcast := BroadcastReceiver()
	_, ok := broadcast.PrimaryReceiver()
	require.False(t, ok)
	require.Empty(t, broadcast.All())

	empty := MultipleReceivers()
	_, ok = empty.PrimaryReceiver()
	require.False(t, ok)

	single := SingleReceiver(NewAgentId("a@p"))
	got, ok := single.PrimaryReceiver()
	require.True(t, ok)
	require.Equal(t, "a@p", got.Name)
}

func TestAclMessageReplyByIsUTC(t *testing.T) {
	deadline := time.Now().UTC()
	msg := NewAclMessage(Cfp, NewAgentId("i@p"), BroadcastReceiver())
	msg.ReplyBy = &deadline
	require.Equal(t, time.UTC, msg.ReplyBy.Location())
}
