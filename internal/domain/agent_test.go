package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilitiesDefaultsAndAllowlist(t *testing.T) {
	caps := DefaultCapabilities()
	require.Equal(t, NetworkLocalOnly, caps.NetworkAccess)
	require.True(t, caps.AllowsProtocol(ProtocolRequest), "empty allowlist permits everything")

	caps.AllowedProtocols = []ProtocolType{ProtocolContractNet}
	require.True(t, caps.AllowsProtocol(ProtocolContractNet))
	require.False(t, caps.AllowsProtocol(ProtocolRequest))
}

func TestAgentLifecycleTransitions(t *testing.T) {
	require.True(t, CanTransition(StateInitiated, StateActive))
	require.True(t, CanTransition(StateActive, StateSuspended))
	require.True(t, CanTransition(StateSuspended, StateActive))
	require.True(t, CanTransition(StateActive, StateTransit))
	require.True(t, CanTransition(StateTransit, StateActive))
	require.False(t, CanTransition(StateTerminated, StateActive), "terminated is a sink state")
	require.False(t, CanTransition(StateSuspended, StateTransit), "must be active to migrate")
}

func TestAgentDescriptorJSONRoundTrip(t *testing.T) {
	desc := AgentDescriptor{
		ID:          NewAgentId("counter@node-1"),
		CurrentNode: "node-1",
		Capabilities: Capabilities{
			MaxMemoryBytes:     1 << 20,
			MaxExecutionTimeMS: 1000,
			NetworkAccess:      NetworkNone,
		},
		Load: LoadMetrics{ActiveConversations: 2},
		Status: StateActive,
	}

	data, err := json.Marshal(desc)
	require.NoError(t, err)

	var decoded AgentDescriptor
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, desc.ID.Name, decoded.ID.Name)
	require.Equal(t, desc.Load.ActiveConversations, decoded.Load.ActiveConversations)
}
