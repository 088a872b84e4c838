package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlatformNodeJSONOmitsAuthToken(t *testing.T) {
	n := PlatformNode{
		ID:         "node-2",
		Name:       "fipa-node-2",
		Address:    "https://node-2.internal:9090/acc",
		MTPSchemes: []string{"https"},
		Status:     NodeStatusOnline,
		AuthToken:  "secret-token-value",
		Metadata:   map[string]string{"region": "us-east"},
	}

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	_, exists := raw["AuthToken"]
	require.False(t, exists, "AuthToken must not appear in JSON")

	var decoded PlatformNode
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "node-2", decoded.ID)
	require.Empty(t, decoded.AuthToken)
}

func TestNodeStatusConstants(t *testing.T) {
	require.EqualValues(t, "online", NodeStatusOnline)
	require.EqualValues(t, "offline", NodeStatusOffline)
	require.EqualValues(t, "unreachable", NodeStatusUnreachable)
}
