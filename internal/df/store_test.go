package df

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
)

func newTestDFStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "registrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveLoadDelete(t *testing.T) {
	store := newTestDFStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	reg := domain.ServiceRegistration{
		Service: domain.ServiceDescription{
			Name:       "weather-forecast",
			Ontology:   "weather-ontology",
			Protocols:  []domain.ProtocolType{domain.ProtocolRequest, domain.ProtocolSubscribe},
			Properties: map[string]string{"region": "eu-west"},
		},
		Owner:        domain.NewAgentId("weather-bot"),
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
		LeaseExpiry:  &expiry,
	}

	require.NoError(t, store.Save(ctx, reg))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "weather-forecast", all[0].Service.Name)
	assert.Equal(t, "weather-bot", all[0].Owner.Name)
	assert.Equal(t, "eu-west", all[0].Service.Properties["region"])
	require.Len(t, all[0].Service.Protocols, 2)
	assert.Equal(t, domain.ProtocolRequest, all[0].Service.Protocols[0])
	assert.Equal(t, domain.ProtocolSubscribe, all[0].Service.Protocols[1])
	require.NotNil(t, all[0].LeaseExpiry)
	assert.True(t, expiry.Equal(*all[0].LeaseExpiry))

	require.NoError(t, store.Delete(ctx, "weather-bot", "weather-forecast"))

	all, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_SaveWithoutLeaseAndCustomProtocol(t *testing.T) {
	store := newTestDFStore(t)
	ctx := context.Background()

	reg := domain.ServiceRegistration{
		Service: domain.ServiceDescription{
			Name:      "translate",
			Protocols: []domain.ProtocolType{domain.CustomProtocol("fipa-translate")},
		},
		Owner:        domain.NewAgentId("translator"),
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, store.Save(ctx, reg))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].LeaseExpiry)
	require.Len(t, all[0].Service.Protocols, 1)
	assert.True(t, all[0].Service.Protocols[0].IsCustom())
	assert.Equal(t, "fipa-translate", all[0].Service.Protocols[0].String())
}

func TestStore_EmptyLoadAll(t *testing.T) {
	store := newTestDFStore(t)
	all, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
