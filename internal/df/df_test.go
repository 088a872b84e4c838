package df

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, domain.AuditEvent) error { return nil }
func (nopAudit) Close() error                                 { return nil }

func newTestService(t *testing.T) *Service {
	t.Helper()
	bus := eventbus.New(testLogger())
	return NewService(DefaultConfig(), nil, nil, bus, nopAudit{}, testLogger())
}

func weatherService(name string) domain.ServiceDescription {
	return domain.ServiceDescription{
		Name:       name,
		Ontology:   "weather",
		Protocols:  []domain.ProtocolType{domain.ProtocolRequest},
		Properties: map[string]string{"region": "eu"},
	}
}

func TestService_RegisterAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	owner := domain.NewAgentId("forecaster")

	require.NoError(t, s.Register(ctx, owner, weatherService("weather-report")))

	results, err := s.Search(ctx, domain.ServiceFilter{NameSubstring: "weather"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "weather-report", results[0].Service.Name)
	assert.Equal(t, "forecaster", results[0].Owner.Name)
}

func TestService_SearchByOntologyAndProperties(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	owner := domain.NewAgentId("forecaster")
	require.NoError(t, s.Register(ctx, owner, weatherService("weather-report")))

	results, err := s.Search(ctx, domain.ServiceFilter{
		Ontology:   "weather",
		Properties: map[string]string{"region": "eu"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = s.Search(ctx, domain.ServiceFilter{Properties: map[string]string{"region": "us"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_Deregister(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	owner := domain.NewAgentId("forecaster")
	require.NoError(t, s.Register(ctx, owner, weatherService("weather-report")))

	require.NoError(t, s.Deregister(ctx, owner, "weather-report"))

	results, err := s.Search(ctx, domain.ServiceFilter{NameSubstring: "weather"})
	require.NoError(t, err)
	assert.Empty(t, results)

	err = s.Deregister(ctx, owner, "weather-report")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_PerAgentLimitEnforced(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxServicesPerAgent = 1
	s := NewService(cfg, nil, nil, eventbus.New(testLogger()), nopAudit{}, testLogger())
	owner := domain.NewAgentId("forecaster")

	require.NoError(t, s.Register(ctx, owner, weatherService("weather-a")))
	err := s.Register(ctx, owner, weatherService("weather-b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrServiceLimitReached)
}

func TestService_LeaseExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	owner := domain.NewAgentId("forecaster")
	expired := time.Now().Add(-time.Minute)
	require.NoError(t, s.RegisterWithLease(ctx, owner, weatherService("weather-report"), &expired))

	results, err := s.Search(ctx, domain.ServiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_SubscribeAndNotify(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	var fired bool
	unsub := s.bus.Subscribe(domain.EventDFSubscriptionFired, func(ctx context.Context, e domain.Event) {
		fired = true
	})
	defer unsub()

	require.NoError(t, s.Subscribe(domain.NewAgentId("watcher"), domain.ServiceFilter{NameSubstring: "weather"}))
	require.NoError(t, s.Register(ctx, domain.NewAgentId("forecaster"), weatherService("weather-report")))

	assert.Eventually(t, func() bool { return fired }, time.Second, time.Millisecond)
}

func TestService_UnsubscribeUnknownErrors(t *testing.T) {
	s := newTestService(t)
	err := s.Unsubscribe(domain.NewAgentId("ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)
}

type fakePeerClient struct {
	regs []domain.ServiceRegistration
}

func (f fakePeerClient) Search(ctx context.Context, peerAddress string, filter domain.ServiceFilter) ([]domain.ServiceRegistration, error) {
	return f.regs, nil
}

func TestService_FederatedSearchDedupes(t *testing.T) {
	ctx := context.Background()
	owner := domain.NewAgentId("forecaster")
	local := weatherService("weather-report")

	peer := fakePeerClient{regs: []domain.ServiceRegistration{
		{Service: local, Owner: owner},
		{Service: weatherService("weather-extended"), Owner: domain.NewAgentId("other-forecaster")},
	}}

	s := NewService(DefaultConfig(), []string{"peer-1"}, peer, eventbus.New(testLogger()), nopAudit{}, testLogger())
	require.NoError(t, s.Register(ctx, owner, local))

	results, err := s.Search(ctx, domain.ServiceFilter{Federated: true})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
