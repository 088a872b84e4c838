package transport

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

func TestHTTPMTP_SendAndReceiveRoundTrip(t *testing.T) {
	ctx := context.Background()

	server := NewHTTPMTP("127.0.0.1:0")
	require.NoError(t, server.Activate(ctx, nil))
	t.Cleanup(func() { server.Deactivate(ctx) })

	client := NewHTTPMTP("127.0.0.1:0")
	require.NoError(t, client.Activate(ctx, nil))
	t.Cleanup(func() { client.Deactivate(ctx) })

	env := domain.MessageEnvelope{ID: "env-1", From: "agent-a@node-1", To: []string{"agent-b@node-2"}, Date: time.Now(), Payload: []byte("hello")}

	result, err := client.Send(ctx, env, "http://"+server.BoundAddr())
	require.NoError(t, err)
	assert.True(t, result.Delivered)

	require.Eventually(t, func() bool {
		_, ok, _ := peekReceive(server)
		return ok
	}, time.Second, 10*time.Millisecond)

	received, ok, err := server.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "env-1", received.ID)
	assert.Equal(t, []byte("hello"), received.Payload)
}

// peekReceive checks for a queued envelope without consuming it.
func peekReceive(h *HTTPMTP) (domain.MessageEnvelope, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inbound) == 0 {
		return domain.MessageEnvelope{}, false, nil
	}
	return h.inbound[0], true, nil
}

func TestRegistry_ActivateAndForScheme(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	mtp := NewHTTPMTP("127.0.0.1:0")
	require.NoError(t, reg.Activate(ctx, mtp, nil))
	t.Cleanup(func() { reg.Deactivate(ctx, "http") })

	found, ok := reg.ForScheme("http")
	require.True(t, ok)
	assert.Equal(t, mtp, found)

	_, ok = reg.ForScheme("ws")
	assert.False(t, ok)
}

func TestACC_SendUnknownSchemeErrors(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	bus := eventbus.New(testLogger())
	acc := NewACC("node-1-acc", reg, bus, testLogger())

	env := domain.MessageEnvelope{ID: "env-1", From: "agent-a", Payload: []byte("x")}
	_, err := acc.Send(ctx, env, "grpc://peer")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoMTPForScheme)
}

func TestACC_RejectsLoopedEnvelope(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	bus := eventbus.New(testLogger())
	acc := NewACC("node-1-acc", reg, bus, testLogger())

	env := domain.MessageEnvelope{ID: "env-1", From: "agent-a", Payload: []byte("x")}
	stamped := env.Stamped("node-1-acc", "http", time.Now())

	_, err := acc.Send(ctx, stamped, "http://peer")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEnvelopeLooped)
}

func TestACC_SendDeliversThroughRegisteredMTP(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	bus := eventbus.New(testLogger())
	acc := NewACC("node-1-acc", reg, bus, testLogger())

	server := NewHTTPMTP("127.0.0.1:0")
	require.NoError(t, server.Activate(ctx, nil))
	t.Cleanup(func() { server.Deactivate(ctx) })

	client := NewHTTPMTP("127.0.0.1:0")
	require.NoError(t, reg.Activate(ctx, client, nil))
	t.Cleanup(func() { reg.Deactivate(ctx, "http") })

	env := domain.MessageEnvelope{ID: "env-1", From: "agent-a", Payload: []byte("x")}
	result, err := acc.Send(ctx, env, "http://"+server.BoundAddr())
	require.NoError(t, err)
	assert.True(t, result.Delivered)
}
