package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/sandbox"
	"github.com/fipacore/platform/internal/usecase/scheduling"
	"github.com/fipacore/platform/internal/wire"
)

// Compile-time check that ACC satisfies the sandbox's outbound host-call
// surface: an agent module's send_message call reaches here.
var _ sandbox.Outbound = (*ACC)(nil)

// LocalDeliverer hands an ACL message straight to an agent hosted on this
// node, bypassing any MTP entirely. Implemented by internal/lifecycle.Manager.
type LocalDeliverer interface {
	Deliver(ctx context.Context, agentID string, msg domain.AclMessage) error
	LocalAgentIDs() []string
}

// Default circuit breaker settings, mirrored from the teacher's
// llm.CircuitBreakerProvider defaults.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second

	defaultMaxRetries = 2
	defaultRetryDelay = 200 * time.Millisecond
)

// ACC is the Agent Communication Channel: the single choke point every
// outbound and inbound envelope passes through. It picks an MTP by the
// address's URL scheme, retries transient failures, breaks the circuit
// to a scheme after repeated failures (grounded on
// internal/adapter/llm/circuitbreaker.go's gobreaker wrapping), and
// rejects envelopes that have already looped back through this ACC.
type ACC struct {
	name     string
	registry *Registry
	bus      domain.EventBus
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[domain.DeliveryResult]
	local    LocalDeliverer
}

// NewACC creates an ACC identified by name (stamped into every envelope
// it handles, for loop detection).
func NewACC(name string, registry *Registry, bus domain.EventBus, logger *slog.Logger) *ACC {
	return &ACC{
		name:     name,
		registry: registry,
		bus:      bus,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[domain.DeliveryResult]),
	}
}

// SetLocalDeliverer wires the node's agent registry so Route can deliver to
// a hosted agent directly instead of wire-encoding and round-tripping
// through an MTP. Until this is called, Route treats every receiver as
// remote.
func (a *ACC) SetLocalDeliverer(local LocalDeliverer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.local = local
}

func (a *ACC) breakerFor(scheme string) *gobreaker.CircuitBreaker[domain.DeliveryResult] {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cb, ok := a.breakers[scheme]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[domain.DeliveryResult](gobreaker.Settings{
		Name:        "acc:" + scheme,
		MaxRequests: 1,
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("acc: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	a.breakers[scheme] = cb
	return cb
}

// Send routes env to address, retrying transient transport failures up
// to defaultMaxRetries times before giving up. It stamps env with this
// ACC's name and rejects envelopes that already carry that stamp
// (domain.ErrEnvelopeLooped), since a looped envelope indicates a
// misconfigured route rather than a transient failure worth retrying.
func (a *ACC) Send(ctx context.Context, env domain.MessageEnvelope, address string) (domain.DeliveryResult, error) {
	if env.HasStamp(a.name) {
		return domain.DeliveryResult{}, fmt.Errorf("%w: acc %s", domain.ErrEnvelopeLooped, a.name)
	}

	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" {
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, address)
	}

	mtp, ok := a.registry.ForScheme(u.Scheme)
	if !ok {
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrNoMTPForScheme, u.Scheme)
	}

	stamped := env.Stamped(a.name, u.Scheme, time.Now())
	cb := a.breakerFor(u.Scheme)

	var lastErr error
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.DeliveryResult{}, ctx.Err()
			case <-time.After(defaultRetryDelay * time.Duration(attempt)):
			}
		}

		result, err := cb.Execute(func() (domain.DeliveryResult, error) {
			return mtp.Send(ctx, stamped, address)
		})
		if err == nil {
			a.bus.Publish(ctx, domain.Event{Type: domain.EventEnvelopeSent, AgentID: env.From})
			return result, nil
		}

		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			break // circuit open: fail fast, no point retrying
		}
		if !domain.IsRetryableError(err) {
			break
		}
		a.logger.Warn("acc: send attempt failed, retrying", "scheme", u.Scheme, "attempt", attempt, "error", err)
	}

	a.bus.Publish(ctx, domain.Event{Type: domain.EventEnvelopeFailed, AgentID: env.From})
	return domain.DeliveryResult{}, fmt.Errorf("acc: send via %s: %w", u.Scheme, lastErr)
}

// Receive polls every registered MTP once for a queued inbound envelope,
// rejecting (and logging) any that already carry this ACC's stamp.
func (a *ACC) Receive(ctx context.Context) (domain.MessageEnvelope, bool, error) {
	for _, mtp := range a.registry.All() {
		env, ok, err := mtp.Receive(ctx)
		if err != nil {
			a.logger.Warn("acc: receive error", "mtp", mtp.Name(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		if env.HasStamp(a.name) {
			a.logger.Warn("acc: rejected looped envelope", "id", env.ID)
			continue
		}
		a.bus.Publish(ctx, domain.Event{Type: domain.EventEnvelopeReceived, AgentID: env.From})
		return env, true, nil
	}
	return domain.MessageEnvelope{}, false, nil
}

// RegisterWithScheduler wires PumpInbound to the platform's
// scheduling.ActionACCReceivePump action.
func (a *ACC) RegisterWithScheduler(s *scheduling.Scheduler) {
	s.RegisterAction(scheduling.ActionACCReceivePump, a.PumpInbound)
}

// PumpInbound drains every registered MTP, wire-decoding each envelope's
// Payload back into an AclMessage and delivering it to whichever locally
// hosted agent(s) the envelope names in To. Meant to run on a recurring
// schedule as the inbound half of spec.md §5/§6 (the outbound half is
// Route); a malformed payload is logged and dropped rather than failing
// the whole pump.
func (a *ACC) PumpInbound(ctx context.Context) error {
	for {
		env, ok, err := a.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		msg, err := wire.Decode(env.Payload)
		if err != nil {
			a.logger.Warn("acc: dropped inbound envelope with malformed payload", "id", env.ID, "error", err)
			continue
		}

		a.mu.Lock()
		local := a.local
		a.mu.Unlock()
		if local == nil {
			continue
		}
		for _, to := range env.To {
			if err := local.Deliver(ctx, to, msg); err != nil {
				a.logger.Warn("acc: inbound delivery failed", "to", to, "error", err)
			}
		}
	}
}

// Route is the ACC's single send-side entry point for an ACL message still
// in domain form: it resolves msg.Receivers to a locally hosted agent's
// mailbox, or wire-encodes the message into a MessageEnvelope and hands it
// to Send for whichever MTP the receiver's address scheme names. An agent
// module's send_message host call and internal/protocol conversation
// replies both funnel through here (spec.md §5, §6).
//
// A Broadcast receiver set is resolved against every agent hosted on this
// node and never leaves it: spec.md §7 treats a full mailbox as a dropped
// delivery rather than a reported failure, so a broadcast leg's errors are
// logged and swallowed instead of bounced back to the sender.
func (a *ACC) Route(ctx context.Context, msg domain.AclMessage) error {
	if msg.Receivers.Kind == domain.ReceiverBroadcast {
		a.mu.Lock()
		local := a.local
		a.mu.Unlock()
		if local == nil {
			return nil
		}
		for _, id := range local.LocalAgentIDs() {
			if id == msg.Sender.Name {
				continue
			}
			if err := local.Deliver(ctx, id, msg); err != nil {
				a.logger.Warn("acc: broadcast leg dropped", "to", id, "error", err)
			}
		}
		return nil
	}

	receivers := msg.Receivers.All()
	if len(receivers) == 0 {
		return fmt.Errorf("%w: message %s has no receivers", domain.ErrValidationFailed, msg.MessageID)
	}

	var firstErr error
	for _, receiver := range receivers {
		if err := a.deliverOne(ctx, msg, receiver); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if isBounceable(msg.Performative) {
				a.bounceFailure(ctx, msg, err)
			}
		}
	}
	return firstErr
}

// deliverOne dispatches msg to a single receiver: straight to its mailbox
// if it is hosted on this node, otherwise wire-encoded and sent through
// whichever MTP its address scheme names.
func (a *ACC) deliverOne(ctx context.Context, msg domain.AclMessage, receiver domain.AgentId) error {
	a.mu.Lock()
	local := a.local
	a.mu.Unlock()

	if local != nil {
		for _, id := range local.LocalAgentIDs() {
			if id == receiver.Name {
				return local.Deliver(ctx, id, msg)
			}
		}
	}

	if receiver.Unroutable() {
		return fmt.Errorf("%w: agent %s has no address and is not hosted on this node", domain.ErrInvalidAddress, receiver.Name)
	}

	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	env := domain.MessageEnvelope{
		ID:      msg.MessageID,
		From:    msg.Sender.Name,
		To:      []string{receiver.Name},
		Date:    time.Now(),
		Payload: payload,
	}
	_, err = a.Send(ctx, env, receiver.Addresses[0])
	return err
}

// isBounceable reports whether a delivery failure for performative should
// generate a Failure reply to the sender. Failure and NotUnderstood
// messages are never bounced, to avoid a failure-of-a-failure storm when
// the sender itself cannot be reached.
func isBounceable(performative domain.Performative) bool {
	return performative != domain.Failure && performative != domain.NotUnderstood
}

// bounceFailure reports a delivery failure back to original's sender as a
// platform-generated Failure message in the same conversation, best-effort:
// a failed bounce is logged, not retried or re-bounced.
func (a *ACC) bounceFailure(ctx context.Context, original domain.AclMessage, cause error) {
	reason := domain.FailureTransport
	switch {
	case errors.Is(cause, domain.ErrMailboxFull):
		reason = domain.FailureMailboxFull
	case errors.Is(cause, domain.ErrAgentNotFound), errors.Is(cause, domain.ErrInvalidAddress):
		reason = domain.FailureAgentNotFound
	}

	failure := original.ReplyTo(domain.Failure, domain.NewAgentId(a.name), []byte(fmt.Sprintf("%s: %s", reason, cause)))
	target, ok := failure.Receivers.PrimaryReceiver()
	if !ok {
		return
	}
	if err := a.deliverOne(ctx, failure, target); err != nil {
		a.logger.Warn("acc: failed to deliver failure reply", "to", target.Name, "error", err)
	}
}
