// Package lifecycle hosts the per-agent runtime: the mailbox a module's
// receive_message host call drains, the encrypted persistent KV store
// backing its storage.* host calls, the Initiated/Active/Suspended/
// Transit/Faulted/Terminated status machine, and the Manager that ticks
// every locally-hosted agent on the platform's scheduler.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/fipacore/platform/internal/domain"
)

// DefaultMailboxCapacity is used when a Mailbox is created with capacity 0.
const DefaultMailboxCapacity = 256

// Mailbox is a bounded, thread-safe FIFO of inbound ACL messages for a
// single agent. Unlike a ring buffer that silently drops the oldest
// message on overflow, a full mailbox drops the incoming message and the
// caller must reply Failure(mailbox-full) to its sender: delivery order of
// what the agent has already been handed is never disturbed by a later,
// unrelated burst of traffic.
type Mailbox struct {
	mu       sync.Mutex
	agentID  string
	cap      int
	queue    []domain.AclMessage
	notEmpty chan struct{}
	bus      domain.EventBus
}

// NewMailbox creates a mailbox for agentID with the given capacity. A
// capacity of 0 uses DefaultMailboxCapacity.
func NewMailbox(agentID string, capacity int, bus domain.EventBus) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		agentID:  agentID,
		cap:      capacity,
		queue:    make([]domain.AclMessage, 0, capacity),
		notEmpty: make(chan struct{}, 1),
		bus:      bus,
	}
}

// Send enqueues msg. Returns domain.ErrMailboxFull if the mailbox is at
// capacity; the message is dropped, not the oldest queued message.
func (m *Mailbox) Send(ctx context.Context, msg domain.AclMessage) error {
	m.mu.Lock()
	if len(m.queue) >= m.cap {
		m.mu.Unlock()
		if m.bus != nil {
			m.bus.Publish(ctx, domain.Event{
				Type:    domain.EventMailboxOverflow,
				AgentID: m.agentID,
			})
		}
		return fmt.Errorf("%w: agent %s mailbox at capacity %d", domain.ErrMailboxFull, m.agentID, m.cap)
	}
	m.queue = append(m.queue, msg)
	full := len(m.notEmpty) == cap(m.notEmpty)
	m.mu.Unlock()

	if !full {
		select {
		case m.notEmpty <- struct{}{}:
		default:
		}
	}
	return nil
}

// Receive dequeues the oldest message, returning ok=false if the mailbox
// is empty. Receive never blocks; callers that want to wait should select
// on Mailbox.NotifyChan alongside ctx.Done().
func (m *Mailbox) Receive(_ context.Context) (domain.AclMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return domain.AclMessage{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

// Len returns the current queue depth.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// NotifyChan returns a channel that receives a value whenever a message is
// enqueued and no earlier wake-up is still pending. It is a best-effort
// wake-up signal, not a guarantee of exactly one notification per message.
func (m *Mailbox) NotifyChan() <-chan struct{} {
	return m.notEmpty
}
