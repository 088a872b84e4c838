// Package ams implements the Agent Management System: the platform's
// white-pages agent. It admits and destroys agents, keeps a searchable
// directory of domain.AgentDescriptor records, and forwards
// suspend/resume/migrate requests to internal/lifecycle.
package ams

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/lifecycle"
)

// Service is the AMS: a directory of locally hosted agents layered over
// internal/lifecycle.Manager, grounded on the teacher's node.Manager
// (allowlist + rw-mutex map + audit/event publish on every mutation) and
// multiagent.Registry (sorted listing).
type Service struct {
	mu      sync.RWMutex
	nodeID  string
	manager *lifecycle.Manager
	log     domain.ReplicatedLog
	bus     domain.EventBus
	audit   domain.AuditLogger
	logger  *slog.Logger
	owners  map[string]string // agent name -> owner, for search by owner
	store   *Store            // optional; nil means descriptors don't survive a restart
}

// NewService creates an AMS bound to one node's lifecycle.Manager. log may
// be domain.NewNoopReplicatedLog() for a standalone node.
func NewService(nodeID string, manager *lifecycle.Manager, log domain.ReplicatedLog, bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		nodeID:  nodeID,
		manager: manager,
		log:     log,
		bus:     bus,
		audit:   audit,
		logger:  logger,
		owners:  make(map[string]string),
	}
}

// CreateAgent admits a new agent (spec.md §4.4): the name must be unique
// platform-wide. When consensus is enabled, admission is only applied
// locally after the name claim commits through the ReplicatedLog; a
// standalone node's noop log commits immediately.
func (s *Service) CreateAgent(ctx context.Context, name string, moduleBytes []byte, caps domain.Capabilities, owner string) (domain.AgentId, error) {
	if !s.log.IsLeader() {
		return domain.AgentId{}, fmt.Errorf("%w: this node is not the replication leader", domain.ErrPermissionDenied)
	}

	sum := sha256.Sum256(moduleBytes)
	hash := hex.EncodeToString(sum[:])

	if err := s.log.Append(ctx, domain.LogEntry{
		Kind:    domain.LogEntryCreateAgent,
		AgentID: name,
		Payload: sum[:],
	}); err != nil {
		return domain.AgentId{}, fmt.Errorf("ams: name claim for %s did not commit: %w", name, err)
	}

	agent := domain.Agent{
		ID:           domain.NewAgentId(name),
		ModuleBytes:  moduleBytes,
		ModuleHash:   hash,
		Capabilities: caps,
		CreatedAt:    time.Now(),
	}

	if _, err := s.manager.CreateAgent(ctx, agent); err != nil {
		return domain.AgentId{}, err
	}

	s.mu.Lock()
	if owner != "" {
		s.owners[name] = owner
	}
	store := s.store
	s.mu.Unlock()

	if store != nil {
		if err := store.Save(ctx, agent, owner, moduleBytes); err != nil {
			s.logger.Warn("ams: descriptor persistence failed", "agent", name, "error", err)
		}
	}

	s.bus.Publish(ctx, domain.Event{Type: domain.EventAMSAgentRegistered, AgentID: name})
	_ = s.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentCreate,
		Actor: "ams.Service", Resource: name, Action: "create-agent", Outcome: "ok",
	})

	return agent.ID, nil
}

// DestroyAgent removes agentID. Idempotent: destroying an agent that has
// already been destroyed (or never existed) is reported through the same
// ErrAgentNotFound the caller would see on a first attempt, so repeated
// calls observe a consistent, non-escalating result.
func (s *Service) DestroyAgent(ctx context.Context, agentID string) error {
	if _, err := s.manager.Get(agentID); err != nil {
		return err
	}

	if err := s.log.Append(ctx, domain.LogEntry{Kind: domain.LogEntryDestroyAgent, AgentID: agentID}); err != nil {
		return fmt.Errorf("ams: destroy %s did not commit: %w", agentID, err)
	}

	if err := s.manager.DestroyAgent(ctx, agentID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.owners, agentID)
	store := s.store
	s.mu.Unlock()

	if store != nil {
		if err := store.Delete(ctx, agentID); err != nil {
			s.logger.Warn("ams: descriptor deletion failed", "agent", agentID, "error", err)
		}
	}

	s.bus.Publish(ctx, domain.Event{Type: domain.EventAMSAgentDeregistered, AgentID: agentID})
	return nil
}

// AttachStore wires store into the service: existing rows are re-admitted
// through the underlying internal/lifecycle.Manager before AttachStore
// returns, and every subsequent CreateAgent/DestroyAgent writes through to
// it. Call this once, right after NewService, before the node starts
// accepting traffic.
func (s *Service) AttachStore(ctx context.Context, store *Store) error {
	persisted, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("ams: rehydrate descriptors: %w", err)
	}

	for _, p := range persisted {
		if _, err := s.manager.CreateAgent(ctx, p.Agent); err != nil {
			return fmt.Errorf("ams: re-admit agent %s: %w", p.Agent.ID.Name, err)
		}
		if p.Owner != "" {
			s.mu.Lock()
			s.owners[p.Agent.ID.Name] = p.Owner
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
	return nil
}

// Suspend forwards to internal/lifecycle.
func (s *Service) Suspend(ctx context.Context, agentID string) error {
	return s.manager.Suspend(ctx, agentID)
}

// Resume forwards to internal/lifecycle.
func (s *Service) Resume(ctx context.Context, agentID string) error {
	return s.manager.Resume(ctx, agentID)
}

// Migrate forwards to internal/lifecycle; the actual package build/sign/
// transfer sequence is internal/migration's job.
func (s *Service) Migrate(ctx context.Context, agentID, targetNode string) error {
	return s.manager.MigrateTo(ctx, agentID, targetNode)
}

// Query is an AMS search predicate (spec.md §4.4): by name substring
// and/or a capability predicate. A zero-value Query matches everything.
type Query struct {
	NameSubstring string
	Owner         string
	Capability    func(domain.Capabilities) bool
}

// Search returns every locally hosted agent's descriptor matching q,
// sorted by agent name.
func (s *Service) Search(q Query) []domain.AgentDescriptor {
	descriptors := s.manager.ListDescriptors(s.nodeID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := descriptors[:0:0]
	for _, d := range descriptors {
		if q.NameSubstring != "" && !strings.Contains(d.ID.Name, q.NameSubstring) {
			continue
		}
		if q.Owner != "" && s.owners[d.ID.Name] != q.Owner {
			continue
		}
		if q.Capability != nil && !q.Capability(d.Capabilities) {
			continue
		}
		matched = append(matched, d)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID.Name < matched[j].ID.Name })
	return matched
}

// Describe returns the descriptor for a single agent, the ACL-level
// equivalent of an AMS get-description request.
func (s *Service) Describe(agentID string) (domain.AgentDescriptor, error) {
	for _, d := range s.manager.ListDescriptors(s.nodeID) {
		if d.ID.Name == agentID {
			return d, nil
		}
	}
	return domain.AgentDescriptor{}, fmt.Errorf("%w: agent %s", domain.ErrAgentNotFound, agentID)
}
