// Package df implements the Directory Facilitator: the platform's
// yellow-pages agent. Agents register and search for services, subscribe
// to directory changes, and a DF may fan a search out to federated peer
// DFs.
package df

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/sandbox"
)

// Config bounds registration volume (spec.md §4.5: "enforces per-agent
// and global caps"), grounded on original_source/src/platform/df.rs's
// DFConfig.
type Config struct {
	PlatformName        string
	MaxServicesPerAgent int
	MaxTotalServices    int
	FederationTimeout   time.Duration
}

// DefaultConfig mirrors df.rs's Default impl.
func DefaultConfig() Config {
	return Config{
		PlatformName:        "fipa-platform",
		MaxServicesPerAgent: 100,
		MaxTotalServices:    10000,
		FederationTimeout:   3 * time.Second,
	}
}

// subscription is a standing DF-change notification request.
type subscription struct {
	subscriber domain.AgentId
	filter     domain.ServiceFilter
}

// PeerClient is how a DF reaches a federated peer to fan a search out.
// internal/transport's ACC supplies the concrete implementation; df stays
// transport-agnostic.
type PeerClient interface {
	Search(ctx context.Context, peerAddress string, filter domain.ServiceFilter) ([]domain.ServiceRegistration, error)
}

// Service is the DF: three maps (service_name -> registrations,
// agent_name -> service_names, subscriber -> filter), matching
// original_source/src/platform/df.rs's DF actor translated from
// actix message-handlers to plain mutex-guarded methods, in the style
// internal/lifecycle.Manager and internal/ams.Service already use for
// their own registries.
type Service struct {
	mu            sync.RWMutex
	config        Config
	services      map[string][]domain.ServiceRegistration // service name -> registrations
	agentServices map[string]map[string]bool              // agent name -> service names
	subscriptions map[string]subscription                 // subscriber name -> subscription

	peers      []string
	peerClient PeerClient

	bus    domain.EventBus
	audit  domain.AuditLogger
	logger *slog.Logger
	store  *Store // optional; nil means registrations don't survive a restart
}

// NewService creates a DF. peers lists federated peer DF addresses;
// peerClient may be nil if federation is never used.
func NewService(cfg Config, peers []string, peerClient PeerClient, bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		config:        cfg,
		services:      make(map[string][]domain.ServiceRegistration),
		agentServices: make(map[string]map[string]bool),
		subscriptions: make(map[string]subscription),
		peers:         peers,
		peerClient:    peerClient,
		bus:           bus,
		audit:         audit,
		logger:        logger,
	}
}

var _ sandbox.ServiceDirectory = (*Service)(nil)

// AttachStore wires store into the service: existing registrations are
// loaded into memory before AttachStore returns, and every subsequent
// RegisterWithLease/Deregister writes through to it. Call this once,
// right after NewService, before the node starts accepting traffic.
func (s *Service) AttachStore(ctx context.Context, store *Store) error {
	regs, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("df: rehydrate registrations: %w", err)
	}

	s.mu.Lock()
	for _, reg := range regs {
		s.services[reg.Service.Name] = append(s.services[reg.Service.Name], reg)
		if s.agentServices[reg.Owner.Name] == nil {
			s.agentServices[reg.Owner.Name] = make(map[string]bool)
		}
		s.agentServices[reg.Owner.Name][reg.Service.Name] = true
	}
	s.store = store
	s.mu.Unlock()
	return nil
}

// Register adds a service registration, enforcing per-agent and global
// caps (spec.md §4.5), and notifies matching subscribers.
func (s *Service) Register(ctx context.Context, owner domain.AgentId, svc domain.ServiceDescription) error {
	return s.RegisterWithLease(ctx, owner, svc, nil)
}

// RegisterWithLease is Register with an optional lease expiry.
func (s *Service) RegisterWithLease(ctx context.Context, owner domain.AgentId, svc domain.ServiceDescription, leaseExpiry *time.Time) error {
	s.mu.Lock()

	agentCount := len(s.agentServices[owner.Name])
	if s.config.MaxServicesPerAgent > 0 && agentCount >= s.config.MaxServicesPerAgent {
		s.mu.Unlock()
		return domain.NewSubSystemError("df", "Register", domain.ErrServiceLimitReached, "per-agent service limit reached")
	}

	total := 0
	for _, regs := range s.services {
		total += len(regs)
	}
	if s.config.MaxTotalServices > 0 && total >= s.config.MaxTotalServices {
		s.mu.Unlock()
		return domain.NewSubSystemError("df", "Register", domain.ErrServiceLimitReached, "total service limit reached")
	}

	reg := domain.ServiceRegistration{
		Service:      svc,
		Owner:        owner,
		RegisteredAt: time.Now(),
		LeaseExpiry:  leaseExpiry,
	}
	s.services[svc.Name] = append(s.services[svc.Name], reg)
	if s.agentServices[owner.Name] == nil {
		s.agentServices[owner.Name] = make(map[string]bool)
	}
	s.agentServices[owner.Name][svc.Name] = true
	store := s.store

	s.mu.Unlock()

	if store != nil {
		if err := store.Save(ctx, reg); err != nil {
			s.logger.Warn("df: registration persistence failed", "agent", owner.Name, "service", svc.Name, "error", err)
		}
	}

	s.logger.Info("df: service registered", "agent", owner.Name, "service", svc.Name)
	s.notifySubscribers(ctx, svc, owner, "registered")
	s.bus.Publish(ctx, domain.Event{Type: domain.EventDFServiceRegistered, AgentID: owner.Name})
	_ = s.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditDataEvent,
		Actor: owner.Name, Resource: svc.Name, Action: "df-register", Outcome: "ok",
	})
	return nil
}

// Deregister removes every registration service_name has for owner,
// notifying subscribers and pruning now-empty buckets.
func (s *Service) Deregister(ctx context.Context, owner domain.AgentId, serviceName string) error {
	s.mu.Lock()

	regs, ok := s.services[serviceName]
	if !ok {
		s.mu.Unlock()
		return domain.NewSubSystemError("df", "Deregister", domain.ErrNotFound, serviceName)
	}

	kept := regs[:0:0]
	removed := false
	for _, r := range regs {
		if r.Owner.Name == owner.Name {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		s.mu.Unlock()
		return domain.NewSubSystemError("df", "Deregister", domain.ErrNotFound, serviceName)
	}

	if len(kept) == 0 {
		delete(s.services, serviceName)
	} else {
		s.services[serviceName] = kept
	}
	if agentSvcs := s.agentServices[owner.Name]; agentSvcs != nil {
		delete(agentSvcs, serviceName)
		if len(agentSvcs) == 0 {
			delete(s.agentServices, owner.Name)
		}
	}

	store := s.store
	s.mu.Unlock()

	if store != nil {
		if err := store.Delete(ctx, owner.Name, serviceName); err != nil {
			s.logger.Warn("df: registration deletion failed", "agent", owner.Name, "service", serviceName, "error", err)
		}
	}

	s.logger.Info("df: service deregistered", "agent", owner.Name, "service", serviceName)
	s.notifyDeregister(ctx, serviceName)
	s.bus.Publish(ctx, domain.Event{Type: domain.EventDFServiceDeregistered, AgentID: owner.Name})
	return nil
}

// Search applies filter across every local registration; if
// filter.Federated is set, it also fans out to every configured peer DF
// in parallel, bounded by config.FederationTimeout, and deduplicates
// results by (owner.name, service.name).
func (s *Service) Search(ctx context.Context, filter domain.ServiceFilter) ([]domain.ServiceRegistration, error) {
	local := s.searchLocal(filter)

	if !filter.Federated || s.peerClient == nil || len(s.peers) == 0 {
		return applyMaxResults(local, filter.MaxResults), nil
	}

	fedCtx, cancel := context.WithTimeout(ctx, s.config.FederationTimeout)
	defer cancel()

	type peerResult struct {
		regs []domain.ServiceRegistration
	}
	resultsCh := make(chan peerResult, len(s.peers))
	var wg sync.WaitGroup
	for _, peer := range s.peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			nonFederated := filter
			nonFederated.Federated = false
			regs, err := s.peerClient.Search(fedCtx, peer, nonFederated)
			if err != nil {
				s.logger.Warn("df: federated search failed", "peer", peer, "error", err)
				return
			}
			resultsCh <- peerResult{regs: regs}
		}(peer)
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	seen := make(map[string]bool, len(local))
	merged := make([]domain.ServiceRegistration, 0, len(local))
	for _, r := range local {
		key := r.Owner.Name + "/" + r.Service.Name
		if !seen[key] {
			seen[key] = true
			merged = append(merged, r)
		}
	}
	for pr := range resultsCh {
		for _, r := range pr.regs {
			key := r.Owner.Name + "/" + r.Service.Name
			if !seen[key] {
				seen[key] = true
				merged = append(merged, r)
			}
		}
	}

	return applyMaxResults(merged, filter.MaxResults), nil
}

func (s *Service) searchLocal(filter domain.ServiceFilter) []domain.ServiceRegistration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.ServiceRegistration
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		for _, reg := range s.services[name] {
			if reg.Expired(now) {
				continue
			}
			if matchesFilter(reg.Service, reg.Owner, filter) {
				results = append(results, reg)
			}
		}
	}
	return results
}

func applyMaxResults(regs []domain.ServiceRegistration, max int) []domain.ServiceRegistration {
	if max > 0 && len(regs) > max {
		return regs[:max]
	}
	return regs
}

// matchesFilter implements spec.md §4.5's filter rules, ported directly
// from df.rs's matches_filter.
func matchesFilter(svc domain.ServiceDescription, owner domain.AgentId, filter domain.ServiceFilter) bool {
	if filter.NameSubstring != "" && !strings.Contains(svc.Name, filter.NameSubstring) {
		return false
	}
	if filter.Protocol != nil {
		found := false
		for _, p := range svc.Protocols {
			if p == *filter.Protocol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Ontology != "" && svc.Ontology != filter.Ontology {
		return false
	}
	if filter.Owner != "" && owner.Name != filter.Owner {
		return false
	}
	for k, v := range filter.Properties {
		if svc.Properties[k] != v {
			return false
		}
	}
	return true
}

// Subscribe registers subscriber for notifications matching filter,
// durable within the DF's lifetime.
func (s *Service) Subscribe(subscriber domain.AgentId, filter domain.ServiceFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[subscriber.Name] = subscription{subscriber: subscriber, filter: filter}
	return nil
}

// Unsubscribe removes subscriber's standing subscription.
func (s *Service) Unsubscribe(subscriber domain.AgentId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[subscriber.Name]; !ok {
		return domain.NewSubSystemError("df", "Unsubscribe", domain.ErrSubscriberNotFound, subscriber.Name)
	}
	delete(s.subscriptions, subscriber.Name)
	return nil
}

func (s *Service) notifySubscribers(ctx context.Context, svc domain.ServiceDescription, owner domain.AgentId, kind string) {
	s.mu.RLock()
	subs := make([]subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if !matchesFilter(svc, owner, sub.filter) {
			continue
		}
		s.bus.Publish(ctx, domain.Event{Type: domain.EventDFSubscriptionFired, AgentID: sub.subscriber.Name})
		s.logger.Debug("df: notified subscriber", "subscriber", sub.subscriber.Name, "service", svc.Name, "kind", kind)
	}
}

func (s *Service) notifyDeregister(ctx context.Context, serviceName string) {
	s.mu.RLock()
	subs := make([]subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter.NameSubstring != "" && !strings.Contains(serviceName, sub.filter.NameSubstring) {
			continue
		}
		s.bus.Publish(ctx, domain.Event{Type: domain.EventDFSubscriptionFired, AgentID: sub.subscriber.Name})
	}
}
