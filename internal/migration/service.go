package migration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/infra/middleware"
	"github.com/fipacore/platform/internal/lifecycle"
)

const deliverPath = "/migration/receive"

// Service drives an agent's strong-mobility transfer between two nodes:
// checkpoint on the source, transfer over HTTP, restore on the target, and
// commit (destroy the source copy) only after the target acknowledges.
// Grounded on internal/adapter/channel/http.go's bound-listener,
// background-Serve, graceful-Shutdown shape, reused here for the control
// plane's package-receive endpoint rather than a chat API.
type Service struct {
	nodeID  string
	manager *lifecycle.Manager
	bus     domain.EventBus
	audit   domain.AuditLogger
	logger  *slog.Logger

	client *http.Client
	signer ed25519.PrivateKey

	mu          sync.RWMutex
	trustedKeys []ed25519.PublicKey

	listenAddr string
	server     *http.Server
	boundAddr  string
}

// NewService creates a migration engine bound to one node's lifecycle
// Manager. signer may be nil, in which case outgoing packages are
// unsigned; a target accepts an unsigned package on its content hash
// alone.
func NewService(nodeID, listenAddr string, manager *lifecycle.Manager, signer ed25519.PrivateKey, bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		nodeID:     nodeID,
		manager:    manager,
		bus:        bus,
		audit:      audit,
		logger:     logger,
		client:     &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		listenAddr: listenAddr,
	}
}

// TrustKey adds a node's public signing key to the set this Service accepts
// incoming packages from.
func (s *Service) TrustKey(key ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustedKeys = append(s.trustedKeys, key)
}

// Start binds the package-receive listener. Non-blocking: Serve runs in a
// background goroutine exactly as the teacher's HTTP channel does.
func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(deliverPath, s.handleReceive)

	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, 60, 10)(mux))

	s.server = &http.Server{
		Addr:              s.listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("migration: listen %s: %w", s.listenAddr, err)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("migration receive server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the package-receive listener.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// BoundAddr returns the address the receive listener is actually bound to,
// set only after Start.
func (s *Service) BoundAddr() string { return s.boundAddr }

// MigrateTo drives a full outbound migration of agentID to targetAddr (a
// host:port reachable at targetAddr+deliverPath): checkpoint, package,
// send, and on a confirmed receipt, destroy the source copy. On any
// failure the agent is resumed on the source so it keeps serving from
// where it was, matching original_source/src/agent.rs's abort-on-failure
// shape (commit only after the target round-trip succeeds).
func (s *Service) MigrateTo(ctx context.Context, agentID, targetNode, targetAddr string, reason domain.MigrationReason) error {
	if err := s.manager.MigrateTo(ctx, agentID, targetNode); err != nil {
		return err
	}

	s.bus.Publish(ctx, domain.Event{Type: domain.EventMigrationStarted, AgentID: agentID})

	pkg, err := s.checkpoint(ctx, agentID)
	if err != nil {
		_ = s.manager.Resume(ctx, agentID)
		s.bus.Publish(ctx, domain.Event{Type: domain.EventMigrationAborted, AgentID: agentID})
		return err
	}

	if err := s.send(ctx, targetAddr, pkg); err != nil {
		_ = s.manager.Resume(ctx, agentID)
		s.bus.Publish(ctx, domain.Event{Type: domain.EventMigrationAborted, AgentID: agentID})
		_ = s.audit.Log(ctx, domain.AuditEvent{
			Timestamp: time.Now(), Type: domain.AuditAgentMigrate,
			Actor: "migration.Service", Resource: agentID, Action: "migrate-out", Outcome: "aborted",
			Detail: map[string]string{"target_node": targetNode, "reason": string(reason), "error": err.Error()},
		})
		return fmt.Errorf("migration: transfer %s to %s: %w", agentID, targetNode, err)
	}

	if err := s.manager.DestroyAgent(ctx, agentID); err != nil {
		s.logger.Warn("migration: source cleanup after confirmed transfer failed", "agent", agentID, "error", err)
	}

	s.bus.Publish(ctx, domain.Event{Type: domain.EventMigrationCommitted, AgentID: agentID})
	_ = s.audit.Log(ctx, domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentMigrate,
		Actor: "migration.Service", Resource: agentID, Action: "migrate-out", Outcome: "ok",
		Detail: map[string]string{"target_node": targetNode, "reason": string(reason)},
	})
	return nil
}

// checkpoint snapshots agentID and seals it into a signed AgentPackage.
func (s *Service) checkpoint(ctx context.Context, agentID string) (domain.AgentPackage, error) {
	agent, err := s.manager.Agent(agentID)
	if err != nil {
		return domain.AgentPackage{}, err
	}
	snap, err := s.manager.Snapshot(ctx, agentID)
	if err != nil {
		return domain.AgentPackage{}, err
	}
	return buildPackage(agent, snap, s.signer)
}

// send POSTs pkg to targetAddr and treats any non-2xx response or a
// refusal body as a hard failure.
func (s *Service) send(ctx context.Context, targetAddr string, pkg domain.AgentPackage) error {
	body, err := json.Marshal(toWire(pkg))
	if err != nil {
		return fmt.Errorf("migration: encode package: %w", err)
	}

	url := "http://" + targetAddr + deliverPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAddress, targetAddr)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var refusal receiveResponse
		_ = json.NewDecoder(resp.Body).Decode(&refusal)
		if refusal.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrTargetRefused, refusal.Error)
		}
		return fmt.Errorf("%w: status %d", domain.ErrTargetRefused, resp.StatusCode)
	}
	return nil
}

type receiveResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// handleReceive is the inbound half of a migration: verify, restore, ack.
func (s *Service) handleReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20) // agent modules plus a linear-memory snapshot can be sizable

	var wire wirePackage
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		s.writeRefusal(w, http.StatusBadRequest, fmt.Sprintf("invalid package: %v", err))
		return
	}
	pkg := fromWire(wire)

	s.mu.RLock()
	trusted := s.trustedKeys
	s.mu.RUnlock()

	if err := verifyPackage(pkg, trusted); err != nil {
		s.writeRefusal(w, http.StatusForbidden, err.Error())
		_ = s.audit.Log(r.Context(), domain.AuditEvent{
			Timestamp: time.Now(), Type: domain.AuditAgentMigrate,
			Actor: "migration.Service", Resource: pkg.Agent.ID.Name, Action: "migrate-in", Outcome: "rejected",
			Detail: map[string]string{"error": err.Error()},
		})
		return
	}

	if _, err := s.manager.RestoreAgent(r.Context(), pkg.Agent, pkg.Snapshot, ""); err != nil {
		s.writeRefusal(w, http.StatusConflict, err.Error())
		return
	}

	s.bus.Publish(r.Context(), domain.Event{Type: domain.EventMigrationCommitted, AgentID: pkg.Agent.ID.Name})
	_ = s.audit.Log(r.Context(), domain.AuditEvent{
		Timestamp: time.Now(), Type: domain.AuditAgentMigrate,
		Actor: "migration.Service", Resource: pkg.Agent.ID.Name, Action: "migrate-in", Outcome: "ok",
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(receiveResponse{Accepted: true})
}

func (s *Service) writeRefusal(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(receiveResponse{Accepted: false, Error: detail})
}
