// Package platformsdk is the embeddable form of the FIPA platform node:
// everything cmd/platformd wires into a standalone binary (sandbox
// runtime, agent lifecycle, AMS, DF, transport, migration), packaged as a
// library a host process can import directly instead of shelling out to
// platformd and talking to it over a wire protocol.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	node, err := platformsdk.New(ctx, cfg, platformsdk.WithLogger(log))
//	defer node.Close(ctx)
//	node.AMS().CreateAgent(ctx, "worker-1", moduleBytes, caps, "alice")
package platformsdk

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fipacore/platform/internal/ams"
	"github.com/fipacore/platform/internal/df"
	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/infra/config"
	"github.com/fipacore/platform/internal/lifecycle"
	"github.com/fipacore/platform/internal/migration"
	"github.com/fipacore/platform/internal/protocol"
	"github.com/fipacore/platform/internal/sandbox"
	"github.com/fipacore/platform/internal/transport"
	"github.com/fipacore/platform/internal/usecase/eventbus"
	"github.com/fipacore/platform/internal/usecase/scheduling"
)

// accReceivePumpSchedule is how often the node drains its MTPs for inbound
// envelopes. A plain duration, not a cron expression, since the ACC has no
// notion of wall-clock alignment.
const accReceivePumpSchedule = "1s"

// Node is one embedded FIPA platform node: its agent runtime, directory
// services, transport, and (if enabled) migration endpoint.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	bus       *eventbus.Bus
	runtime   *sandbox.Runtime
	manager   *lifecycle.Manager
	ams       *ams.Service
	df        *df.Service
	protocols *protocol.Registry
	registry  *transport.Registry
	acc       *transport.ACC
	scheduler *scheduling.Scheduler
	migration *migration.Service

	closers []func(context.Context) error
}

// New builds and starts every component of a node: the sandbox runtime,
// the lifecycle manager, DF then AMS (DF first, so an AMS-rehydrated agent
// can reach it immediately), any transport MTPs the config enables, and
// the migration service if cfg.Migration.Enabled. AMS/DF descriptors and
// registrations only persist across restarts when cfg.Node.DataDir is set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	o := &buildOpts{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger

	if cfg.Node.ID == "" {
		cfg.Node.ID = generateNodeID()
	}

	n := &Node{cfg: cfg, logger: log}

	sec, secCleanup, err := initSecurity(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	n.addCloser(func(context.Context) error { secCleanup(); return nil })

	n.bus = eventbus.New(log)
	n.addCloser(func(context.Context) error { n.bus.Close(); return nil })

	maxPages := uint32(cfg.Sandbox.DefaultMaxMemoryMB) * 16 // 64KB pages per MB
	if maxPages == 0 {
		maxPages = sandbox.DefaultRuntimeConfig().MaxMemoryPages
	}
	rt, err := sandbox.NewRuntime(ctx, sandbox.RuntimeConfig{MaxMemoryPages: maxPages}, log)
	if err != nil {
		n.Close(ctx)
		return nil, fmt.Errorf("sandbox runtime: %w", err)
	}
	n.runtime = rt
	n.addCloser(rt.Close)

	var contentEnc domain.ContentEncryptor
	if sec.Encryptor != nil {
		contentEnc = sec.Encryptor
	}

	// Shared across every agent's own protocol.Manager: each hosted agent
	// validates and transitions its conversations against the same set of
	// protocol definitions.
	n.protocols = protocol.NewRegistry()

	n.manager = lifecycle.NewManager(rt, sec.Sandbox, contentEnc, n.protocols, n.bus, sec.AuditLogger, log)

	dfCfg := df.DefaultConfig()
	dfCfg.PlatformName = cfg.Node.Name
	if cfg.DF.MaxServicesPerAgent > 0 {
		dfCfg.MaxServicesPerAgent = cfg.DF.MaxServicesPerAgent
	}
	if cfg.DF.MaxTotalServices > 0 {
		dfCfg.MaxTotalServices = cfg.DF.MaxTotalServices
	}
	if cfg.DF.FederationTimeout > 0 {
		dfCfg.FederationTimeout = cfg.DF.FederationTimeout
	}
	n.df = df.NewService(dfCfg, nil, nil, n.bus, sec.AuditLogger, log)
	n.manager.SetServiceDirectory(n.df)

	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(filepath.Join(cfg.Node.DataDir, "df"), 0700); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("create df data dir: %w", err)
		}
		dfStore, err := df.NewStore(filepath.Join(cfg.Node.DataDir, "df", "registrations.db"))
		if err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("df store: %w", err)
		}
		n.addCloser(func(context.Context) error { return dfStore.Close() })
		if err := n.df.AttachStore(ctx, dfStore); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("df rehydrate: %w", err)
		}
	}

	n.ams = ams.NewService(cfg.Node.ID, n.manager, domain.NewNoopReplicatedLog(), n.bus, sec.AuditLogger, log)

	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(filepath.Join(cfg.Node.DataDir, "ams"), 0700); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("create ams data dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(cfg.Node.DataDir, "agents"), 0700); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("create agents dir: %w", err)
		}
		amsStore, err := ams.NewStore(
			filepath.Join(cfg.Node.DataDir, "ams", "descriptors.db"),
			filepath.Join(cfg.Node.DataDir, "agents"),
		)
		if err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("ams store: %w", err)
		}
		n.addCloser(func(context.Context) error { return amsStore.Close() })
		if err := n.ams.AttachStore(ctx, amsStore); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("ams rehydrate: %w", err)
		}
	}

	n.registry = transport.NewRegistry()
	n.acc = transport.NewACC(cfg.Node.Name, n.registry, n.bus, log)
	n.acc.SetLocalDeliverer(n.manager)
	n.manager.SetOutbound(n.acc)

	if err := n.activateMTPs(ctx); err != nil {
		n.Close(ctx)
		return nil, err
	}

	n.scheduler = scheduling.NewScheduler(log)
	n.manager.SetScheduler(n.scheduler)
	n.manager.RegisterWithScheduler(n.scheduler)
	n.acc.RegisterWithScheduler(n.scheduler)
	if err := n.scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "agent-tick",
		Schedule: "1s",
		Action:   scheduling.ActionAgentTick,
	}); err != nil {
		n.Close(ctx)
		return nil, fmt.Errorf("schedule agent tick: %w", err)
	}
	if err := n.scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "acc-receive-pump",
		Schedule: accReceivePumpSchedule,
		Action:   scheduling.ActionACCReceivePump,
	}); err != nil {
		n.Close(ctx)
		return nil, fmt.Errorf("schedule acc receive pump: %w", err)
	}
	if err := n.scheduler.Start(ctx); err != nil {
		n.Close(ctx)
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	n.addCloser(func(context.Context) error { return n.scheduler.Stop() })

	if cfg.Migration.Enabled {
		signer, err := migrationSigner(cfg)
		if err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("migration signer: %w", err)
		}
		n.migration = migration.NewService(cfg.Node.ID, migrationListenAddr(cfg), n.manager, signer, n.bus, sec.AuditLogger, log)
		if err := n.migration.Start(ctx); err != nil {
			n.Close(ctx)
			return nil, fmt.Errorf("start migration service: %w", err)
		}
		n.addCloser(n.migration.Stop)
		log.Info("migration service listening", "addr", n.migration.BoundAddr())
	}

	log.Info("platform node ready",
		"node_id", cfg.Node.ID,
		"encryption", sec.Encryptor != nil,
		"audit", sec.AuditLogger != nil,
		"migration", cfg.Migration.Enabled,
	)

	return n, nil
}

func (n *Node) activateMTPs(ctx context.Context) error {
	cfg := n.cfg.Transport

	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		httpMTP := transport.NewHTTPMTP(cfg.HTTP.Addr)
		if err := n.registry.Activate(ctx, httpMTP, map[string]string{"addr": cfg.HTTP.Addr}); err != nil {
			return fmt.Errorf("activate http mtp: %w", err)
		}
		n.addCloser(httpMTP.Deactivate)
		n.logger.Info("http mtp listening", "addr", httpMTP.BoundAddr())
	}
	if cfg.GRPC != nil && cfg.GRPC.Enabled {
		grpcMTP := transport.NewGRPCMTP(cfg.GRPC.Addr)
		if err := n.registry.Activate(ctx, grpcMTP, map[string]string{"addr": cfg.GRPC.Addr}); err != nil {
			return fmt.Errorf("activate grpc mtp: %w", err)
		}
		n.addCloser(grpcMTP.Deactivate)
	}
	if cfg.WebSocket != nil && cfg.WebSocket.Enabled {
		wsMTP := transport.NewWebSocketMTP(cfg.WebSocket.Addr)
		if err := n.registry.Activate(ctx, wsMTP, map[string]string{"addr": cfg.WebSocket.Addr}); err != nil {
			return fmt.Errorf("activate websocket mtp: %w", err)
		}
		n.addCloser(wsMTP.Deactivate)
	}
	return nil
}

func (n *Node) addCloser(c func(context.Context) error) {
	n.closers = append(n.closers, c)
}

// Close tears down every component in reverse build order, collecting and
// returning the first error encountered (but still attempting the rest).
func (n *Node) Close(ctx context.Context) error {
	var first error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	n.closers = nil
	return first
}

// AMS returns the node's Agent Management System.
func (n *Node) AMS() *ams.Service { return n.ams }

// DF returns the node's Directory Facilitator.
func (n *Node) DF() *df.Service { return n.df }

// Manager returns the node's agent lifecycle manager.
func (n *Node) Manager() *lifecycle.Manager { return n.manager }

// ACC returns the node's Agent Communication Channel.
func (n *Node) ACC() *transport.ACC { return n.acc }

// Transport returns the node's MTP registry.
func (n *Node) Transport() *transport.Registry { return n.registry }

// Protocols returns the node's shared protocol registry, from which every
// hosted agent's own lifecycle.Controller.Conversations manager is built.
func (n *Node) Protocols() *protocol.Registry { return n.protocols }

// Scheduler returns the node's cron-driven task scheduler, which drives
// agent ticks and the ACC's inbound receive pump.
func (n *Node) Scheduler() *scheduling.Scheduler { return n.scheduler }

// EventBus returns the node's event bus.
func (n *Node) EventBus() *eventbus.Bus { return n.bus }

// NodeID returns this node's identifier (generated at New time if the
// config left it empty).
func (n *Node) NodeID() string { return n.cfg.Node.ID }

// generateNodeID mints a random node identifier when none is configured,
// grounded on internal/infra/config's own AES salt/nonce generation:
// 16 random bytes, hex.
func generateNodeID() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "node-unidentified"
	}
	return "node-" + hex.EncodeToString(raw)
}

// migrationListenAddr picks the control-plane address the migration
// service's receive endpoint binds to; it is deliberately separate from
// the ACC's transport listeners since migration packages are not ACL
// envelopes.
func migrationListenAddr(cfg *config.Config) string {
	if cfg.Transport.HTTP != nil {
		if host, _, ok := splitHostPort(cfg.Transport.HTTP.Addr); ok {
			return host + ":7801"
		}
	}
	return ":7801"
}

func splitHostPort(addr string) (host, port string, ok bool) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", false
	}
	return addr[:idx], addr[idx+1:], true
}

// migrationSigner loads the migration signing key from config, generating
// an ephemeral one when signing is enabled but no key is configured. A
// freshly generated key only signs outbound packages for this process's
// lifetime; trust relationships with peers must be established out of band.
// With signing disabled it returns a nil key and packages go out unsigned.
func migrationSigner(cfg *config.Config) (ed25519.PrivateKey, error) {
	if !cfg.Migration.SigningEnabled {
		return nil, nil
	}
	if cfg.Migration.SignerPrivateKey == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate migration signing key: %w", err)
		}
		return priv, nil
	}

	seed, err := hex.DecodeString(cfg.Migration.SignerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode migration signer_private_key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("migration signer_private_key: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
