package sandbox

import (
	"log/slog"
	"time"

	"github.com/fipacore/platform/internal/domain"
)

// Capability constants name the host functions an agent module may call.
// They mirror the host-call surface an agent module is exported against.
const (
	CapLog             = "log"              // always allowed
	CapReceiveMessage  = "receive_message"   // always allowed (own mailbox)
	CapSendMessage     = "send_message"      // gated by NetworkAccess != none
	CapStorageGet      = "storage.get"       // gated by StorageQuotaBytes > 0
	CapStoragePut      = "storage.put"       // gated by StorageQuotaBytes > 0
	CapStorageDelete   = "storage.delete"    // gated by StorageQuotaBytes > 0
	CapServicesRegister   = "services.register"   // DF access
	CapServicesSearch     = "services.search"     // DF access
	CapServicesDeregister = "services.deregister" // DF access
	CapLifecycleStatus = "lifecycle.status"  // always allowed
	CapLifecycleControl  = "lifecycle.control"  // suspend/resume/terminate self
	CapMigrate         = "migrate_to"         // gated by Capabilities.MigrationAllowed
)

// alwaysAllowed capabilities are granted regardless of the agent's
// capability grant, since they carry no resource or confidentiality risk.
var alwaysAllowed = map[string]bool{
	CapLog:             true,
	CapReceiveMessage:  true,
	CapLifecycleStatus: true,
}

// Sandbox enforces capability-based restrictions on an agent module's host
// function access, derived from the agent's granted domain.Capabilities.
type Sandbox struct {
	capabilities map[string]bool
	maxMemoryMB  int
	execTimeout  time.Duration
	logger       *slog.Logger
}

// NewSandbox derives a Sandbox from an agent's granted Capabilities.
func NewSandbox(caps domain.Capabilities, logger *slog.Logger) *Sandbox {
	maxMemoryMB := int(caps.MaxMemoryBytes / (1024 * 1024))
	if maxMemoryMB <= 0 {
		maxMemoryMB = 64
	}

	timeout := time.Duration(caps.MaxExecutionTimeMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	granted := make(map[string]bool, len(alwaysAllowed)+8)
	for c := range alwaysAllowed {
		granted[c] = true
	}
	if caps.NetworkAccess != domain.NetworkNone {
		granted[CapSendMessage] = true
	}
	if caps.StorageQuotaBytes > 0 {
		granted[CapStorageGet] = true
		granted[CapStoragePut] = true
		granted[CapStorageDelete] = true
	}
	// DF access carries no resource cost beyond the DF's own per-agent quota,
	// so it is granted to every agent the same way FIPA mandates every
	// agent be able to reach its platform's DF.
	granted[CapServicesRegister] = true
	granted[CapServicesSearch] = true
	granted[CapServicesDeregister] = true
	granted[CapLifecycleControl] = true
	if caps.MigrationAllowed {
		granted[CapMigrate] = true
	}

	return &Sandbox{
		capabilities: granted,
		maxMemoryMB:  maxMemoryMB,
		execTimeout:  timeout,
		logger:       logger,
	}
}

// AllowCapability reports whether the given capability is permitted.
func (s *Sandbox) AllowCapability(cap string) bool {
	return s.capabilities[cap]
}

// MaxMemoryMB returns the memory limit in megabytes.
func (s *Sandbox) MaxMemoryMB() int { return s.maxMemoryMB }

// ExecTimeout returns the execution timeout for guest function calls.
func (s *Sandbox) ExecTimeout() time.Duration { return s.execTimeout }

// MemoryPages returns the number of WASM 64KB memory pages corresponding
// to the configured memory limit.
func (s *Sandbox) MemoryPages() uint32 {
	return uint32(s.maxMemoryMB) * 16 // 1 MB = 16 pages of 64KB
}
