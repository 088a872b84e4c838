package platformsdk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/infra/config"
	"github.com/fipacore/platform/internal/security"
)

// securityComponents holds every security-related component a node wires
// in: a filesystem jail for agent storage, content-at-rest encryption, the
// audit log, and key rotation.
type securityComponents struct {
	Sandbox         *security.Sandbox
	Encryptor       *security.AESContentEncryptor
	AuditLogger     domain.AuditLogger
	FileAuditLogger *security.FileAuditLogger // concrete type, for retention enforcement; nil when audit is disabled
	KeyRotator      *security.KeyRotator
}

// initSecurity initializes the filesystem jail, content encryption, audit
// logging, and key rotation, in that order, returning a cleanup func that
// undoes them in reverse (LIFO).
func initSecurity(cfg *config.Config, log *slog.Logger) (*securityComponents, func(), error) {
	comp := &securityComponents{}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// 1. Filesystem jail for agent key/value storage.
	sandboxRoot := cfg.Node.DataDir
	if sandboxRoot == "" {
		sandboxRoot = "./data"
	}
	sandboxRoot = filepath.Join(sandboxRoot, "agent-storage")
	if err := os.MkdirAll(sandboxRoot, 0700); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create sandbox root: %w", err)
	}
	sb, err := security.NewSandbox(sandboxRoot)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("sandbox: %w", err)
	}
	comp.Sandbox = sb
	log.Info("storage sandbox initialized", "root", sandboxRoot)

	// 2. Content encryption (if enabled).
	if cfg.Security.Encryption.Enabled {
		passphrase := os.Getenv("FIPA_STORAGE_KEY")
		if passphrase != "" {
			enc, err := security.NewAESContentEncryptor(passphrase)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("encryption: %w", err)
			}
			comp.Encryptor = enc
			cleanups = append(cleanups, func() { enc.Zeroize() })
			log.Info("content encryption enabled", "algorithm", "AES-256-GCM")
		} else {
			log.Warn("encryption enabled but FIPA_STORAGE_KEY not set, skipping")
		}
	}

	// 3. Audit logging (if enabled).
	if cfg.Security.Audit.Enabled {
		auditDir := filepath.Dir(cfg.Security.Audit.Path)
		if err := os.MkdirAll(auditDir, 0700); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create audit dir: %w", err)
		}

		fileAudit, err := security.NewFileAuditLogger(cfg.Security.Audit.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("audit logger: %w", err)
		}

		if cfg.Security.Audit.Retention.MaxAge != "" || cfg.Security.Audit.Retention.MaxSize != "" {
			var maxAge time.Duration
			if cfg.Security.Audit.Retention.MaxAge != "" {
				d, err := time.ParseDuration(cfg.Security.Audit.Retention.MaxAge)
				if err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("parse audit retention max_age: %w", err)
				}
				maxAge = d
			}
			var maxSize int64
			if cfg.Security.Audit.Retention.MaxSize != "" {
				s, err := security.ParseRetentionMaxSize(cfg.Security.Audit.Retention.MaxSize)
				if err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("parse audit retention max_size: %w", err)
				}
				maxSize = s
			}
			fileAudit.SetRetention(security.RetentionPolicy{MaxAge: maxAge, MaxSize: maxSize})
		}

		comp.AuditLogger = fileAudit
		comp.FileAuditLogger = fileAudit
		cleanups = append(cleanups, func() { fileAudit.Close() })
		log.Info("audit logging enabled", "path", cfg.Security.Audit.Path)
	} else {
		comp.AuditLogger = noopAuditLogger{}
	}

	// 4. Key rotation (if enabled and encryption is active).
	if cfg.Security.KeyRotation.Enabled && comp.Encryptor != nil {
		interval := 720 * time.Hour
		if cfg.Security.KeyRotation.Interval != "" {
			d, err := time.ParseDuration(cfg.Security.KeyRotation.Interval)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("parse key rotation interval: %w", err)
			}
			interval = d
		}
		keyStore := security.NewEncryptorKeyStore(comp.Encryptor)
		rotator := security.NewKeyRotator(keyStore, interval, log)
		comp.KeyRotator = rotator
		cleanups = append(cleanups, func() { rotator.Stop() })
		log.Info("key rotation enabled", "interval", interval)
	}

	return comp, cleanup, nil
}

// noopAuditLogger discards every event; used when audit logging is
// disabled so the rest of the node never has to nil-check domain.AuditLogger.
type noopAuditLogger struct{}

func (noopAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error { return nil }
func (noopAuditLogger) Close() error                                           { return nil }
