package ams

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fipacore/platform/internal/domain"
)

// Store persists agent descriptors in a SQLite database (ams/descriptors.db
// per the platform's data directory layout) and the matching WASM module
// bytes under agentsDir/<name>/module.wasm, grounded on
// internal/adapter/tenant/sqlite.go's open/migrate/CRUD shape
// (modernc.org/sqlite, no CGO) with the per-agent file layout taken from
// internal/adapter/memory/markdown.go's one-file-per-entity convention.
//
// Store only remembers enough to rebuild the domain.Agent a node admitted
// with; it never becomes the source of truth for live status or mailbox
// contents, which stay in internal/lifecycle's in-memory Manager for as
// long as the process runs.
type Store struct {
	db        *sql.DB
	agentsDir string
}

// NewStore opens (or creates) dbPath and ensures agentsDir exists for
// per-agent module files.
func NewStore(dbPath, agentsDir string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ams: open descriptor db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ams: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			name         TEXT PRIMARY KEY,
			owner        TEXT NOT NULL DEFAULT '',
			module_hash  TEXT NOT NULL,
			module_path  TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ams: migrate descriptor db: %w", err)
	}
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("ams: create agents dir: %w", err)
	}
	return &Store{db: db, agentsDir: agentsDir}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) modulePath(name string) string {
	return filepath.Join(s.agentsDir, name, "module.wasm")
}

// Save writes moduleBytes to disk and upserts agent's row. Called by
// Service.CreateAgent once admission has committed through the
// ReplicatedLog.
func (s *Store) Save(_ context.Context, agent domain.Agent, owner string, moduleBytes []byte) error {
	path := s.modulePath(agent.ID.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ams: create agent dir for %s: %w", agent.ID.Name, err)
	}
	if err := os.WriteFile(path, moduleBytes, 0o644); err != nil {
		return fmt.Errorf("ams: write module file for %s: %w", agent.ID.Name, err)
	}

	capsJSON, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("ams: marshal capabilities for %s: %w", agent.ID.Name, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agents (name, owner, module_hash, module_path, capabilities, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner=excluded.owner, module_hash=excluded.module_hash,
			module_path=excluded.module_path, capabilities=excluded.capabilities`,
		agent.ID.Name, owner, agent.ModuleHash, path, string(capsJSON),
		agent.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ams: persist descriptor for %s: %w", agent.ID.Name, err)
	}
	return nil
}

// Delete removes agentName's row and module file. Called by
// Service.DestroyAgent.
func (s *Store) Delete(_ context.Context, agentName string) error {
	if _, err := s.db.Exec("DELETE FROM agents WHERE name = ?", agentName); err != nil {
		return fmt.Errorf("ams: delete descriptor for %s: %w", agentName, err)
	}
	if err := os.RemoveAll(filepath.Join(s.agentsDir, agentName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ams: remove agent dir for %s: %w", agentName, err)
	}
	return nil
}

// PersistedAgent is one row of the descriptor table, rehydrated with its
// module bytes read back from disk.
type PersistedAgent struct {
	Agent domain.Agent
	Owner string
}

// LoadAll reads every persisted agent back, module bytes included, in the
// order they were created. Service.AttachStore calls this once at startup
// and re-admits each result through the underlying
// internal/lifecycle.Manager.
func (s *Store) LoadAll(_ context.Context) ([]PersistedAgent, error) {
	rows, err := s.db.Query("SELECT name, owner, module_hash, module_path, capabilities, created_at FROM agents ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("ams: list descriptors: %w", err)
	}
	defer rows.Close()

	var out []PersistedAgent
	for rows.Next() {
		var name, owner, hash, path, capsJSON, createdStr string
		if err := rows.Scan(&name, &owner, &hash, &path, &capsJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("ams: scan descriptor: %w", err)
		}

		moduleBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ams: read module file for %s: %w", name, err)
		}

		var caps domain.Capabilities
		if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
			return nil, fmt.Errorf("ams: unmarshal capabilities for %s: %w", name, err)
		}

		createdAt, _ := time.Parse(time.RFC3339Nano, createdStr)

		out = append(out, PersistedAgent{
			Agent: domain.Agent{
				ID:           domain.NewAgentId(name),
				ModuleBytes:  moduleBytes,
				ModuleHash:   hash,
				Capabilities: caps,
				CreatedAt:    createdAt,
			},
			Owner: owner,
		})
	}
	return out, rows.Err()
}
