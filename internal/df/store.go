package df

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fipacore/platform/internal/domain"
)

// Store persists service registrations in a SQLite database
// (df/registrations.db per the platform's data directory layout), grounded
// on internal/adapter/tenant/sqlite.go's open/migrate/CRUD shape
// (modernc.org/sqlite, no CGO). Subscriptions are not persisted: they are a
// standing request from a currently-connected agent, meaningless once that
// agent's own session has gone away too.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) dbPath and runs the schema migration.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("df: open registration db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("df: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS registrations (
			owner_name   TEXT NOT NULL,
			service_name TEXT NOT NULL,
			owner        TEXT NOT NULL,
			service      TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			lease_expiry  TEXT,
			PRIMARY KEY (owner_name, service_name)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("df: migrate registration db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts one registration.
func (s *Store) Save(_ context.Context, reg domain.ServiceRegistration) error {
	ownerJSON, err := json.Marshal(reg.Owner)
	if err != nil {
		return fmt.Errorf("df: marshal owner: %w", err)
	}
	svcJSON, err := json.Marshal(reg.Service)
	if err != nil {
		return fmt.Errorf("df: marshal service: %w", err)
	}

	var leaseStr any
	if reg.LeaseExpiry != nil {
		leaseStr = reg.LeaseExpiry.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(
		`INSERT INTO registrations (owner_name, service_name, owner, service, registered_at, lease_expiry)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_name, service_name) DO UPDATE SET
			owner=excluded.owner, service=excluded.service,
			registered_at=excluded.registered_at, lease_expiry=excluded.lease_expiry`,
		reg.Owner.Name, reg.Service.Name, string(ownerJSON), string(svcJSON),
		reg.RegisteredAt.UTC().Format(time.RFC3339Nano), leaseStr,
	)
	if err != nil {
		return fmt.Errorf("df: persist registration %s/%s: %w", reg.Owner.Name, reg.Service.Name, err)
	}
	return nil
}

// Delete removes ownerName's registration of serviceName.
func (s *Store) Delete(_ context.Context, ownerName, serviceName string) error {
	_, err := s.db.Exec("DELETE FROM registrations WHERE owner_name = ? AND service_name = ?", ownerName, serviceName)
	if err != nil {
		return fmt.Errorf("df: delete registration %s/%s: %w", ownerName, serviceName, err)
	}
	return nil
}

// LoadAll reads every persisted registration back, ordered by
// registration time.
func (s *Store) LoadAll(_ context.Context) ([]domain.ServiceRegistration, error) {
	rows, err := s.db.Query("SELECT owner, service, registered_at, lease_expiry FROM registrations ORDER BY registered_at")
	if err != nil {
		return nil, fmt.Errorf("df: list registrations: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceRegistration
	for rows.Next() {
		var ownerJSON, svcJSON, registeredStr string
		var leaseStr sql.NullString
		if err := rows.Scan(&ownerJSON, &svcJSON, &registeredStr, &leaseStr); err != nil {
			return nil, fmt.Errorf("df: scan registration: %w", err)
		}

		var reg domain.ServiceRegistration
		if err := json.Unmarshal([]byte(ownerJSON), &reg.Owner); err != nil {
			return nil, fmt.Errorf("df: unmarshal owner: %w", err)
		}
		if err := json.Unmarshal([]byte(svcJSON), &reg.Service); err != nil {
			return nil, fmt.Errorf("df: unmarshal service: %w", err)
		}
		reg.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredStr)
		if leaseStr.Valid {
			expiry, err := time.Parse(time.RFC3339Nano, leaseStr.String)
			if err == nil {
				reg.LeaseExpiry = &expiry
			}
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}
