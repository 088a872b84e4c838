// Package transport implements the platform's message transport layer:
// a registry of pluggable MTPs (domain.MTP) keyed by URL scheme, and the
// Agent Communication Channel that routes every outbound/inbound
// envelope through them.
package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fipacore/platform/internal/domain"
)

// Registry holds every MTP this node has activated, keyed by the URL
// schemes each one serves (one MTP may claim several schemes), grounded
// on the teacher's multiagent.Registry (mutex-guarded map, sorted
// listing) generalized from agent instances to transports.
type Registry struct {
	mu   sync.RWMutex
	byScheme map[string]domain.MTP
	byName   map[string]domain.MTP
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		byScheme: make(map[string]domain.MTP),
		byName:   make(map[string]domain.MTP),
	}
}

// Activate brings mtp up with config and registers it under every scheme
// it reports serving.
func (r *Registry) Activate(ctx context.Context, mtp domain.MTP, config map[string]string) error {
	if err := mtp.Activate(ctx, config); err != nil {
		return fmt.Errorf("transport: activate %s: %w", mtp.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[mtp.Name()] = mtp
	for _, scheme := range mtp.Schemes() {
		r.byScheme[scheme] = mtp
	}
	return nil
}

// Deactivate stops the named MTP and removes it from the registry.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	r.mu.Lock()
	mtp, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: mtp %s", domain.ErrNotFound, name)
	}
	delete(r.byName, name)
	for scheme, m := range r.byScheme {
		if m == mtp {
			delete(r.byScheme, scheme)
		}
	}
	r.mu.Unlock()

	return mtp.Deactivate(ctx)
}

// ForScheme returns the MTP registered for scheme, if any.
func (r *Registry) ForScheme(scheme string) (domain.MTP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mtp, ok := r.byScheme[scheme]
	return mtp, ok
}

// All returns every active MTP, sorted by name.
func (r *Registry) All() []domain.MTP {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mtps := make([]domain.MTP, 0, len(r.byName))
	for _, mtp := range r.byName {
		mtps = append(mtps, mtp)
	}
	sort.Slice(mtps, func(i, j int) bool { return mtps[i].Name() < mtps[j].Name() })
	return mtps
}

// Stats returns every active MTP's counters, keyed by name.
func (r *Registry) Stats() map[string]domain.MTPStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.MTPStats, len(r.byName))
	for name, mtp := range r.byName {
		out[name] = mtp.Stats()
	}
	return out
}
