// Package memstore provides in-memory reference implementations of every
// Store/Repository collaborator interface the core components declare
// (pkg/audit.Store, pkg/delivery.Store, pkg/routing's Rule/Department/
// WorkerStore, pkg/campaign's Appointment/Patient/RecallList). A real
// deployment backs these with a database (out of this module's scope per
// spec.md §1); this package exists so the core is runnable and testable
// end-to-end without one, mirroring tarsy's pattern of keeping an
// in-memory ConnectionManager (pkg/events/manager.go) as the reference
// state owner before any persistence layer is involved.
package memstore

import (
	"context"
	"sync"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// AuditStore is an in-memory, per-tenant, append-only audit.Store.
type AuditStore struct {
	mu      sync.RWMutex
	entries map[string][]*domain.AuditEntry // tenantID -> entries in insertion order
}

// NewAuditStore builds an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{entries: make(map[string][]*domain.AuditEntry)}
}

// Append appends e to tenantID's chain. Entries are never mutated or
// removed once appended.
func (s *AuditStore) Append(ctx context.Context, tenantID string, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tenantID] = append(s.entries[tenantID], e)
	return nil
}

// List returns tenantID's full chain in insertion order.
func (s *AuditStore) List(ctx context.Context, tenantID string) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[tenantID]
	out := make([]*domain.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ByActionPrefix is a debugging helper (not part of audit.Store) returning
// entries for tenantID whose Action starts with prefix, newest first.
func (s *AuditStore) ByActionPrefix(tenantID, prefix string) []*domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.AuditEntry
	for i := len(s.entries[tenantID]) - 1; i >= 0; i-- {
		e := s.entries[tenantID][i]
		if len(prefix) == 0 || (len(e.Action) >= len(prefix) && e.Action[:len(prefix)] == prefix) {
			out = append(out, e)
		}
	}
	return out
}
