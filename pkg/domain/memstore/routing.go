package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// RuleStore is an in-memory, per-tenant routing.RuleStore.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string][]*domain.RoutingRule // tenantID -> rules
}

// NewRuleStore builds an empty RuleStore.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string][]*domain.RoutingRule)}
}

// Put inserts or replaces r, keyed by its ID.
func (s *RuleStore) Put(r *domain.RoutingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.rules[r.TenantID]
	for i, existing := range list {
		if existing.ID == r.ID {
			list[i] = r
			return
		}
	}
	s.rules[r.TenantID] = append(list, r)
}

// ActiveRules returns tenantID's active rules sorted by Priority ascending
// (spec.md §4.10 step 1).
func (s *RuleStore) ActiveRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*domain.RoutingRule
	for _, r := range s.rules[tenantID] {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
	return active, nil
}

// DepartmentStore is an in-memory, per-tenant routing.DepartmentStore.
type DepartmentStore struct {
	mu    sync.RWMutex
	depts map[string][]*domain.Department
}

// NewDepartmentStore builds an empty DepartmentStore.
func NewDepartmentStore() *DepartmentStore {
	return &DepartmentStore{depts: make(map[string][]*domain.Department)}
}

// Put inserts or replaces d, keyed by its ID.
func (s *DepartmentStore) Put(d *domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.depts[d.TenantID]
	for i, existing := range list {
		if existing.ID == d.ID {
			list[i] = d
			return
		}
	}
	s.depts[d.TenantID] = append(list, d)
}

// ByTenant returns all departments for tenantID.
func (s *DepartmentStore) ByTenant(ctx context.Context, tenantID string) ([]*domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Department, len(s.depts[tenantID]))
	copy(out, s.depts[tenantID])
	return out, nil
}

// WorkerStore is an in-memory, per-tenant routing.WorkerStore. Increment/
// Decrement hold the store's single mutex across the full
// read-modify-write, satisfying the atomicity spec.md §5 requires for
// concurrent reassignments of the same worker.
type WorkerStore struct {
	mu      sync.Mutex
	workers map[string]*domain.Worker // workerID -> worker, across all tenants
	byDept  map[string][]string       // tenantID+"/"+departmentID -> worker IDs
}

// NewWorkerStore builds an empty WorkerStore.
func NewWorkerStore() *WorkerStore {
	return &WorkerStore{
		workers: make(map[string]*domain.Worker),
		byDept:  make(map[string][]string),
	}
}

func deptKey(tenantID, departmentID string) string {
	return tenantID + "/" + departmentID
}

// Put inserts or replaces w, keyed by its ID and indexed by department.
func (s *WorkerStore) Put(w *domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[w.ID]; !exists {
		k := deptKey(w.TenantID, w.DepartmentID)
		s.byDept[k] = append(s.byDept[k], w.ID)
	}
	s.workers[w.ID] = w
}

// ByDepartment returns all workers assigned to (tenantID, departmentID).
func (s *WorkerStore) ByDepartment(ctx context.Context, tenantID, departmentID string) ([]*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byDept[deptKey(tenantID, departmentID)]
	out := make([]*domain.Worker, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.workers[id])
	}
	return out, nil
}

// IncrementTaskCount bumps workerID's CurrentTaskCount by one.
func (s *WorkerStore) IncrementTaskCount(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %q: %w", workerID, domain.ErrNotFound)
	}
	w.CurrentTaskCount++
	return nil
}

// DecrementTaskCount reduces workerID's CurrentTaskCount by one, floored
// at zero (a worker's count should never observably go negative even if
// callers race a decrement past a stale increment).
func (s *WorkerStore) DecrementTaskCount(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %q: %w", workerID, domain.ErrNotFound)
	}
	if w.CurrentTaskCount > 0 {
		w.CurrentTaskCount--
	}
	return nil
}
