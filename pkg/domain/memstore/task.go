package memstore

import (
	"context"
	"sync"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// TaskStore is an in-memory task repository enforcing the uniqueness of
// (tenant, source_type, source_id) from spec.md §3, so re-polling the same
// mailbox message or replaying the same PBX webhook never duplicates a task.
type TaskStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Task
	bySource map[string]string // tenantID+"/"+sourceType+"/"+sourceID -> task id
	byTenant map[string][]string
}

// NewTaskStore builds an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		byID:     make(map[string]*domain.Task),
		bySource: make(map[string]string),
		byTenant: make(map[string][]string),
	}
}

func sourceKey(tenantID string, sourceType domain.SourceType, sourceID string) string {
	return tenantID + "/" + string(sourceType) + "/" + sourceID
}

// Create inserts t, failing with a Conflict-wrapped error when a task with
// the same (tenant, source_type, source_id) already exists.
func (s *TaskStore) Create(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sourceKey(t.TenantID, t.SourceType, t.SourceID)
	if existing, ok := s.bySource[k]; ok {
		return domain.NewConflictError("task", existing, "duplicate source id "+t.SourceID)
	}
	s.byID[t.ID] = t
	s.bySource[k] = t.ID
	s.byTenant[t.TenantID] = append(s.byTenant[t.TenantID], t.ID)
	return nil
}

// Get returns the task with id within tenantID's scope.
func (s *TaskStore) Get(ctx context.Context, tenantID, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok || t.TenantID != tenantID {
		return nil, domain.NewNotFoundError("task", id)
	}
	return t, nil
}

// BySource returns the task created from (sourceType, sourceID), or a
// NotFound error. (The email intake loop does not call it; it recognizes
// an already processed message by Create's Conflict error.)
func (s *TaskStore) BySource(ctx context.Context, tenantID string, sourceType domain.SourceType, sourceID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySource[sourceKey(tenantID, sourceType, sourceID)]
	if !ok {
		return nil, domain.NewNotFoundError("task", sourceID)
	}
	return s.byID[id], nil
}

// ByTenant returns every task for tenantID in creation order.
func (s *TaskStore) ByTenant(ctx context.Context, tenantID string) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTenant[tenantID]
	out := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}
