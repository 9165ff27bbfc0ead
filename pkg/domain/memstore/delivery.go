package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// DeliveryStore is an in-memory delivery.Store keyed by message id, with a
// secondary index on provider message id for webhook lookups.
type DeliveryStore struct {
	mu          sync.RWMutex
	byID        map[string]*domain.DeliveryMessage
	byProvider  map[string]string // providerMessageID -> id
}

// NewDeliveryStore builds an empty DeliveryStore.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{
		byID:       make(map[string]*domain.DeliveryMessage),
		byProvider: make(map[string]string),
	}
}

// Save upserts m, refreshing the provider-message-id index if set.
func (s *DeliveryStore) Save(ctx context.Context, m *domain.DeliveryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.ID] = m
	if m.ProviderMessageID != "" {
		s.byProvider[m.ProviderMessageID] = m.ID
	}
	return nil
}

// Get returns the message with id, or nil if not found.
func (s *DeliveryStore) Get(ctx context.Context, id string) (*domain.DeliveryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id], nil
}

// GetByProviderMessageID returns the message with providerMessageID, or nil
// if no message has been saved with that id yet.
func (s *DeliveryStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerMessageID]
	if !ok {
		return nil, nil
	}
	return s.byID[id], nil
}

// Retryable returns every pending message whose NextRetryAt is set and has
// elapsed, for the sweeper's scan (pkg/delivery's Sweeper).
func (s *DeliveryStore) Retryable(ctx context.Context, now time.Time) ([]*domain.DeliveryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.DeliveryMessage
	for _, m := range s.byID {
		if m.Status == domain.StatusPending && m.NextRetryAt != nil && !m.NextRetryAt.After(now) {
			out = append(out, m)
		}
	}
	return out, nil
}
