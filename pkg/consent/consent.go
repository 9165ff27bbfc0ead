// Package consent implements the per-subject, per-purpose consent store
// (C6, spec.md §4.6). Grounded on
// original_source/.../gesundheit/compliance.py's ConsentManager: each grant
// is appended as a new entry and entries are never deleted; withdrawal
// updates the withdrawn entry's status and timestamp in place.
package consent

import (
	"sync"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/google/uuid"
)

// Store is an in-memory, append-only consent history keyed by
// (tenant, subject, purpose). check scans the most recent entry only,
// per spec.md §4.6.
type Store struct {
	clock clock.Clock

	mu      sync.Mutex
	history map[string][]*domain.Consent // key: tenantID+"/"+subjectID+"/"+purpose
}

// NewStore builds an empty consent store.
func NewStore(c clock.Clock) *Store {
	return &Store{clock: c, history: make(map[string][]*domain.Consent)}
}

func key(tenantID, subjectID, purpose string) string {
	return tenantID + "/" + subjectID + "/" + purpose
}

// Grant records a new granted consent, optionally expiring after duration.
// A zero duration means no expiry.
func (s *Store) Grant(tenantID, subjectID, purpose, grantedBy string, duration time.Duration) *domain.Consent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c := &domain.Consent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		SubjectID: subjectID,
		Purpose:   purpose,
		Status:    domain.ConsentGranted,
		GrantedBy: grantedBy,
		GrantedAt: now,
	}
	if duration > 0 {
		exp := now.Add(duration)
		c.ExpiresAt = &exp
	}
	k := key(tenantID, subjectID, purpose)
	s.history[k] = append(s.history[k], c)
	return c
}

// Withdraw marks the most recent granted consent for (subject, purpose) as
// withdrawn. It never deletes history; it returns nil if no granted consent
// exists to withdraw.
func (s *Store) Withdraw(tenantID, subjectID, purpose string) *domain.Consent {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, subjectID, purpose)
	entries := s.history[k]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == domain.ConsentGranted {
			now := s.clock.Now()
			entries[i].Status = domain.ConsentWithdrawn
			entries[i].WithdrawnAt = &now
			return entries[i]
		}
	}
	return nil
}

// Check reports whether a granted, non-expired consent exists for
// (subject, purpose), per spec.md §4.6 and the invariant in spec.md §8:
// "check(subject, purpose) returns true iff the most recent consent with
// that pair has status=granted and is not expired."
func (s *Store) Check(tenantID, subjectID, purpose string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, subjectID, purpose)
	entries := s.history[k]
	if len(entries) == 0 {
		return false
	}
	latest := entries[len(entries)-1]
	return latest.IsValid(s.clock.Now())
}

// History returns the full append-only history for (subject, purpose), in
// insertion order, for audit/debugging purposes.
func (s *Store) History(tenantID, subjectID, purpose string) []*domain.Consent {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[key(tenantID, subjectID, purpose)]
	out := make([]*domain.Consent, len(entries))
	copy(out, entries)
	return out
}
