// Package audit implements the append-only, tamper-evident audit log (C5,
// spec.md §4.5). Grounded on spec.md §4.5 directly (the algorithm is
// fully specified there); the per-tenant single-writer-lock discipline is
// grounded on tarsy's pkg/events manager, which serializes publishers
// through one mutex held only across the critical section.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// Entry mirrors domain.AuditEntry's shape for the Append call; ID,
// Timestamp, and checksums are computed by the logger.
type Entry struct {
	Action       string
	ActorID      string
	ActorType    string
	ResourceType string
	ResourceID   string
	SubjectID    string
	Details      map[string]any
}

// Store persists appended entries, scoped per tenant, in insertion order.
type Store interface {
	Append(ctx context.Context, tenantID string, e *domain.AuditEntry) error
	List(ctx context.Context, tenantID string) ([]*domain.AuditEntry, error)
}

// Logger appends chained, tamper-evident entries and verifies the chain.
// Per-tenant appends are serialized through a single mutex held only for
// the duration of the previous-checksum read plus the write (spec.md §4.5,
// §5): linearizability is preserved under contention.
type Logger struct {
	store Store
	clock clock.Clock
	log   *slog.Logger

	tenantMu      map[string]*sync.Mutex
	tenantMuGuard sync.Mutex
}

// NewLogger builds an audit Logger over store.
func NewLogger(store Store, c clock.Clock, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{store: store, clock: c, log: log, tenantMu: make(map[string]*sync.Mutex)}
}

func (l *Logger) lockFor(tenantID string) *sync.Mutex {
	l.tenantMuGuard.Lock()
	defer l.tenantMuGuard.Unlock()
	m, ok := l.tenantMu[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenantMu[tenantID] = m
	}
	return m
}

// Append writes a new chained entry for tenantID, per spec.md §4.5:
// checksum = H(id ‖ ISO8601(timestamp) ‖ action ‖ actor_id ‖ resource_id ‖
// previous_checksum), using SHA-256 truncated to the first 16 hex chars.
// The append is atomic with respect to the previous-checksum read.
func (l *Logger) Append(ctx context.Context, tenantID string, e Entry) (*domain.AuditEntry, error) {
	m := l.lockFor(tenantID)
	m.Lock()
	defer m.Unlock()

	prior, err := l.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read prior audit entries: %w", err)
	}
	var previousChecksum string
	if len(prior) > 0 {
		previousChecksum = prior[len(prior)-1].Checksum
	}

	entry := &domain.AuditEntry{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Timestamp:        l.clock.Now(),
		Action:           e.Action,
		ActorID:          e.ActorID,
		ActorType:        e.ActorType,
		ResourceType:     e.ResourceType,
		ResourceID:       e.ResourceID,
		SubjectID:        e.SubjectID,
		Details:          e.Details,
		PreviousChecksum: previousChecksum,
	}
	entry.Checksum = checksum(entry)

	if err := l.store.Append(ctx, tenantID, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// checksum computes the SHA-256-derived chain checksum for e, per
// spec.md §4.5's exact field ordering.
func checksum(e *domain.AuditEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Action, e.ActorID, e.ResourceID, e.PreviousChecksum)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// VerifyResult is the outcome of walking an audit chain for tampering.
type VerifyResult struct {
	Verified      bool
	InvalidEntries []string // entry IDs whose own checksum fails to recompute
	BrokenChains   []BrokenChain
}

// BrokenChain records a link where entry.PreviousChecksum does not match
// its predecessor's Checksum.
type BrokenChain struct {
	EntryID      string
	ExpectedPrev string
	ActualPrev   string
}

// Verify walks the chain FORWARD (oldest to newest), per Design Decision D1
// resolving Open Question 1: for every entry, recompute its own checksum
// and compare its PreviousChecksum against the predecessor's Checksum, in
// insertion order — matching the invariant stated in spec.md §8.
func (l *Logger) Verify(ctx context.Context, tenantID string) (VerifyResult, error) {
	entries, err := l.store.List(ctx, tenantID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("list audit entries: %w", err)
	}

	result := VerifyResult{Verified: true}
	var prevRecomputed string
	for i, e := range entries {
		recomputed := checksum(e)
		if recomputed != e.Checksum {
			result.Verified = false
			result.InvalidEntries = append(result.InvalidEntries, e.ID)
		}
		// Chain links are checked against the RECOMPUTED predecessor
		// checksum, not the stored one: a tampered predecessor whose stored
		// checksum was also rewritten still breaks its successor's link.
		if i > 0 && e.PreviousChecksum != prevRecomputed {
			result.Verified = false
			result.BrokenChains = append(result.BrokenChains, BrokenChain{
				EntryID:      e.ID,
				ExpectedPrev: prevRecomputed,
				ActualPrev:   e.PreviousChecksum,
			})
		}
		prevRecomputed = recomputed
	}
	if !result.Verified {
		l.log.Error("audit chain verification failed", "tenant_id", tenantID, "invalid_entries", result.InvalidEntries, "broken_chains", len(result.BrokenChains))
	}
	return result, nil
}
