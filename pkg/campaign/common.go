// Package campaign implements the three outbound campaign workflows (C9,
// spec.md §4.9): appointment reminders, patient/client recall, and no-show
// follow-up. Grounded on original_source's reminder_workflow.py,
// recall.py, and outbound/noshow_workflow.py, each of which shares the
// same enumerate -> filter -> queue -> interpret outcome -> emit SMS ->
// log pattern this package factors into common.go, mirroring tarsy's
// one-file-per-concern layout under pkg/services.
package campaign

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handwerkcall/phoneagent/pkg/audit"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/consent"
	"github.com/handwerkcall/phoneagent/pkg/delivery"
	"github.com/handwerkcall/phoneagent/pkg/dialer"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/masking"
)

// Deps bundles the collaborators shared by all three workflow
// constructors, so adding a new shared dependency touches one struct
// instead of every constructor's signature.
type Deps struct {
	TenantID string
	Dialer   Dialer
	Consent  *consent.Store
	Audit    *audit.Logger
	SMS      *delivery.Machine
	Clock    clock.Clock
	Masker   *masking.Service
	Log      *slog.Logger
}

// Dialer is the subset of *dialer.Dialer the workflows consume; declared as
// an interface here so workflow tests can inject a fake instead of a live
// dispatch loop.
type Dialer interface {
	QueueCall(tenantID, patientID, phone, callType string, priority domain.CallPriority, metadata map[string]string, callback func(domain.CallResult)) string
}

var _ Dialer = (*dialer.Dialer)(nil)

// base bundles the collaborators every campaign workflow shares: the
// outbound dialer, consent store, audit logger, SMS delivery machine, and
// the task-store/stats accumulation pattern run on a single goroutine per
// spec.md §5 ("campaign statistics are accumulated by a single workflow
// task per campaign; callbacks ... post to a channel that the workflow
// task drains sequentially").
type base struct {
	tenantID string
	dialer   Dialer
	consent  *consent.Store
	audit    *audit.Logger
	sms      *delivery.Machine
	clock    clock.Clock
	masker   *masking.Service
	log      *slog.Logger

	mu    sync.Mutex
	tasks map[string]*domain.CampaignTask

	results chan func()
	done    chan struct{}
}

func newBase(deps Deps) base {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	b := base{
		tenantID: deps.TenantID,
		dialer:   deps.Dialer,
		consent:  deps.Consent,
		audit:    deps.Audit,
		sms:      deps.SMS,
		clock:    deps.Clock,
		masker:   deps.Masker,
		log:      log,
		tasks:    make(map[string]*domain.CampaignTask),
		results:  make(chan func(), 256),
		done:     make(chan struct{}),
	}
	go b.drain()
	return b
}

// drain is the single goroutine that interprets call outcomes for this
// workflow instance; QueueCall's ResultCallback posts a closure here so
// outcomes are handled one at a time in arrival order (spec.md §5). Stat
// counters are also touched from the caller's goroutine (queueing, Stats),
// so they stay guarded by mu.
func (b *base) drain() {
	defer close(b.done)
	for fn := range b.results {
		fn()
	}
}

// stop closes the result channel and waits for the drain goroutine to
// finish processing anything already queued.
func (b *base) stop() {
	close(b.results)
	<-b.done
}

func (b *base) newTask(kind domain.CampaignKind, appointmentID, patientID string) *domain.CampaignTask {
	now := b.clock.Now()
	t := &domain.CampaignTask{
		ID:            uuid.NewString(),
		TenantID:      b.tenantID,
		Kind:          kind,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Status:        domain.CampaignPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.mu.Lock()
	b.tasks[t.ID] = t
	b.mu.Unlock()
	return t
}

func (b *base) Task(id string) *domain.CampaignTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasks[id]
}

// logTransition appends one audit entry for a campaign task's status
// change (spec.md §4.9 step 7). Audit failures are logged, never escalated
// into workflow failure: the call outcome itself is the thing that must
// not be lost.
func (b *base) logTransition(ctx context.Context, action, subjectID string, details map[string]any) {
	if b.audit == nil {
		return
	}
	if _, err := b.audit.Append(ctx, b.tenantID, audit.Entry{
		Action:       action,
		ActorType:    "system",
		ActorID:      "campaign_workflow",
		ResourceType: "campaign_task",
		SubjectID:    subjectID,
		Details:      details,
	}); err != nil {
		b.log.Error("campaign audit append failed", "action", action, "error", err)
	}
}

// checkConsent reports whether subjectID has a valid consent for purpose,
// logging (but not failing the caller) when it is missing so the skip is
// traceable (spec.md §4.9 step 2).
func (b *base) checkConsent(ctx context.Context, subjectID, purpose string) bool {
	if b.consent == nil {
		return true
	}
	ok := b.consent.Check(b.tenantID, subjectID, purpose)
	if !ok {
		b.logTransition(ctx, "consent_missing", subjectID, map[string]any{"purpose": purpose})
	}
	return ok
}

// sendSMS sends one SMS through the shared delivery state machine
// (spec.md §4.9 step 6), logging failures but never blocking the
// workflow's outcome handling on the gateway.
func (b *base) sendSMS(ctx context.Context, recipient, body, template string) {
	if b.sms == nil || recipient == "" {
		return
	}
	msg := b.sms.Enqueue(ctx, b.tenantID, domain.ChannelSMS, "", recipient, body, template, 2)
	if err := b.sms.Send(ctx, msg); err != nil {
		b.log.Warn("campaign fallback sms failed", "recipient", b.maskPII(recipient), "error", err)
	}
}

// maskPII redacts phone numbers/addresses before they reach a log line.
func (b *base) maskPII(s string) string {
	if b.masker == nil {
		return s
	}
	return b.masker.Mask(s)
}

// post runs fn on the workflow's single drain goroutine; callers invoke it
// from a Dialer ResultCallback (which may run on any dispatch-loop
// goroutine) to serialize access to tasks/stats.
func (b *base) post(fn func()) {
	b.results <- fn
}

// retryAt computes a task's next attempt time, never scheduling past a
// hard ceiling (for reminders, min_hours_before ahead of the appointment
// start); callers pass time.Time{} for "no ceiling".
func retryAt(now time.Time, delay time.Duration, ceiling time.Time) (time.Time, bool) {
	next := now.Add(delay)
	if !ceiling.IsZero() && next.After(ceiling) {
		return time.Time{}, false
	}
	return next, true
}
