package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// RecallMetadata names the fields a recall call carries, as string keys,
// in its QueuedCall.Metadata (Design Notes §9).
type RecallMetadata struct {
	CampaignID     string
	CampaignTaskID string
	PatientID      string
}

// RecallTarget is one patient enrolled in a recall campaign, grounded on
// recall.py's RecallPatient.
type RecallTarget struct {
	PatientID     string
	Name          string
	Phone         string
	Status        domain.CampaignTaskStatus
	Attempts      int
	NextAttempt   *time.Time
	AppointmentID string
}

// RecallList is the campaign-scoped patient roster a recall campaign
// iterates (recall.py's RecallCampaign + its enrolled RecallPatient rows).
// A real deployment builds this from patient-record criteria (age,
// condition, last-visit); that enrollment logic lives with the EHR
// collaborator, out of this module's scope (spec.md §1).
type RecallList interface {
	PendingTargets(ctx context.Context, tenantID, campaignID string, now time.Time) ([]RecallTarget, error)
	UpdateTarget(ctx context.Context, tenantID, campaignID string, target RecallTarget) error
}

// RecallStats mirrors the counters a get_reminder_stats-shaped snapshot
// would carry for a recall campaign.
type RecallStats struct {
	Enrolled        int
	CallsAttempted  int
	AppointmentMade int
	Declined        int
	Unreachable     int
}

// RecallWorkflow runs the patient/client recall campaign (spec.md §4.9,
// grounded on original_source's recall.py).
type RecallWorkflow struct {
	base
	list   RecallList
	cfg    *config.RecallConfig
	stats  RecallStats

	paused map[string]bool // campaignID -> paused
}

// NewRecallWorkflow builds a RecallWorkflow bound to one tenant.
func NewRecallWorkflow(deps Deps, list RecallList, cfg *config.RecallConfig) *RecallWorkflow {
	return &RecallWorkflow{
		base:   newBase(deps),
		list:   list,
		cfg:    cfg,
		paused: make(map[string]bool),
	}
}

// StartCalling enumerates campaignID's pending/due targets and queues one
// call per target respecting maxCalls (0 = unbounded), per spec.md §4.12's
// start_recall_calling.
func (w *RecallWorkflow) StartCalling(ctx context.Context, campaignID string, maxCalls int) (RecallStats, error) {
	now := w.clock.Now()
	targets, err := w.list.PendingTargets(ctx, w.tenantID, campaignID, now)
	if err != nil {
		return RecallStats{}, fmt.Errorf("list recall targets: %w", err)
	}

	queued := 0
	for _, t := range targets {
		if maxCalls > 0 && queued >= maxCalls {
			break
		}
		if w.isPaused(campaignID) {
			break
		}
		if !w.checkConsent(ctx, t.PatientID, "recall_campaign") {
			continue
		}
		if t.Phone == "" {
			continue
		}
		w.queueRecallCall(ctx, campaignID, t, t.Attempts)
		queued++
	}

	w.bumpStat(func(s *RecallStats) { s.Enrolled += len(targets) })
	return w.Stats(), nil
}

func (w *RecallWorkflow) queueRecallCall(ctx context.Context, campaignID string, t RecallTarget, attempt int) {
	task := w.newTask(domain.CampaignRecall, "", t.PatientID)
	meta := map[string]string{
		"campaign_id":      campaignID,
		"campaign_task_id": task.ID,
		"patient_id":       t.PatientID,
	}
	// recall.py's RecallPatient carries a fixed 0-10 urgency scale with no
	// time-decay term; CallPriority's four buckets collapse onto "normal"
	// here since recall calls are, by construction, not time-critical the
	// way reminder/no-show calls are.
	w.dialer.QueueCall(w.tenantID, t.PatientID, t.Phone, "recall", domain.PriorityNormal, meta, func(result domain.CallResult) {
		w.post(func() { w.handleResult(ctx, campaignID, t, result, attempt) })
	})
	w.bumpStat(func(s *RecallStats) { s.CallsAttempted++ })
}

// handleResult interprets a recall call's outcome against recall.py's
// complete_attempt: APPOINTMENT_MADE and DECLINED are terminal;
// UNREACHABLE reschedules next_attempt = now + days_between_attempts while
// attempts remain, else goes terminal unreachable; any other outcome is a
// non-terminal "contacted" update.
func (w *RecallWorkflow) handleResult(ctx context.Context, campaignID string, t RecallTarget, result domain.CallResult, attempt int) {
	t.Attempts = attempt + 1
	now := w.clock.Now()

	switch result.Outcome {
	case domain.OutcomeAppointmentMade:
		t.Status = domain.CampaignCompleted
		t.AppointmentID = result.Reason
		w.bumpStat(func(s *RecallStats) { s.AppointmentMade++ })

	case domain.OutcomeDeclined:
		t.Status = domain.CampaignCancelled
		w.bumpStat(func(s *RecallStats) { s.Declined++ })

	case domain.OutcomeNoAnswer, domain.OutcomeUnreachable, domain.OutcomeAbandoned:
		w.bumpStat(func(s *RecallStats) { s.Unreachable++ })
		if t.Attempts < w.cfg.MaxAttempts && !w.isPaused(campaignID) {
			next := now.Add(time.Duration(w.cfg.DaysBetweenRetry) * 24 * time.Hour)
			t.Status = domain.CampaignNoAnswer
			t.NextAttempt = &next
			if err := w.list.UpdateTarget(ctx, w.tenantID, campaignID, t); err != nil {
				w.log.Error("recall target update failed", "patient_id", t.PatientID, "error", err)
			}
			w.logTransition(ctx, "recall_retry_scheduled", t.PatientID, map[string]any{"campaign_id": campaignID, "next_attempt": next})
			return
		}
		t.Status = domain.CampaignFailed

	default:
		t.Status = domain.CampaignCalling // "contacted", non-terminal
	}

	if err := w.list.UpdateTarget(ctx, w.tenantID, campaignID, t); err != nil {
		w.log.Error("recall target update failed", "patient_id", t.PatientID, "error", err)
	}
	w.logTransition(ctx, "recall_call_completed", t.PatientID, map[string]any{
		"campaign_id": campaignID, "outcome": string(result.Outcome), "attempts": t.Attempts,
	})
}

func (w *RecallWorkflow) isPaused(campaignID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused[campaignID]
}

// Pause halts further enrollment/retry scheduling for campaignID; calls
// already queued with the Dialer still complete (spec.md §4.12 pause_recall).
func (w *RecallWorkflow) Pause(campaignID string) {
	w.mu.Lock()
	w.paused[campaignID] = true
	w.mu.Unlock()
}

// Resume re-allows enrollment/retry scheduling for campaignID.
func (w *RecallWorkflow) Resume(campaignID string) {
	w.mu.Lock()
	w.paused[campaignID] = false
	w.mu.Unlock()
}

// bumpStat applies fn to the stats struct under the shared mutex.
func (w *RecallWorkflow) bumpStat(fn func(*RecallStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Stats returns a snapshot of the campaign's running counters.
func (w *RecallWorkflow) Stats() RecallStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Stop drains any in-flight callbacks before returning.
func (w *RecallWorkflow) Stop() { w.stop() }
