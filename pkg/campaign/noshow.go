package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// NoShowMetadata names the fields a no-show follow-up call carries, as
// string keys, in its QueuedCall.Metadata (Design Notes §9).
type NoShowMetadata struct {
	CampaignTaskID string
	AppointmentID  string
	PatientID      string
}

// noShowBarrierReasons are the reason codes that, per spec.md §4.9, force
// BARRIER_IDENTIFIED classification and needs_manual_followup=true
// regardless of whether the patient also agreed to reschedule. Grounded on
// noshow_workflow.py's barrier_reasons list.
var noShowBarrierReasons = map[string]bool{
	"transportation": true,
	"childcare":      true,
	"work":           true,
}

// acuteAppointmentTypes get HIGH priority unconditionally, per
// noshow_workflow.py's NoShowFollowupTask.priority.
var acuteAppointmentTypes = map[string]bool{
	"acute":      true,
	"specialist": true,
}

// NoShowStats mirrors noshow_workflow.py's NoShowStats.
type NoShowStats struct {
	TotalMissed        int
	CallsAttempted     int
	Rescheduled        int
	Declined           int
	Unreachable        int
	BarriersIdentified int
	NeedsFollowup      int
}

// RescheduleRate is Rescheduled / CallsAttempted as a percentage (0-100),
// 0 when no calls were made.
func (s NoShowStats) RescheduleRate() float64 {
	if s.CallsAttempted == 0 {
		return 0
	}
	return float64(s.Rescheduled) / float64(s.CallsAttempted) * 100
}

// NoShowPriority implements noshow_workflow.py's NoShowFollowupTask.priority:
// acute/specialist appointment types always get HIGH; otherwise priority
// decays with elapsed time since the missed slot.
func NoShowPriority(appointmentType string, hoursSinceMissed float64) domain.CallPriority {
	if acuteAppointmentTypes[appointmentType] {
		return domain.PriorityHigh
	}
	switch {
	case hoursSinceMissed < 4:
		return domain.PriorityHigh
	case hoursSinceMissed < 24:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// NoShowWorkflow runs the missed-appointment follow-up campaign (spec.md
// §4.9, grounded on original_source's outbound/noshow_workflow.py).
type NoShowWorkflow struct {
	base
	appts AppointmentStore
	pts   PatientStore
	cfg   *config.NoShowConfig
	stats NoShowStats
}

// NewNoShowWorkflow builds a NoShowWorkflow bound to one tenant.
func NewNoShowWorkflow(deps Deps, appts AppointmentStore, pts PatientStore, cfg *config.NoShowConfig) *NoShowWorkflow {
	return &NoShowWorkflow{
		base:  newBase(deps),
		appts: appts,
		pts:   pts,
		cfg:   cfg,
	}
}

// NoShowOptions parameterizes one follow-up run (spec.md §4.12's
// process_no_shows inputs). Zero hour bounds fall back to configuration.
type NoShowOptions struct {
	MinHoursAfter int
	MaxHoursAfter int
}

// ProcessNoShows enumerates missed appointments within
// [now-MaxHoursAfter, now-MinHoursAfter] and queues one follow-up call per
// eligible appointment (spec.md §4.9's emission window). Unlike the
// reminder workflow, no-show follow-up has no explicit retry schedule: an
// appointment that goes unreached simply falls back into this same
// enumeration window on the next poll, until it ages past MaxHoursAfter.
func (w *NoShowWorkflow) ProcessNoShows(ctx context.Context, opts NoShowOptions) (NoShowStats, error) {
	now := w.clock.Now()
	minHours, maxHours := w.cfg.MinHoursAfter, w.cfg.MaxHoursAfter
	if opts.MinHoursAfter > 0 {
		minHours = opts.MinHoursAfter
	}
	if opts.MaxHoursAfter > 0 {
		maxHours = opts.MaxHoursAfter
	}
	windowStart := now.Add(-time.Duration(maxHours) * time.Hour)
	windowEnd := now.Add(-time.Duration(minHours) * time.Hour)

	appts, err := w.appts.ListInWindow(ctx, w.tenantID, windowStart, windowEnd)
	if err != nil {
		return NoShowStats{}, fmt.Errorf("list missed appointments: %w", err)
	}

	for _, appt := range appts {
		w.enqueueFollowup(ctx, appt, now)
	}

	w.bumpStat(func(s *NoShowStats) { s.TotalMissed += len(appts) })
	return w.Stats(), nil
}

func (w *NoShowWorkflow) enqueueFollowup(ctx context.Context, appt domain.Appointment, now time.Time) {
	if !w.checkConsent(ctx, appt.PatientID, "noshow_followup") {
		return
	}
	patient, err := w.pts.Get(ctx, w.tenantID, appt.PatientID)
	if err != nil || patient.Phone == "" {
		return
	}

	task := w.newTask(domain.CampaignNoShow, appt.ID, appt.PatientID)
	hoursSince := now.Sub(appt.End).Hours()
	w.queueFollowupCall(ctx, task, appt, patient, hoursSince)
}

func (w *NoShowWorkflow) queueFollowupCall(ctx context.Context, task *domain.CampaignTask, appt domain.Appointment, patient domain.Patient, hoursSince float64) {
	meta := map[string]string{
		"campaign_task_id": task.ID,
		"appointment_id":   appt.ID,
		"patient_id":       patient.ID,
	}
	priority := NoShowPriority(appt.Type, hoursSince)

	w.dialer.QueueCall(w.tenantID, patient.ID, patient.Phone, "no_show", priority, meta, func(result domain.CallResult) {
		w.post(func() { w.handleResult(ctx, task, appt, patient, result) })
	})
	w.bumpStat(func(s *NoShowStats) { s.CallsAttempted++ })
}

// handleResult interprets a no-show follow-up outcome (spec.md §4.9): any
// reason in noShowBarrierReasons forces BARRIER_IDENTIFIED and
// needs_manual_followup even when the patient also rescheduled, grounded on
// noshow_workflow.py's _handle_call_result barrier-reason override.
func (w *NoShowWorkflow) handleResult(ctx context.Context, task *domain.CampaignTask, appt domain.Appointment, patient domain.Patient, result domain.CallResult) {
	task.Attempts++
	task.UpdatedAt = w.clock.Now()
	task.LastOutcome = string(result.Outcome)

	needsManual := false
	isBarrier := noShowBarrierReasons[result.Reason]

	switch result.Outcome {
	case domain.OutcomeRescheduled, domain.OutcomeConfirmed:
		task.Status = domain.CampaignRescheduled
		w.bumpStat(func(s *NoShowStats) { s.Rescheduled++ })

	case domain.OutcomeDeclined:
		task.Status = domain.CampaignCancelled
		w.bumpStat(func(s *NoShowStats) { s.Declined++ })

	case domain.OutcomeBarrierIdentified:
		isBarrier = true

	case domain.OutcomeNoAnswer, domain.OutcomeUnreachable, domain.OutcomeAbandoned:
		w.bumpStat(func(s *NoShowStats) { s.Unreachable++ })
		task.Status = domain.CampaignNoAnswer

	default:
		task.Status = domain.CampaignFailed
	}

	if isBarrier {
		needsManual = true
		task.Status = domain.CampaignCompleted
		task.LastOutcome = string(domain.OutcomeBarrierIdentified)
		w.bumpStat(func(s *NoShowStats) { s.BarriersIdentified++ })
	}
	if needsManual {
		w.bumpStat(func(s *NoShowStats) { s.NeedsFollowup++ })
	}

	w.logTransition(ctx, "noshow_call_completed", task.PatientID, map[string]any{
		"task_id": task.ID, "outcome": string(result.Outcome), "reason": result.Reason,
		"needs_manual_followup": needsManual,
	})
}

// bumpStat applies fn to the stats struct under the shared mutex.
func (w *NoShowWorkflow) bumpStat(fn func(*NoShowStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Stats returns a snapshot of the campaign's running counters.
func (w *NoShowWorkflow) Stats() NoShowStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Stop drains any in-flight callbacks before returning.
func (w *NoShowWorkflow) Stop() { w.stop() }
