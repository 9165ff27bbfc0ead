package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// ReminderMetadata names the fields a reminder call carries, as string
// keys, in its QueuedCall.Metadata (Design Notes §9, "typed map at
// boundaries"); the workflow itself writes the string map directly.
type ReminderMetadata struct {
	CampaignTaskID string
	AppointmentID  string
	PatientID      string
}

// AppointmentStore is the read/write surface the reminder and no-show
// workflows need from the scheduling collaborator: enumeration plus the
// two bookkeeping writes (confirm, new-appointment link) that are this
// workflow's own, distinct from the conversation driver's direct
// external.Calendar booking side effects.
type AppointmentStore interface {
	ListInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Appointment, error)
	Get(ctx context.Context, tenantID, appointmentID string) (domain.Appointment, error)
	MarkConfirmed(ctx context.Context, tenantID, appointmentID string) error
}

// PatientStore resolves a patient id to contact details.
type PatientStore interface {
	Get(ctx context.Context, tenantID, patientID string) (domain.Patient, error)
}

// ReminderPriority implements spec.md §4.9's reminder priority table:
// hours-until-appointment <=4 -> URGENT, <=12 -> HIGH, <=24 -> NORMAL,
// else LOW. Grounded on reminder_workflow.py's ReminderTask.priority.
func ReminderPriority(hoursUntil float64) domain.CallPriority {
	switch {
	case hoursUntil <= 4:
		return domain.PriorityUrgent
	case hoursUntil <= 12:
		return domain.PriorityHigh
	case hoursUntil <= 24:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// ReminderStats mirrors reminder_workflow.py's ReminderCampaignStats:
// counters plus the two derived rates spec.md §8 expects a reminder
// campaign snapshot to expose.
type ReminderStats struct {
	TotalScheduled int
	CallsAttempted int
	Confirmed      int
	Rescheduled    int
	Cancelled      int
	NoAnswer       int
	Failed         int
}

// ConfirmationRate is Confirmed / CallsAttempted as a percentage (0-100),
// 0 when no calls were made.
func (s ReminderStats) ConfirmationRate() float64 {
	if s.CallsAttempted == 0 {
		return 0
	}
	return float64(s.Confirmed) / float64(s.CallsAttempted) * 100
}

// NoShowPreventionRate approximates reminder_workflow.py's metric: the
// percentage (0-100) of attempted calls that did not end up unconfirmed-and-silent
// (confirmed, rescheduled, or cancelled all count as a prevented no-show,
// since the patient is now accounted for).
func (s ReminderStats) NoShowPreventionRate() float64 {
	if s.CallsAttempted == 0 {
		return 0
	}
	accounted := s.Confirmed + s.Rescheduled + s.Cancelled
	return float64(accounted) / float64(s.CallsAttempted) * 100
}

// ReminderOptions parameterizes one campaign run (spec.md §4.12's
// start_reminder_campaign inputs). Zero values fall back to the workflow's
// configuration.
type ReminderOptions struct {
	// Types restricts the run to these appointment types; empty = all.
	Types []string

	// HoursBefore overrides cfg.HoursBefore for this run when > 0.
	HoursBefore int

	// SMSDisabled suppresses confirmation and fallback SMS for this run.
	SMSDisabled bool
}

// ReminderWorkflow runs the appointment-reminder campaign (spec.md §4.9,
// grounded on original_source's reminder_workflow.py).
type ReminderWorkflow struct {
	base
	appts       AppointmentStore
	pts         PatientStore
	cfg         *config.ReminderConfig
	stats       ReminderStats
	smsDisabled bool
}

// NewReminderWorkflow builds a ReminderWorkflow bound to one tenant.
func NewReminderWorkflow(deps Deps, appts AppointmentStore, pts PatientStore, cfg *config.ReminderConfig) *ReminderWorkflow {
	return &ReminderWorkflow{
		base:  newBase(deps),
		appts: appts,
		pts:   pts,
		cfg:   cfg,
	}
}

// StartCampaign enumerates appointments within the reminder window of now,
// filters by type, consent, and timing, and queues one call per eligible
// appointment (spec.md §4.9 steps 1-4). It returns a snapshot of the
// stats gathered so far (counters fill in asynchronously as calls
// complete).
func (w *ReminderWorkflow) StartCampaign(ctx context.Context, opts ReminderOptions) (ReminderStats, error) {
	now := w.clock.Now()
	hoursBefore := w.cfg.HoursBefore
	if opts.HoursBefore > 0 {
		hoursBefore = opts.HoursBefore
	}
	windowEnd := now.Add(time.Duration(hoursBefore) * time.Hour)

	w.mu.Lock()
	w.smsDisabled = opts.SMSDisabled
	w.mu.Unlock()

	appts, err := w.appts.ListInWindow(ctx, w.tenantID, now, windowEnd)
	if err != nil {
		return ReminderStats{}, fmt.Errorf("list appointments: %w", err)
	}

	scheduled := 0
	for _, appt := range appts {
		if len(opts.Types) > 0 && !containsType(opts.Types, appt.Type) {
			continue
		}
		w.enqueueReminder(ctx, appt, now)
		scheduled++
	}

	w.mu.Lock()
	w.stats.TotalScheduled += scheduled
	snap := w.stats
	w.mu.Unlock()
	return snap, nil
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (w *ReminderWorkflow) enqueueReminder(ctx context.Context, appt domain.Appointment, now time.Time) {
	hoursUntil := appt.Start.Sub(now).Hours()
	if hoursUntil < float64(w.cfg.MinHoursBefore) {
		return
	}
	if !w.checkConsent(ctx, appt.PatientID, "appointment_reminder") {
		return
	}
	patient, err := w.pts.Get(ctx, w.tenantID, appt.PatientID)
	if err != nil || patient.Phone == "" {
		return
	}

	task := w.newTask(domain.CampaignReminder, appt.ID, appt.PatientID)
	w.queueReminderCall(ctx, task, appt, patient, 0, hoursUntil)
}

func (w *ReminderWorkflow) queueReminderCall(ctx context.Context, task *domain.CampaignTask, appt domain.Appointment, patient domain.Patient, attempt int, hoursUntil float64) {
	meta := map[string]string{
		"campaign_task_id": task.ID,
		"appointment_id":   appt.ID,
		"patient_id":       patient.ID,
	}
	priority := ReminderPriority(hoursUntil)

	w.dialer.QueueCall(w.tenantID, patient.ID, patient.Phone, "reminder", priority, meta, func(result domain.CallResult) {
		w.post(func() { w.handleResult(ctx, task, appt, patient, result, attempt) })
	})
	w.mu.Lock()
	w.stats.CallsAttempted++
	w.mu.Unlock()
}

// handleResult interprets a reminder call's outcome (spec.md §4.9 step 5),
// runs on the workflow's single drain goroutine.
func (w *ReminderWorkflow) handleResult(ctx context.Context, task *domain.CampaignTask, appt domain.Appointment, patient domain.Patient, result domain.CallResult, attempt int) {
	task.Attempts++
	task.UpdatedAt = w.clock.Now()
	task.LastOutcome = string(result.Outcome)

	retry := false
	var nextAttempt time.Time

	switch result.Outcome {
	case domain.OutcomeConfirmed:
		task.Status = domain.CampaignCompleted
		w.bumpStat(func(s *ReminderStats) { s.Confirmed++ })
		if err := w.appts.MarkConfirmed(ctx, w.tenantID, appt.ID); err != nil {
			w.log.Error("mark appointment confirmed failed", "appointment_id", appt.ID, "error", err)
		}
		if w.smsAllowed() {
			w.sendSMS(ctx, patient.Phone, fmt.Sprintf("Ihr Termin am %s ist bestätigt. Wir freuen uns auf Sie!", appt.Start.Format("02.01. um 15:04")), "reminder_confirmation")
		}

	case domain.OutcomeRescheduled:
		task.Status = domain.CampaignRescheduled
		w.bumpStat(func(s *ReminderStats) { s.Rescheduled++ })
		// The conversation driver's book_slot side effect already booked the
		// new slot and sent any confirming SMS (spec.md §4.9 "no SMS here");
		// result.Reason carries the new appointment id it stored there.
		if result.Reason != "" {
			task.AppointmentID = result.Reason
		}

	case domain.OutcomeCancelled:
		task.Status = domain.CampaignCancelled
		w.bumpStat(func(s *ReminderStats) { s.Cancelled++ })

	case domain.OutcomeNoAnswer, domain.OutcomeUnreachable, domain.OutcomeAbandoned:
		w.bumpStat(func(s *ReminderStats) { s.NoAnswer++ })
		if attempt+1 < w.cfg.MaxAttempts {
			next, ok := retryAt(w.clock.Now(), time.Duration(w.cfg.RetryDelayMinutes)*time.Minute<<attempt, appt.Start.Add(-time.Duration(w.cfg.MinHoursBefore)*time.Hour))
			if ok {
				task.Status = domain.CampaignNoAnswer
				task.NextAttemptAt = &next
				retry, nextAttempt = true, next
			}
		}
		if !retry {
			task.Status = domain.CampaignFailed
			w.bumpStat(func(s *ReminderStats) { s.Failed++ })
			if attempt+1 >= w.cfg.SMSAfterFailedAttempts && w.smsAllowed() {
				w.sendSMS(ctx, patient.Phone, "Wir konnten Sie zu Ihrem bevorstehenden Termin nicht erreichen. Bitte rufen Sie uns zurück.", "reminder_fallback")
			}
		}

	default:
		task.Status = domain.CampaignFailed
		w.bumpStat(func(s *ReminderStats) { s.Failed++ })
	}

	// Every attempt gets a completion event, retried or not, so the audit
	// trail counts attempts one-to-one.
	w.logTransition(ctx, "reminder_call_completed", task.PatientID, map[string]any{
		"task_id": task.ID, "outcome": string(result.Outcome), "attempts": task.Attempts,
	})
	if retry {
		w.queueReminderCall(ctx, task, appt, patient, attempt+1, appt.Start.Sub(nextAttempt).Hours())
		w.logTransition(ctx, "reminder_retry_scheduled", task.PatientID, map[string]any{"task_id": task.ID, "next_attempt_at": nextAttempt})
	}
}

func (w *ReminderWorkflow) smsAllowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.smsDisabled
}

// bumpStat applies fn to the stats struct under the shared mutex so
// concurrent StartCampaign/Stats/handleResult calls never race.
func (w *ReminderWorkflow) bumpStat(fn func(*ReminderStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

// Stats returns a snapshot of the campaign's running counters.
func (w *ReminderWorkflow) Stats() ReminderStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Stop drains any in-flight callbacks before returning.
func (w *ReminderWorkflow) Stop() { w.stop() }
