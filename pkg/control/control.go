// Package control implements the Public Control Surface (C12, spec.md
// §4.12): the command API an out-of-scope HTTP shell binds to. One method
// per command, composing the dialer, campaign workflows, and delivery
// state machines; errors are surfaced with a stable kind tag via Kind so
// the shell never has to parse messages. Style grounded on tarsy's
// pkg/services facade structs (one service per concern, typed results).
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/campaign"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/delivery"
	"github.com/handwerkcall/phoneagent/pkg/dialer"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// Service is the command facade one tenant's shell talks to.
type Service struct {
	tenantID string
	dialer   *dialer.Dialer
	reminder *campaign.ReminderWorkflow
	recall   *campaign.RecallWorkflow
	noshow   *campaign.NoShowWorkflow
	sms      *delivery.Machine
	email    *delivery.Machine
	clock    clock.Clock
	log      *slog.Logger
}

// New builds a control Service over a tenant's assembled components.
func New(tenantID string, d *dialer.Dialer, reminder *campaign.ReminderWorkflow, recall *campaign.RecallWorkflow, noshow *campaign.NoShowWorkflow, sms, email *delivery.Machine, c clock.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		tenantID: tenantID,
		dialer:   d,
		reminder: reminder,
		recall:   recall,
		noshow:   noshow,
		sms:      sms,
		email:    email,
		clock:    c,
		log:      log.With("tenant_id", tenantID),
	}
}

// Kind translates an error into the stable kind tag spec.md §7 requires at
// the control surface. Message wording is the shell's job; the tag is the
// contract.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrConsentDenied):
		return "consent_denied"
	case errors.Is(err, domain.ErrPermanentExternal):
		return "permanent_external"
	case errors.Is(err, domain.ErrTransientExternal):
		return "transient_external"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrCorruption):
		return "corruption"
	default:
		return "internal"
	}
}

// ReminderCampaignRequest carries start_reminder_campaign's inputs
// (spec.md §4.12). TargetDate is optional YYYY-MM-DD and is only checked
// for format: the run always enumerates from the current time, whatever
// the date. Other zero values defer to the workflow's configuration.
type ReminderCampaignRequest struct {
	TargetDate          string
	Types               []string
	ReminderHoursBefore int
	SMSEnabled          bool
}

// StartReminderCampaign enumerates and queues reminder calls, per spec.md
// §4.12. An unparseable TargetDate fails invalid-input before any work
// starts.
func (s *Service) StartReminderCampaign(ctx context.Context, req ReminderCampaignRequest) (campaign.ReminderStats, error) {
	if _, err := s.parseTargetDate(req.TargetDate); err != nil {
		return campaign.ReminderStats{}, err
	}
	return s.reminder.StartCampaign(ctx, campaign.ReminderOptions{
		Types:       req.Types,
		HoursBefore: req.ReminderHoursBefore,
		SMSDisabled: !req.SMSEnabled,
	})
}

// parseTargetDate validates an optional YYYY-MM-DD command input.
func (s *Service) parseTargetDate(targetDate string) (time.Time, error) {
	now := s.clock.Now()
	if targetDate == "" {
		return now, nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", targetDate, now.Location())
	if err != nil {
		return time.Time{}, domain.NewInvalidInputError("target_date", fmt.Sprintf("expected YYYY-MM-DD, got %q", targetDate))
	}
	return parsed, nil
}

// GetReminderStats returns the reminder campaign's running counters.
func (s *Service) GetReminderStats() campaign.ReminderStats {
	return s.reminder.Stats()
}

// StartRecallCalling queues up to maxCalls (0 = unbounded) recall calls for
// campaignID. An unknown campaign surfaces as not_found.
func (s *Service) StartRecallCalling(ctx context.Context, campaignID string, maxCalls int) (campaign.RecallStats, error) {
	if campaignID == "" {
		return campaign.RecallStats{}, domain.NewInvalidInputError("campaign_id", "must not be empty")
	}
	return s.recall.StartCalling(ctx, campaignID, maxCalls)
}

// PauseRecall halts further queuing for campaignID.
func (s *Service) PauseRecall(campaignID string) bool {
	if campaignID == "" {
		return false
	}
	s.recall.Pause(campaignID)
	return true
}

// ResumeRecall re-allows queuing for campaignID.
func (s *Service) ResumeRecall(campaignID string) bool {
	if campaignID == "" {
		return false
	}
	s.recall.Resume(campaignID)
	return true
}

// NoShowRequest carries process_no_shows' inputs (spec.md §4.12).
// TargetDate is optional YYYY-MM-DD and is only checked for format: the
// window is always measured back from the current time. Zero hour bounds
// defer to the workflow's configuration.
type NoShowRequest struct {
	TargetDate    string
	MinHoursAfter int
	MaxHoursAfter int
}

// ProcessNoShows enumerates and queues no-show follow-up calls, per
// spec.md §4.12.
func (s *Service) ProcessNoShows(ctx context.Context, req NoShowRequest) (campaign.NoShowStats, error) {
	if _, err := s.parseTargetDate(req.TargetDate); err != nil {
		return campaign.NoShowStats{}, err
	}
	return s.noshow.ProcessNoShows(ctx, campaign.NoShowOptions{
		MinHoursAfter: req.MinHoursAfter,
		MaxHoursAfter: req.MaxHoursAfter,
	})
}

// GetCallQueue returns the dialer's queued calls in dial order.
func (s *Service) GetCallQueue() []*domain.QueuedCall {
	return s.dialer.Snapshot()
}

// GetDialerStats returns the dialer's public snapshot.
func (s *Service) GetDialerStats() dialer.Stats {
	return s.dialer.Stats()
}

// PauseDialer suspends dispatching; queued calls stay queued.
func (s *Service) PauseDialer() {
	s.dialer.Pause()
	s.log.Info("dialer paused")
}

// ResumeDialer re-enables dispatching.
func (s *Service) ResumeDialer() {
	s.dialer.Resume()
	s.log.Info("dialer resumed")
}

// CancelQueuedCall removes a still-queued call. Returns false for unknown
// or already in-flight calls, per spec.md §4.7's cancel semantics.
func (s *Service) CancelQueuedCall(callID string) bool {
	return s.dialer.CancelCall(callID)
}

// ClearCallQueue discards every non-in-flight queued call and returns how
// many were removed.
func (s *Service) ClearCallQueue() int {
	n := s.dialer.ClearQueue()
	s.log.Info("call queue cleared", "removed", n)
	return n
}

// HandleSMSWebhook normalizes an SMS provider's status callback and applies
// it to the SMS state machine. Twilio payloads are the form-encoded fields
// of spec.md §6; sipgate has no status callbacks, so any payload for it is
// invalid input.
func (s *Service) HandleSMSWebhook(ctx context.Context, provider string, fields map[string]string) error {
	switch provider {
	case "twilio":
		ev, ok := delivery.ParseTwilioWebhook(fields, s.clock.Now())
		if !ok {
			return domain.NewInvalidInputError("MessageStatus", fmt.Sprintf("unknown status %q", fields["MessageStatus"]))
		}
		return s.sms.ApplyWebhook(ctx, ev)
	case "sipgate":
		return domain.NewInvalidInputError("provider", "sipgate delivers no status callbacks")
	default:
		return domain.NewInvalidInputError("provider", fmt.Sprintf("unknown SMS provider %q", provider))
	}
}

// HandleEmailWebhook normalizes an email provider's event payload and
// applies each event to the email state machine. SendGrid posts a JSON
// array of events (spec.md §6); unparseable payloads fail invalid-input,
// while individually unknown event types are skipped.
func (s *Service) HandleEmailWebhook(ctx context.Context, provider string, payload []byte) error {
	switch provider {
	case "sendgrid":
		var events []delivery.SendGridEvent
		if err := json.Unmarshal(payload, &events); err != nil {
			return domain.NewInvalidInputError("payload", "expected a JSON array of SendGrid events")
		}
		for _, raw := range events {
			ev, ok := delivery.ParseSendGridEvent(raw)
			if !ok {
				continue
			}
			if err := s.email.ApplyWebhook(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	default:
		return domain.NewInvalidInputError("provider", fmt.Sprintf("unknown email provider %q", provider))
	}
}
