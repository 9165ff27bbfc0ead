// Package container assembles every core component once at process start
// and tears them down in reverse order at shutdown, replacing the
// module-level singletons the source system used (spec.md §9). Nothing in
// this module reaches for a global: every component receives its
// collaborators by handle from here. Startup/shutdown ordering style is
// grounded on tarsy's cmd/tarsy main wiring.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/audit"
	"github.com/handwerkcall/phoneagent/pkg/campaign"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/consent"
	"github.com/handwerkcall/phoneagent/pkg/control"
	"github.com/handwerkcall/phoneagent/pkg/conversation"
	"github.com/handwerkcall/phoneagent/pkg/delivery"
	"github.com/handwerkcall/phoneagent/pkg/dialer"
	"github.com/handwerkcall/phoneagent/pkg/domain/memstore"
	"github.com/handwerkcall/phoneagent/pkg/emailintake"
	"github.com/handwerkcall/phoneagent/pkg/external"
	"github.com/handwerkcall/phoneagent/pkg/masking"
	"github.com/handwerkcall/phoneagent/pkg/routing"
	"github.com/handwerkcall/phoneagent/pkg/slotfinder"
	"github.com/handwerkcall/phoneagent/pkg/triage"
)

// sweepInterval is how often the delivery retry sweeper polls for due
// messages. Kept well below the minimum retry delay so a due retry is
// never late by more than one sweep.
const sweepInterval = 15 * time.Second

// Collaborators bundles the external interfaces (spec.md §6) a deployment
// wires in. SIP, SMSGateway, and EmailGateway are required; the rest may be
// nil, disabling the components that depend on them (no email intake
// without a Mailbox, conversations end as abandoned without STT).
type Collaborators struct {
	SIP          external.SIPClient
	SMSGateway   external.Gateway
	EmailGateway external.Gateway
	Calendar     external.Calendar
	Mailbox      external.MailboxClient
	SMTP         external.SMTPClient
	Classifier   external.Classifier
	STT          external.Transcriber
	LLM          external.LLMTurn
	TTS          external.Synthesizer
	Audio        conversation.AudioSourceFactory
}

// Container owns one tenant's fully assembled core. The in-memory stores
// are exported so the demo entrypoint and tests can seed domain data; a
// real deployment would substitute persistent implementations behind the
// same interfaces.
type Container struct {
	TenantID string
	Config   *config.Config

	Clock   clock.Clock
	Gate    *clock.BusinessHoursGate
	Masker  *masking.Service
	Audit   *audit.Logger
	Consent *consent.Store
	SMS     *delivery.Machine
	Email   *delivery.Machine
	Dialer  *dialer.Dialer
	Driver  *conversation.Driver
	Routing *routing.Engine
	Triage  *triage.Assessor
	Slots   *slotfinder.Finder

	Reminder *campaign.ReminderWorkflow
	Recall   *campaign.RecallWorkflow
	NoShow   *campaign.NoShowWorkflow
	Intake   *emailintake.Loop
	Control  *control.Service

	AuditStore    *memstore.AuditStore
	SMSStore      *memstore.DeliveryStore
	EmailStore    *memstore.DeliveryStore
	Rules         *memstore.RuleStore
	Departments   *memstore.DepartmentStore
	Workers       *memstore.WorkerStore
	Tasks         *memstore.TaskStore
	Appointments  *memstore.AppointmentStore
	Patients      *memstore.PatientStore
	RecallTargets *memstore.RecallList

	smsSweeper   *delivery.Sweeper
	emailSweeper *delivery.Sweeper
	started      bool
	log          *slog.Logger
}

// New builds the full component graph for one tenant, leaves first:
// clock → audit → consent → delivery → conversation → dialer → routing →
// campaigns → email intake → control. It starts nothing; call Start.
func New(tenantID string, cfg *config.Config, collab Collaborators, clk clock.Clock, log *slog.Logger) (*Container, error) {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log = log.With("tenant_id", tenantID)

	gate, err := clock.NewBusinessHoursGate(clk, cfg.BusinessHours)
	if err != nil {
		return nil, fmt.Errorf("business hours gate: %w", err)
	}

	c := &Container{
		TenantID:      tenantID,
		Config:        cfg,
		Clock:         clk,
		Gate:          gate,
		Masker:        masking.NewService(cfg.Masking),
		AuditStore:    memstore.NewAuditStore(),
		SMSStore:      memstore.NewDeliveryStore(),
		EmailStore:    memstore.NewDeliveryStore(),
		Rules:         memstore.NewRuleStore(),
		Departments:   memstore.NewDepartmentStore(),
		Workers:       memstore.NewWorkerStore(),
		Tasks:         memstore.NewTaskStore(),
		Appointments:  memstore.NewAppointmentStore(),
		Patients:      memstore.NewPatientStore(),
		RecallTargets: memstore.NewRecallList(),
		log:           log,
	}

	c.Audit = audit.NewLogger(c.AuditStore, clk, log)
	c.Consent = consent.NewStore(clk)
	c.SMS = delivery.New(c.SMSStore, collab.SMSGateway, clk, c.Audit, cfg.Delivery, log)
	c.Email = delivery.New(c.EmailStore, collab.EmailGateway, clk, c.Audit, cfg.Delivery, log)
	c.smsSweeper = delivery.NewSweeper(c.SMS, c.SMSStore, clk, sweepInterval, log)
	c.emailSweeper = delivery.NewSweeper(c.Email, c.EmailStore, clk, sweepInterval, log)

	c.Driver = conversation.NewWithAudio(collab.STT, collab.LLM, collab.TTS, collab.Audio, log)
	c.Dialer = dialer.New(tenantID, cfg.Dialer, gate, clk, collab.SIP, c.Driver, log)
	c.Routing = routing.New(c.Rules, c.Departments, c.Workers, nil, clk, log)
	c.Triage = triage.NewAssessor(triage.Gesundheit)
	if collab.Calendar != nil {
		c.Slots = slotfinder.NewFinder(collab.Calendar, clk)
	}

	deps := campaign.Deps{
		TenantID: tenantID,
		Dialer:   c.Dialer,
		Consent:  c.Consent,
		Audit:    c.Audit,
		SMS:      c.SMS,
		Clock:    clk,
		Masker:   c.Masker,
		Log:      log,
	}
	c.Reminder = campaign.NewReminderWorkflow(deps, c.Appointments, c.Patients, cfg.Campaign.Reminder)
	c.Recall = campaign.NewRecallWorkflow(deps, c.RecallTargets, cfg.Campaign.Recall)
	c.NoShow = campaign.NewNoShowWorkflow(deps, c.Appointments, c.Patients, cfg.Campaign.NoShow)

	if collab.Mailbox != nil && collab.Classifier != nil {
		c.Intake = emailintake.New(tenantID, collab.Mailbox, collab.SMTP, collab.Classifier, c.Routing, c.Tasks, c.Audit, clk, cfg.EmailIntake, log)
	}

	c.Control = control.New(tenantID, c.Dialer, c.Reminder, c.Recall, c.NoShow, c.SMS, c.Email, clk, log)
	return c, nil
}

// Start launches the long-lived loops: dialer dispatch, the two retry
// sweepers, and (when configured) the email intake poll.
func (c *Container) Start(ctx context.Context) {
	c.Dialer.Start(ctx)
	go c.smsSweeper.Run(ctx)
	go c.emailSweeper.Run(ctx)
	if c.Intake != nil {
		go c.Intake.Run(ctx)
	}
	c.started = true
	c.log.Info("container started")
}

// Shutdown tears components down in reverse construction order: intake
// first (no new tasks), then sweepers, then the dialer (draining in-flight
// calls), then the workflows' callback drains.
func (c *Container) Shutdown(ctx context.Context) {
	if c.started {
		if c.Intake != nil {
			c.Intake.Stop()
		}
		c.smsSweeper.Stop()
		c.emailSweeper.Stop()
		c.started = false
	}
	c.Dialer.Stop()
	c.Reminder.Stop()
	c.Recall.Stop()
	c.NoShow.Stop()
	c.log.Info("container stopped")
}
