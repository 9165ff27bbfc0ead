// Package emailintake implements the per-tenant mailbox polling loop (C11,
// spec.md §4.11): fetch unread messages, classify them via the LLM-backed
// classifier collaborator, create routable Tasks, auto-reply with a ticket
// number, and mark/move the handled messages. Grounded on
// original_source/.../api/email_webhooks.py (classification shape, spam
// short-circuit, auto-reply templating) with the auto-reply loop guard the
// source lacked (spec.md §9 Open Question 3) implemented here.
package emailintake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/handwerkcall/phoneagent/pkg/audit"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
	"github.com/handwerkcall/phoneagent/pkg/routing"
)

// Router is the subset of *routing.Engine the intake loop consumes.
type Router interface {
	Route(ctx context.Context, tenantID string, task *domain.Task) (routing.Decision, error)
	Apply(ctx context.Context, task *domain.Task, d routing.Decision) error
}

var _ Router = (*routing.Engine)(nil)

// TaskStore persists the tasks the intake loop creates. Create must fail
// with a Conflict-wrapped error on a duplicate (tenant, source_type,
// source_id), which the loop treats as "already processed".
type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) error
}

// Loop polls one tenant's mailbox. IMAP credentials live with the
// MailboxClient collaborator, encrypted at rest by a key the core never
// holds (spec.md §4.11).
type Loop struct {
	tenantID   string
	mailbox    external.MailboxClient
	smtp       external.SMTPClient
	classifier external.Classifier
	router     Router
	tasks      TaskStore
	auditor    *audit.Logger
	clock      clock.Clock
	cfg        *config.EmailIntakeConfig
	log        *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an intake Loop for one tenant's mailbox.
func New(tenantID string, mailbox external.MailboxClient, smtp external.SMTPClient, classifier external.Classifier, router Router, tasks TaskStore, auditor *audit.Logger, c clock.Clock, cfg *config.EmailIntakeConfig, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		tenantID:   tenantID,
		mailbox:    mailbox,
		smtp:       smtp,
		classifier: classifier,
		router:     router,
		tasks:      tasks,
		auditor:    auditor,
		clock:      c,
		cfg:        cfg,
		log:        log.With("tenant_id", tenantID),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run blocks, polling the mailbox every cfg.PollInterval until ctx is
// cancelled or Stop is called. A poll failure logs and sleeps one interval
// before retrying (spec.md §4.11).
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.PollOnce(ctx); err != nil {
				l.log.Error("mailbox poll failed, retrying next interval", "error", err)
			}
		}
	}
}

// Stop signals Run to return and waits for it to finish.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// PollOnce performs one full mailbox sweep: connect, fetch unread, process
// each message, disconnect. Exported so the control surface and tests can
// drive a sweep without the ticker.
func (l *Loop) PollOnce(ctx context.Context) error {
	if err := l.mailbox.Connect(ctx); err != nil {
		return fmt.Errorf("mailbox connect: %w", err)
	}
	defer func() {
		if err := l.mailbox.Close(ctx); err != nil {
			l.log.Warn("mailbox close failed", "error", err)
		}
	}()

	unread, err := l.mailbox.SearchUnread(ctx)
	if err != nil {
		return fmt.Errorf("search unread: %w", err)
	}

	for _, msg := range unread {
		if err := l.processMessage(ctx, msg); err != nil {
			l.log.Error("message processing failed", "message_id", msg.MessageID, "error", err)
		}
	}
	return nil
}

func (l *Loop) processMessage(ctx context.Context, msg external.InboundEmail) error {
	cls, err := l.classifier.Classify(ctx, msg)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	if cls.TaskType == "spam" {
		l.log.Info("spam message skipped", "message_id", msg.MessageID)
		if l.cfg.MarkSpamRead {
			return l.mailbox.MarkRead(ctx, msg.MessageID)
		}
		return nil
	}

	task := l.buildTask(msg, cls)
	if err := l.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Re-fetched a message we already turned into a task (e.g. a
			// MarkRead failure last poll). Finish the bookkeeping and move on.
			l.log.Info("message already processed", "message_id", msg.MessageID)
			return l.finishMessage(ctx, msg)
		}
		return fmt.Errorf("create task: %w", err)
	}

	decision, err := l.router.Route(ctx, l.tenantID, task)
	if err != nil {
		return fmt.Errorf("route task: %w", err)
	}
	if err := l.router.Apply(ctx, task, decision); err != nil {
		return fmt.Errorf("apply routing: %w", err)
	}

	l.logAudit(ctx, "email_task_created", task, map[string]any{
		"message_id": msg.MessageID,
		"task_type":  task.TaskType,
		"urgency":    string(task.Urgency),
		"department": decision.DepartmentID,
		"worker":     decision.WorkerID,
	})

	if l.cfg.SendAutoReply && !IsAutoSubmitted(msg.Headers) {
		ticket := l.ticketNumber()
		subject, body := renderAutoReply(task.Urgency, ticket, msg.Subject)
		if err := l.smtp.Send(ctx, msg.From, subject, body); err != nil {
			l.log.Warn("auto-reply send failed", "message_id", msg.MessageID, "error", err)
		} else {
			l.logAudit(ctx, "email_auto_reply_sent", task, map[string]any{"ticket": ticket, "to": msg.From})
		}
	}

	return l.finishMessage(ctx, msg)
}

func (l *Loop) finishMessage(ctx context.Context, msg external.InboundEmail) error {
	if err := l.mailbox.MarkRead(ctx, msg.MessageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if l.cfg.MoveToProcessed {
		if err := l.mailbox.MoveToProcessed(ctx, msg.MessageID); err != nil {
			l.log.Warn("move to processed failed", "message_id", msg.MessageID, "error", err)
		}
	}
	return nil
}

func (l *Loop) buildTask(msg external.InboundEmail, cls external.Classification) *domain.Task {
	urgency := domain.Urgency(cls.Urgency)
	switch urgency {
	case domain.UrgencyNotfall, domain.UrgencyDringend, domain.UrgencyNormal, domain.UrgencyRoutine:
	default:
		urgency = domain.UrgencyNormal
	}
	email := cls.CustomerEmail
	if email == "" {
		email = msg.From
	}
	return &domain.Task{
		ID:            uuid.NewString(),
		TenantID:      l.tenantID,
		SourceType:    domain.SourceEmail,
		SourceID:      msg.MessageID,
		TaskType:      cls.TaskType,
		Urgency:       urgency,
		TradeCategory: cls.TradeCategory,
		CustomerName:  cls.CustomerName,
		CustomerPhone: cls.CustomerPhone,
		CustomerEmail: email,
		CustomerPLZ:   cls.CustomerPLZ,
		Status:        domain.TaskNew,
	}
}

// ticketNumber builds a human-quotable ticket id of the form
// T-20260801-3F2A9C.
func (l *Loop) ticketNumber() string {
	short := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("T-%s-%s", l.clock.Now().Format("20060102"), short)
}

func (l *Loop) logAudit(ctx context.Context, action string, task *domain.Task, details map[string]any) {
	if l.auditor == nil {
		return
	}
	if _, err := l.auditor.Append(ctx, l.tenantID, audit.Entry{
		Action:       action,
		ActorID:      "email_intake",
		ActorType:    "system",
		ResourceType: "task",
		ResourceID:   task.ID,
		Details:      details,
	}); err != nil {
		l.log.Error("audit append failed", "action", action, "error", err)
	}
}
