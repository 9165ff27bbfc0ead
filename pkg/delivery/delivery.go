// Package delivery implements the SMS/Email delivery-tracking state
// machines (C4, spec.md §4.4), their retry scheduling, and webhook-driven
// status transitions. Grounded on
// original_source/src/phone_agent/db/repositories/sms.py (status-transition
// shape, retry bookkeeping, update_status_by_provider_id) and spec.md §6's
// exact webhook wire shapes for Twilio, sipgate, and SendGrid.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/handwerkcall/phoneagent/pkg/audit"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

// Store persists delivery-tracked messages and supports the sweeper's
// retryable-message scan.
type Store interface {
	Save(ctx context.Context, m *domain.DeliveryMessage) error
	Get(ctx context.Context, id string) (*domain.DeliveryMessage, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryMessage, error)
	Retryable(ctx context.Context, now time.Time) ([]*domain.DeliveryMessage, error)
}

// retryableCodes classifies a (provider, error_code) pair as retryable per the
// per-provider table named in spec.md §4.4: sipgate temporary, Twilio
// 30001/30003, SendGrid deferred + soft bounces.
var retryableCodes = map[string]map[string]bool{
	"sipgate": {
		"temporary": true,
	},
	"twilio": {
		"30001": true,
		"30003": true,
	},
	"sendgrid": {
		"deferred":    true,
		"bounce_soft": true,
	},
}

// IsRetryable reports whether provider/errorCode is classified retryable.
func IsRetryable(provider, errorCode string) bool {
	table, ok := retryableCodes[provider]
	if !ok {
		return false
	}
	return table[errorCode]
}

// Machine drives the shared SMS/Email delivery state machine. Gateway sends
// pass through a circuit breaker so a provider outage fails fast instead of
// stalling every campaign on a timing-out gateway; a breaker-open error is
// handled exactly like any other transport-level send failure.
type Machine struct {
	store   Store
	gateway external.Gateway
	breaker *gobreaker.CircuitBreaker
	clock   clock.Clock
	auditor *audit.Logger
	cfg     *config.DeliveryConfig
	log     *slog.Logger

	mu sync.Mutex // serializes concurrent CAS-style status updates per machine instance
}

// New builds a delivery Machine.
func New(store Store, gateway external.Gateway, c clock.Clock, auditor *audit.Logger, cfg *config.DeliveryConfig, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "delivery-gateway",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Machine{store: store, gateway: gateway, breaker: breaker, clock: c, auditor: auditor, cfg: cfg, log: log}
}

// Enqueue creates a new pending DeliveryMessage, ready for Send.
func (m *Machine) Enqueue(ctx context.Context, tenantID string, kind domain.Channel, provider, recipient, body, template string, maxRetries int) *domain.DeliveryMessage {
	msg := &domain.DeliveryMessage{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       kind,
		Provider:   provider,
		Recipient:  recipient,
		Body:       body,
		Template:   template,
		Status:     domain.StatusPending,
		QueuedAt:   m.clock.Now(),
		MaxRetries: maxRetries,
	}
	return msg
}

// Send performs the gateway send for msg and applies the synchronous
// result to the state machine (spec.md §4.4): success records the
// provider message id and advances to queued (SMS) or sent (email);
// failure records the error and schedules a retry if eligible.
func (m *Machine) Send(ctx context.Context, msg *domain.DeliveryMessage) error {
	res, err := m.gatewaySend(ctx, external.OutboundMessage{Recipient: msg.Recipient, Body: msg.Body, Provider: msg.Provider})
	if err != nil {
		return m.applySendFailure(ctx, msg, "", err.Error())
	}
	if !res.Success {
		return m.applySendFailure(ctx, msg, res.ErrorCode, res.ErrorMessage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ProviderMessageID = res.ProviderMessageID
	next := domain.StatusQueued
	if msg.Kind == domain.ChannelEmail {
		next = domain.StatusSent
	}
	if msg.Status.CanTransition(next) {
		msg.Status = next
	}
	now := m.clock.Now()
	msg.SentAt = &now
	if res.Segments > 0 {
		segs := res.Segments
		msg.Segments = &segs
	}
	if res.Cost > 0 {
		cost := res.Cost
		msg.Cost = &cost
	}

	if err := m.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("save delivery message: %w", err)
	}
	m.logAudit(ctx, msg, "delivery_send_succeeded")
	return nil
}

// gatewaySend wraps Gateway.Send in the circuit breaker. A result with
// Success=false counts as a breaker failure too, so repeated rejections by
// the provider trip it just like transport errors.
func (m *Machine) gatewaySend(ctx context.Context, out external.OutboundMessage) (external.SendResult, error) {
	res, err := m.breaker.Execute(func() (any, error) {
		r, err := m.gateway.Send(ctx, out)
		if err != nil {
			return r, err
		}
		if !r.Success {
			return r, fmt.Errorf("gateway rejected send: %s %s", r.ErrorCode, r.ErrorMessage)
		}
		return r, nil
	})
	if err != nil {
		if r, ok := res.(external.SendResult); ok && !r.Success {
			// Provider-level rejection: surface the structured result so the
			// retryable-code table can classify it.
			return r, nil
		}
		return external.SendResult{}, fmt.Errorf("gateway send: %w", err)
	}
	return res.(external.SendResult), nil
}

func (m *Machine) applySendFailure(ctx context.Context, msg *domain.DeliveryMessage, errorCode, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	msg.Status = domain.StatusFailed
	msg.FailedAt = &now
	msg.ErrorCode = errorCode
	msg.ErrorMessage = errorMessage

	if msg.RetryCount < msg.MaxRetries && IsRetryable(msg.Provider, errorCode) {
		delay := backoffDelay(m.cfg, msg.RetryCount)
		next := now.Add(delay)
		msg.NextRetryAt = &next
		msg.Status = domain.StatusPending // retry path re-enters pending for the sweeper
	}

	if err := m.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("save delivery message: %w", err)
	}
	m.logAudit(ctx, msg, "delivery_send_failed")
	return nil
}

// backoffDelay doubles per attempt starting at cfg.RetryBaseDelay, capped at
// cfg.RetryMaxDelay (Design Decision D3: reminder call retries double the
// same way from retry_delay_minutes; recall retries keep a fixed
// DaysBetweenRetry spacing).
func backoffDelay(cfg *config.DeliveryConfig, retryCount int) time.Duration {
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Minute
	}
	delay := base << retryCount // base * 2^retryCount
	if cfg.RetryMaxDelay > 0 && delay > cfg.RetryMaxDelay {
		delay = cfg.RetryMaxDelay
	}
	return delay
}

// WebhookEvent is the gateway-agnostic shape a provider adapter normalizes
// Twilio/sipgate/SendGrid payloads into before calling ApplyWebhook.
type WebhookEvent struct {
	ProviderMessageID string
	Status            domain.DeliveryStatus
	EventType         string // e.g. "delivered", "bounce", "open" -- used for idempotence triple
	EventTimestamp    time.Time
	ErrorCode         string
	ErrorMessage      string
}

// seenKey is the idempotence key for (provider_message_id, event_type,
// event_timestamp), per spec.md §4.4.
func (e WebhookEvent) seenKey() string {
	return e.ProviderMessageID + "|" + e.EventType + "|" + e.EventTimestamp.UTC().Format(time.RFC3339Nano)
}

// seen is a process-lifetime, best-effort idempotence cache. A durable
// implementation would persist this alongside the message; in-memory is
// sufficient for the reference store (spec.md §1 excludes persistence
// design from the core).
var seenMu sync.Mutex
var seen = make(map[string]bool)

// ApplyWebhook looks up msg by ProviderMessageID and applies a forward-only
// transition (spec.md §4.4): unknown IDs are ignored, terminal states never
// regress, and replaying the same (id, event_type, timestamp) triple is a
// no-op.
func (m *Machine) ApplyWebhook(ctx context.Context, ev WebhookEvent) error {
	key := ev.seenKey()
	seenMu.Lock()
	if seen[key] {
		seenMu.Unlock()
		m.log.Info("duplicate webhook event ignored", "provider_message_id", ev.ProviderMessageID, "event_type", ev.EventType)
		return nil
	}
	seen[key] = true
	seenMu.Unlock()

	msg, err := m.store.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("lookup by provider message id: %w", err)
	}
	if msg == nil {
		m.log.Warn("webhook for unknown provider message id", "provider_message_id", ev.ProviderMessageID)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Opened/clicked are annotations on the message, not part of the primary
	// progression (spec.md §4.4): they apply even after delivered.
	switch ev.Status {
	case domain.StatusOpened:
		msg.Opened = true
	case domain.StatusClicked:
		msg.Clicked = true
	default:
		if !msg.Status.CanTransition(ev.Status) {
			m.log.Info("webhook ignored: not a forward progression", "provider_message_id", ev.ProviderMessageID, "from", msg.Status, "to", ev.Status)
			return nil
		}
		if msg.Status == ev.Status {
			return nil // terminal-and-equal is a no-op
		}
		msg.Status = ev.Status
	}

	now := m.clock.Now()
	switch ev.Status {
	case domain.StatusDelivered:
		msg.DeliveredAt = &now
	case domain.StatusFailed, domain.StatusBounced, domain.StatusUndelivered:
		msg.FailedAt = &now
		msg.ErrorCode = ev.ErrorCode
		msg.ErrorMessage = ev.ErrorMessage
	}

	if err := m.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("save delivery message after webhook: %w", err)
	}
	m.logAudit(ctx, msg, "delivery_webhook_applied")
	return nil
}

func (m *Machine) logAudit(ctx context.Context, msg *domain.DeliveryMessage, action string) {
	if m.auditor == nil {
		return
	}
	_, err := m.auditor.Append(ctx, msg.TenantID, audit.Entry{
		Action:       action,
		ActorID:      "delivery_machine",
		ActorType:    "system",
		ResourceType: string(msg.Kind),
		ResourceID:   msg.ID,
		Details: map[string]any{
			"status":     string(msg.Status),
			"provider":   msg.Provider,
			"error_code": msg.ErrorCode,
		},
	})
	if err != nil {
		m.log.Error("failed to write audit entry for delivery transition", "error", err)
	}
}
