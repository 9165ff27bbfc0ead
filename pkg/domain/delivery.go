package domain

import "time"

// Channel distinguishes which delivery-tracking state machine a message
// belongs to (spec.md §4.4): SMS and Email share a skeleton but diverge on a
// few terminal/non-terminal states.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// DeliveryStatus is the shared state of the SMS/Email delivery-tracking
// state machines. States: pending -> queued -> sent -> {delivered, failed,
// bounced, spam, unsubscribed}. Email additionally has opened/clicked
// (non-terminal, may occur after delivered without changing Status). SMS
// additionally has undelivered.
type DeliveryStatus string

const (
	StatusPending      DeliveryStatus = "pending"
	StatusQueued       DeliveryStatus = "queued"
	StatusSent         DeliveryStatus = "sent"
	StatusDelivered    DeliveryStatus = "delivered"
	StatusFailed       DeliveryStatus = "failed"
	StatusBounced      DeliveryStatus = "bounced"
	StatusSpam         DeliveryStatus = "spam"
	StatusUnsubscribed DeliveryStatus = "unsubscribed"
	StatusUndelivered  DeliveryStatus = "undelivered" // SMS-only
	StatusOpened       DeliveryStatus = "opened"      // email-only, non-terminal annotation
	StatusClicked      DeliveryStatus = "clicked"      // email-only, non-terminal annotation
)

// terminalRank orders states for forward-progression checks: a status may
// only transition to a state at or beyond its own rank. Opened/clicked are
// annotations, not part of the primary progression, and are tracked
// separately on DeliveryMessage rather than ranked here.
var terminalRank = map[DeliveryStatus]int{
	StatusPending:      0,
	StatusQueued:       1,
	StatusSent:         2,
	StatusDelivered:    3,
	StatusFailed:       3,
	StatusBounced:      3,
	StatusSpam:         3,
	StatusUnsubscribed: 3,
	StatusUndelivered:  3,
}

// IsTerminal reports whether s is a terminal status for the primary
// progression (delivered/failed/bounced/spam/unsubscribed/undelivered).
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusBounced, StatusSpam, StatusUnsubscribed, StatusUndelivered:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a forward
// progression. Terminal states never regress (spec.md §8): once delivered,
// a message cannot revert to sent. Two terminal states are considered
// unequal progressions only if literally different; the caller is expected
// to treat "terminal-and-equal" as a no-op (idempotent webhook replay).
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return terminalRank[next] >= terminalRank[s]
}

// DeliveryMessage is the shared shape of SMSMessage and EmailMessage
// (spec.md §3). Kind distinguishes which provider-table and terminal-state
// vocabulary applies.
type DeliveryMessage struct {
	ID                string
	TenantID          string
	Kind              Channel
	Provider          string
	ProviderMessageID string // populated after send
	Recipient         string
	Body              string
	Template          string
	Status            DeliveryStatus
	Opened            bool // email-only annotation
	Clicked           bool // email-only annotation

	Cost     *float64
	Segments *int

	QueuedAt    time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	ErrorCode    string
	ErrorMessage string

	AppointmentID string
	TaskID        string
	ContactID     string
}

// CampaignTaskStatus is the shared status vocabulary for the three campaign
// workflows' CampaignTask lifecycles (spec.md §3): each workflow owns its
// own enum of domain-specific terminal states layered atop this shared core.
type CampaignTaskStatus string

const (
	CampaignPending     CampaignTaskStatus = "pending"
	CampaignCalling     CampaignTaskStatus = "calling"
	CampaignCompleted   CampaignTaskStatus = "completed"
	CampaignNoAnswer    CampaignTaskStatus = "no_answer"
	CampaignFailed      CampaignTaskStatus = "failed"
	CampaignRescheduled CampaignTaskStatus = "rescheduled"
	CampaignCancelled   CampaignTaskStatus = "cancelled"
)

// CampaignKind distinguishes the three cooperating workflows.
type CampaignKind string

const (
	CampaignReminder CampaignKind = "reminder"
	CampaignRecall   CampaignKind = "recall"
	CampaignNoShow   CampaignKind = "no_show"
)

// CampaignTask is the generic shape shared by the three workflow-owned
// lifecycles. It carries no metadata of its own; each workflow's per-call
// keys travel as a string map in QueuedCall.Metadata (their fields are
// named by ReminderMetadata, RecallMetadata, NoShowMetadata in
// pkg/campaign), per Design Notes §9 ("typed map at boundaries").
type CampaignTask struct {
	ID             string
	TenantID       string
	Kind           CampaignKind
	AppointmentID  string
	PatientID      string
	Attempts       int
	Status         CampaignTaskStatus
	LastOutcome    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	NextAttemptAt  *time.Time
}
