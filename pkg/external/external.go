// Package external defines the collaborator contracts spec.md §6 places out
// of scope for the core: calendar, SIP, SMS/email gateways, IMAP mailbox
// access, LLM-backed classification, and the STT/LLM/TTS conversation
// pipeline. The core depends only on these interfaces; concrete
// implementations (a real SIP stack, a Twilio client, a Google Calendar
// client) are out-of-scope shell concerns (spec.md §1). Only an in-memory
// test double of each lives in this repository.
package external

import (
	"context"
	"time"
)

// --- Calendar (spec.md §6, consumed by pkg/slotfinder and pkg/campaign) ---

// SlotStatus is the booking state of a calendar Slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
	SlotReserved  SlotStatus = "reserved"
)

// Slot is a bookable time window on a provider's calendar.
type Slot struct {
	ID           string
	Start        time.Time
	End          time.Time
	ProviderID   string
	ProviderName string
	Status       SlotStatus
}

// BookedAppointment is the result of a successful Calendar.BookSlot call.
type BookedAppointment struct {
	ID           string
	PatientID    string
	Start        time.Time
	End          time.Time
	ProviderID   string
	ProviderName string
	Type         string
	Reason       string
}

// Calendar is the scheduling collaborator (spec.md §6). Slot ownership and
// booking rules live entirely on this collaborator's side; the core only
// asks for candidates, books, cancels, or reschedules.
type Calendar interface {
	GetAvailableSlots(ctx context.Context, startDate, endDate time.Time, providerID, appointmentType string, durationMinutes int) ([]Slot, error)
	// BookSlot fails with a Conflict-wrapped error ("SlotUnavailable") if the
	// slot's status is not SlotAvailable.
	BookSlot(ctx context.Context, slotID, patientID, reason, appointmentType string) (BookedAppointment, error)
	CancelAppointment(ctx context.Context, appointmentID, reason string) (bool, error)
	// RescheduleAppointment fails with "SlotUnavailable" or "EventNotFound"
	// wrapped errors per spec.md §6.
	RescheduleAppointment(ctx context.Context, appointmentID, newSlotID string) (BookedAppointment, error)
}

// --- SIP (spec.md §6, consumed by pkg/dialer) ---

// CallState mirrors the SIP dialog states named in spec.md §6.
type CallState string

const (
	CallTrying       CallState = "trying"
	CallRinging      CallState = "ringing"
	CallEarlyMedia   CallState = "early_media"
	CallConfirmed    CallState = "confirmed"
	CallOnHold       CallState = "on_hold"
	CallDisconnected CallState = "disconnected"
)

// CallDirection distinguishes inbound (PBX-originated) from outbound
// (dialer-originated) calls.
type CallDirection string

const (
	DirectionOutbound CallDirection = "outbound"
	DirectionInbound  CallDirection = "inbound"
)

// Call is a live or completed SIP dialog.
type Call struct {
	ID          string
	Direction   CallDirection
	State       CallState
	Destination string
	CallerID    string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// CallEvent is delivered via SIPClient's async callback registry on every
// state transition.
type CallEvent struct {
	CallID string
	State  CallState
	At     time.Time
}

// SIPClient is the telephony collaborator (spec.md §6).
type SIPClient interface {
	Originate(ctx context.Context, destination, callerID string, ringTimeout time.Duration, metadata map[string]string) (Call, error)
	WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) (bool, error)
	Hangup(ctx context.Context, callID string) (bool, error)
	// OnEvent registers a callback invoked on every state transition for
	// any call this client knows about.
	OnEvent(fn func(CallEvent))
}

// --- SMS / Email gateway (spec.md §6, consumed by pkg/delivery) ---

// OutboundMessage is the gateway-agnostic shape handed to Gateway.Send.
type OutboundMessage struct {
	Recipient string
	Body      string
	Provider  string
}

// SendResult is the gateway's synchronous send outcome (spec.md §6).
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Status            string
	ErrorCode         string
	ErrorMessage      string
	Segments          int
	Cost              float64
}

// Gateway is the SMS/email sending collaborator (spec.md §6). get_status is
// optional per-provider (sipgate returns ErrNotFound-style "unknown").
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
	SendBulk(ctx context.Context, msgs []OutboundMessage) ([]SendResult, error)
	GetStatus(ctx context.Context, providerMessageID string) (string, error)
}

// --- STT / LLM / TTS pipeline (spec.md §4.8/§1, opaque per spec.md §1) ---

// Transcript is one STT result for an audio chunk, with an optional
// regional dialect tag (spec.md GLOSSARY).
type Transcript struct {
	Text      string
	Dialect   string
	Confident bool
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
}

// LLMTurn is the language-model collaborator driving one conversational turn.
type LLMTurn interface {
	Generate(ctx context.Context, systemPrompt string, history []string, userUtterance string) (string, error)
}

// Synthesizer is the text-to-speech collaborator. Synthesize is called once
// per sentence in the driver's streaming mode (spec.md §4.8).
type Synthesizer interface {
	Synthesize(ctx context.Context, sentence string) ([]byte, error)
}

// --- Email intake (spec.md §4.11, consumed by pkg/emailintake) ---

// InboundEmail is one unread message fetched from the mailbox.
type InboundEmail struct {
	MessageID  string
	References string
	From       string
	Subject    string
	Body       string
	Headers    map[string]string // includes Auto-Submitted/Precedence/X-Autoreply when present
}

// MailboxClient is the IMAP collaborator (spec.md §4.11).
type MailboxClient interface {
	Connect(ctx context.Context) error
	SearchUnread(ctx context.Context) ([]InboundEmail, error)
	MarkRead(ctx context.Context, messageID string) error
	MoveToProcessed(ctx context.Context, messageID string) error
	Close(ctx context.Context) error
}

// SMTPClient sends auto-reply emails (spec.md §4.11).
type SMTPClient interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Classification is the LLM-backed classifier's structured output
// (spec.md §4.11 step 2).
type Classification struct {
	TaskType      string
	Urgency       string
	TradeCategory string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	CustomerPLZ   string
	Summary       string
	Confidence    float64
}

// Classifier maps an inbound email's text to a structured classification.
type Classifier interface {
	Classify(ctx context.Context, email InboundEmail) (Classification, error)
}
