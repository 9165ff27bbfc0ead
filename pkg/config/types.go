package config

import "time"

// Config is the fully resolved, validated configuration for a phoneagentd
// process. It is built once at startup by Load and handed to pkg/container;
// nothing downstream re-reads YAML or the environment.
type Config struct {
	BusinessHours *BusinessHoursConfig `yaml:"business_hours"`
	Dialer        *DialerConfig        `yaml:"dialer"`
	Campaign      *CampaignConfig      `yaml:"campaign"`
	Delivery      *DeliveryConfig      `yaml:"delivery"`
	EmailIntake   *EmailIntakeConfig   `yaml:"email_intake"`
	Masking       *MaskingConfig       `yaml:"masking"`
}

// BusinessHoursConfig bounds the wall-clock window during which the dialer
// is permitted to place outbound calls. See pkg/clock.BusinessHoursGate.
type BusinessHoursConfig struct {
	// Timezone is an IANA location name, e.g. "Europe/Berlin".
	Timezone string `yaml:"timezone"`

	// StartHour/EndHour are local-time hour-of-day bounds, [StartHour, EndHour).
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`

	// WeekdaysOnly excludes Saturday and Sunday from the dialing window.
	WeekdaysOnly bool `yaml:"weekdays_only"`
}

// DialerConfig tunes the outbound dialer's concurrency, pacing, and timeouts.
type DialerConfig struct {
	// MaxConcurrentCalls bounds calls in SIP_PROGRESS at any instant.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" validate:"min=1"`

	// CallsPerMinute bounds origination rate, independent of concurrency.
	CallsPerMinute int `yaml:"calls_per_minute" validate:"min=1"`

	// RingTimeout bounds how long a call may stay in SIP_RINGING.
	RingTimeout time.Duration `yaml:"ring_timeout"`

	// DrainTimeout bounds how long Stop waits for in-flight calls; calls
	// still running after it are left to finish on their own (no hangup).
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// MaxCallsPerDay caps completed originations per tenant per local day.
	// Zero means unbounded.
	MaxCallsPerDay int `yaml:"max_calls_per_day"`
}

// CampaignConfig groups the three outbound-campaign workflows.
type CampaignConfig struct {
	Reminder *ReminderConfig `yaml:"reminder"`
	Recall   *RecallConfig   `yaml:"recall"`
	NoShow   *NoShowConfig   `yaml:"no_show"`
}

// ReminderConfig tunes the appointment-reminder workflow.
type ReminderConfig struct {
	// HoursBefore is how long before an appointment a reminder task is
	// enumerated.
	HoursBefore int `yaml:"hours_before"`

	// MinHoursBefore is the cutoff below which a reminder is no longer
	// dialed (too close to the appointment to be useful).
	MinHoursBefore int `yaml:"min_hours_before"`

	MaxAttempts            int `yaml:"max_attempts" validate:"min=1"`
	RetryDelayMinutes      int `yaml:"retry_delay_minutes"`
	SMSAfterFailedAttempts int `yaml:"sms_after_failed_attempts"`
}

// RecallConfig tunes the patient/client recall workflow.
type RecallConfig struct {
	MaxAttempts       int `yaml:"max_attempts" validate:"min=1"`
	DaysBetweenRetry  int `yaml:"days_between_attempts"`
}

// NoShowConfig tunes the missed-appointment follow-up workflow.
type NoShowConfig struct {
	MinHoursAfter int `yaml:"min_hours_after"`
	MaxHoursAfter int `yaml:"max_hours_after"`
}

// EmailIntakeConfig tunes the per-tenant mailbox polling loop. IMAP/SMTP
// credentials live with the mailbox collaborator, never here (spec.md §1
// excludes secret storage from the core).
type EmailIntakeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// SendAutoReply controls whether a classified, non-spam message gets a
	// templated acknowledgement with a ticket number.
	SendAutoReply bool `yaml:"send_auto_reply"`

	// MarkSpamRead marks spam messages read even though no task is created.
	MarkSpamRead bool `yaml:"mark_spam_read"`

	// MoveToProcessed moves handled messages to the processed folder.
	MoveToProcessed bool `yaml:"move_to_processed"`
}

// DeliveryConfig tunes SMS/email delivery retry behavior.
type DeliveryConfig struct {
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// MaskingConfig controls which PII pattern groups are applied to log output.
type MaskingConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}
