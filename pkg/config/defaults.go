package config

import "time"

// DefaultConfig returns the built-in configuration used when a YAML file
// omits a section entirely.
func DefaultConfig() *Config {
	return &Config{
		BusinessHours: DefaultBusinessHoursConfig(),
		Dialer:        DefaultDialerConfig(),
		Campaign:      DefaultCampaignConfig(),
		Delivery:      DefaultDeliveryConfig(),
		EmailIntake:   DefaultEmailIntakeConfig(),
		Masking:       DefaultMaskingConfig(),
	}
}

// DefaultBusinessHoursConfig returns 08:00-18:00 Europe/Berlin, weekdays only.
func DefaultBusinessHoursConfig() *BusinessHoursConfig {
	return &BusinessHoursConfig{
		Timezone:     "Europe/Berlin",
		StartHour:    8,
		EndHour:      18,
		WeekdaysOnly: true,
	}
}

// DefaultDialerConfig returns conservative single-tenant dialer defaults.
func DefaultDialerConfig() *DialerConfig {
	return &DialerConfig{
		MaxConcurrentCalls: 4,
		CallsPerMinute:     20,
		RingTimeout:        30 * time.Second,
		DrainTimeout:       60 * time.Second,
		MaxCallsPerDay:     0,
	}
}

// DefaultCampaignConfig returns the built-in workflow tuning values.
func DefaultCampaignConfig() *CampaignConfig {
	return &CampaignConfig{
		Reminder: &ReminderConfig{
			HoursBefore:            24,
			MinHoursBefore:         2,
			MaxAttempts:            3,
			RetryDelayMinutes:      60,
			SMSAfterFailedAttempts: 2,
		},
		Recall: &RecallConfig{
			MaxAttempts:      3,
			DaysBetweenRetry: 7,
		},
		NoShow: &NoShowConfig{
			MinHoursAfter: 1,
			MaxHoursAfter: 48,
		},
	}
}

// DefaultDeliveryConfig returns the built-in retry policy shared across
// SMS and email delivery (see Design Decision D3).
func DefaultDeliveryConfig() *DeliveryConfig {
	return &DeliveryConfig{
		RetryBaseDelay: 1 * time.Minute,
		MaxRetries:     5,
		RetryMaxDelay:  30 * time.Minute,
	}
}

// DefaultEmailIntakeConfig returns the built-in mailbox polling behavior.
func DefaultEmailIntakeConfig() *EmailIntakeConfig {
	return &EmailIntakeConfig{
		PollInterval:    2 * time.Minute,
		SendAutoReply:   true,
		MarkSpamRead:    true,
		MoveToProcessed: true,
	}
}

// DefaultMaskingConfig returns the built-in PII pattern groups.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{
		Enabled:  true,
		Patterns: []string{"phone", "email", "free_text"},
	}
}
