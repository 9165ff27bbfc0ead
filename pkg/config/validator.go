package config

import "fmt"

// Validator validates a fully-merged Config with clear, field-scoped errors.
// Grounded on tarsy's pkg/config/validator.go ValidateAll/validateQueue shape.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs the full validation pipeline against cfg.
func Validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// ValidateAll validates every section, fail-fast on the first error.
func (v *Validator) ValidateAll() error {
	if err := v.validateBusinessHours(); err != nil {
		return err
	}
	if err := v.validateDialer(); err != nil {
		return err
	}
	if err := v.validateCampaign(); err != nil {
		return err
	}
	if err := v.validateDelivery(); err != nil {
		return err
	}
	if err := v.validateEmailIntake(); err != nil {
		return err
	}
	if err := v.validateMasking(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateBusinessHours() error {
	bh := v.cfg.BusinessHours
	if bh == nil {
		return NewValidationError("business_hours", "", fmt.Errorf("section is nil"))
	}
	if bh.Timezone == "" {
		return NewValidationError("business_hours", "timezone", fmt.Errorf("must not be empty"))
	}
	if bh.StartHour < 0 || bh.StartHour > 23 {
		return NewValidationError("business_hours", "start_hour", fmt.Errorf("must be 0-23, got %d", bh.StartHour))
	}
	if bh.EndHour < 0 || bh.EndHour > 24 {
		return NewValidationError("business_hours", "end_hour", fmt.Errorf("must be 0-24, got %d", bh.EndHour))
	}
	if bh.EndHour <= bh.StartHour {
		return NewValidationError("business_hours", "end_hour", fmt.Errorf("must be after start_hour (%d), got %d", bh.StartHour, bh.EndHour))
	}
	return nil
}

func (v *Validator) validateDialer() error {
	d := v.cfg.Dialer
	if d == nil {
		return NewValidationError("dialer", "", fmt.Errorf("section is nil"))
	}
	if d.MaxConcurrentCalls < 1 {
		return NewValidationError("dialer", "max_concurrent_calls", fmt.Errorf("must be at least 1, got %d", d.MaxConcurrentCalls))
	}
	if d.CallsPerMinute < 1 {
		return NewValidationError("dialer", "calls_per_minute", fmt.Errorf("must be at least 1, got %d", d.CallsPerMinute))
	}
	if d.RingTimeout <= 0 {
		return NewValidationError("dialer", "ring_timeout", fmt.Errorf("must be positive, got %v", d.RingTimeout))
	}
	if d.DrainTimeout <= 0 {
		return NewValidationError("dialer", "drain_timeout", fmt.Errorf("must be positive, got %v", d.DrainTimeout))
	}
	if d.MaxCallsPerDay < 0 {
		return NewValidationError("dialer", "max_calls_per_day", fmt.Errorf("must be non-negative, got %d", d.MaxCallsPerDay))
	}
	return nil
}

func (v *Validator) validateCampaign() error {
	c := v.cfg.Campaign
	if c == nil {
		return NewValidationError("campaign", "", fmt.Errorf("section is nil"))
	}
	if c.Reminder == nil {
		return NewValidationError("campaign.reminder", "", fmt.Errorf("section is nil"))
	}
	if c.Reminder.MaxAttempts < 1 {
		return NewValidationError("campaign.reminder", "max_attempts", fmt.Errorf("must be at least 1, got %d", c.Reminder.MaxAttempts))
	}
	if c.Reminder.MinHoursBefore < 0 {
		return NewValidationError("campaign.reminder", "min_hours_before", fmt.Errorf("must be non-negative, got %d", c.Reminder.MinHoursBefore))
	}
	if c.Reminder.HoursBefore <= c.Reminder.MinHoursBefore {
		return NewValidationError("campaign.reminder", "hours_before", fmt.Errorf("must exceed min_hours_before (%d), got %d", c.Reminder.MinHoursBefore, c.Reminder.HoursBefore))
	}
	if c.Recall == nil {
		return NewValidationError("campaign.recall", "", fmt.Errorf("section is nil"))
	}
	if c.Recall.MaxAttempts < 1 {
		return NewValidationError("campaign.recall", "max_attempts", fmt.Errorf("must be at least 1, got %d", c.Recall.MaxAttempts))
	}
	if c.Recall.DaysBetweenRetry < 1 {
		return NewValidationError("campaign.recall", "days_between_attempts", fmt.Errorf("must be at least 1, got %d", c.Recall.DaysBetweenRetry))
	}
	if c.NoShow == nil {
		return NewValidationError("campaign.no_show", "", fmt.Errorf("section is nil"))
	}
	if c.NoShow.MinHoursAfter < 0 {
		return NewValidationError("campaign.no_show", "min_hours_after", fmt.Errorf("must be non-negative, got %d", c.NoShow.MinHoursAfter))
	}
	if c.NoShow.MaxHoursAfter <= c.NoShow.MinHoursAfter {
		return NewValidationError("campaign.no_show", "max_hours_after", fmt.Errorf("must exceed min_hours_after (%d), got %d", c.NoShow.MinHoursAfter, c.NoShow.MaxHoursAfter))
	}
	return nil
}

func (v *Validator) validateDelivery() error {
	d := v.cfg.Delivery
	if d == nil {
		return NewValidationError("delivery", "", fmt.Errorf("section is nil"))
	}
	if d.RetryBaseDelay <= 0 {
		return NewValidationError("delivery", "retry_base_delay", fmt.Errorf("must be positive, got %v", d.RetryBaseDelay))
	}
	if d.MaxRetries < 0 {
		return NewValidationError("delivery", "max_retries", fmt.Errorf("must be non-negative, got %d", d.MaxRetries))
	}
	if d.RetryMaxDelay < d.RetryBaseDelay {
		return NewValidationError("delivery", "retry_max_delay", fmt.Errorf("must be at least retry_base_delay (%v), got %v", d.RetryBaseDelay, d.RetryMaxDelay))
	}
	return nil
}

func (v *Validator) validateEmailIntake() error {
	e := v.cfg.EmailIntake
	if e == nil {
		return NewValidationError("email_intake", "", fmt.Errorf("section is nil"))
	}
	if e.PollInterval <= 0 {
		return NewValidationError("email_intake", "poll_interval", fmt.Errorf("must be positive, got %v", e.PollInterval))
	}
	return nil
}

func (v *Validator) validateMasking() error {
	m := v.cfg.Masking
	if m == nil {
		return NewValidationError("masking", "", fmt.Errorf("section is nil"))
	}
	return nil
}
