package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.BusinessHours.Timezone)
	assert.Equal(t, 4, cfg.Dialer.MaxConcurrentCalls)
	assert.Equal(t, 24, cfg.Campaign.Reminder.HoursBefore)
	assert.Equal(t, time.Minute, cfg.Delivery.RetryBaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.EmailIntake.PollInterval)
	assert.True(t, cfg.Masking.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialer: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidYAML))
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	yaml := `
dialer:
  max_concurrent_calls: 8
campaign:
  reminder:
    max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden fields take the YAML value.
	assert.Equal(t, 8, cfg.Dialer.MaxConcurrentCalls)
	assert.Equal(t, 5, cfg.Campaign.Reminder.MaxAttempts)
	// Untouched fields keep the built-in defaults.
	assert.Equal(t, 20, cfg.Dialer.CallsPerMinute)
	assert.Equal(t, 24, cfg.Campaign.Reminder.HoursBefore)
	assert.Equal(t, 7, cfg.Campaign.Recall.DaysBetweenRetry)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrent calls", func(c *Config) { c.Dialer.MaxConcurrentCalls = 0 }},
		{"zero calls per minute", func(c *Config) { c.Dialer.CallsPerMinute = 0 }},
		{"end before start hour", func(c *Config) { c.BusinessHours.EndHour = c.BusinessHours.StartHour }},
		{"empty timezone", func(c *Config) { c.BusinessHours.Timezone = "" }},
		{"reminder window inverted", func(c *Config) { c.Campaign.Reminder.HoursBefore = 1 }},
		{"zero recall attempts", func(c *Config) { c.Campaign.Recall.MaxAttempts = 0 }},
		{"noshow window inverted", func(c *Config) { c.Campaign.NoShow.MaxHoursAfter = 0 }},
		{"retry max below base", func(c *Config) { c.Delivery.RetryMaxDelay = time.Second }},
		{"zero poll interval", func(c *Config) { c.EmailIntake.PollInterval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	err := NewValidationError("dialer", "calls_per_minute", errors.New("must be at least 1"))
	assert.Contains(t, err.Error(), "dialer")
	assert.Contains(t, err.Error(), "calls_per_minute")
}
