package container

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/control"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

type stubSIP struct{}

func (stubSIP) Originate(ctx context.Context, destination, callerID string, ringTimeout time.Duration, metadata map[string]string) (external.Call, error) {
	return external.Call{ID: uuid.NewString(), State: external.CallRinging}, nil
}
func (stubSIP) WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) (bool, error) {
	return false, nil
}
func (stubSIP) Hangup(ctx context.Context, callID string) (bool, error) { return true, nil }
func (stubSIP) OnEvent(fn func(external.CallEvent))                     {}

type stubGateway struct{}

func (stubGateway) Send(ctx context.Context, msg external.OutboundMessage) (external.SendResult, error) {
	return external.SendResult{Success: true, ProviderMessageID: "sipgate_" + uuid.NewString()}, nil
}
func (stubGateway) SendBulk(ctx context.Context, msgs []external.OutboundMessage) ([]external.SendResult, error) {
	out := make([]external.SendResult, len(msgs))
	for i := range msgs {
		out[i] = external.SendResult{Success: true, ProviderMessageID: "sipgate_" + uuid.NewString()}
	}
	return out, nil
}
func (stubGateway) GetStatus(ctx context.Context, providerMessageID string) (string, error) {
	return "unknown", nil
}

func testCollaborators() Collaborators {
	return Collaborators{
		SIP:          stubSIP{},
		SMSGateway:   stubGateway{},
		EmailGateway: stubGateway{},
	}
}

func TestNewAssemblesComponentGraph(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	c, err := New("t1", cfg, testCollaborators(), clock.SystemClock{}, nil)
	require.NoError(t, err)

	assert.NotNil(t, c.Audit)
	assert.NotNil(t, c.Consent)
	assert.NotNil(t, c.SMS)
	assert.NotNil(t, c.Email)
	assert.NotNil(t, c.Dialer)
	assert.NotNil(t, c.Routing)
	assert.NotNil(t, c.Reminder)
	assert.NotNil(t, c.Recall)
	assert.NotNil(t, c.NoShow)
	assert.NotNil(t, c.Control)
	// No mailbox collaborator: no intake loop, no slot finder without a calendar.
	assert.Nil(t, c.Intake)
	assert.Nil(t, c.Slots)
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.BusinessHours.Timezone = "Mars/Olympus_Mons"

	_, err = New("t1", cfg, testCollaborators(), clock.SystemClock{}, nil)
	require.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	c, err := New("t1", cfg, testCollaborators(), clock.SystemClock{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Shutdown(context.Background())

	// Everything is stopped; queue commands still answer.
	assert.Empty(t, c.Control.GetCallQueue())
}

// End-to-end through the container: a seeded reminder target produces a
// queued call that the real dialer dispatches; the unanswered ring surfaces
// as a no_answer outcome in the campaign stats.
func TestReminderFlowThroughContainer(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	// One attempt, no retry: the first no_answer is terminal.
	cfg.Campaign.Reminder.MaxAttempts = 1
	cfg.Campaign.Reminder.SMSAfterFailedAttempts = 1
	cfg.Dialer.RingTimeout = 20 * time.Millisecond
	// Keep the gate always open so the test is independent of wall-clock.
	cfg.BusinessHours.Timezone = "UTC"
	cfg.BusinessHours.StartHour = 0
	cfg.BusinessHours.EndHour = 24
	cfg.BusinessHours.WeekdaysOnly = false

	c, err := New("t1", cfg, testCollaborators(), clock.SystemClock{}, nil)
	require.NoError(t, err)

	now := time.Now()
	start := now.Add(20 * time.Hour)
	c.Appointments.Put(&domain.Appointment{ID: "appt-1", TenantID: "t1", PatientID: "pat-1", Start: start, End: start.Add(30 * time.Minute), ProviderName: "Dr. Müller"})
	c.Patients.Put(&domain.Patient{ID: "pat-1", TenantID: "t1", Name: "Max", Phone: "+4915112345678"})
	c.Consent.Grant("t1", "pat-1", "appointment_reminder", "staff", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Shutdown(context.Background())

	stats, err := c.Control.StartReminderCampaign(ctx, control.ReminderCampaignRequest{SMSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalScheduled)

	require.Eventually(t, func() bool {
		s := c.Reminder.Stats()
		return s.NoAnswer == 1 && s.Failed == 1
	}, 5*time.Second, 20*time.Millisecond)
}
