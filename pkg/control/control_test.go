package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/audit"
	"github.com/handwerkcall/phoneagent/pkg/campaign"
	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/consent"
	"github.com/handwerkcall/phoneagent/pkg/delivery"
	"github.com/handwerkcall/phoneagent/pkg/dialer"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/domain/memstore"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

type stubSIP struct{}

func (stubSIP) Originate(ctx context.Context, destination, callerID string, ringTimeout time.Duration, metadata map[string]string) (external.Call, error) {
	return external.Call{ID: uuid.NewString()}, nil
}
func (stubSIP) WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) (bool, error) {
	return false, nil
}
func (stubSIP) Hangup(ctx context.Context, callID string) (bool, error) { return true, nil }
func (stubSIP) OnEvent(fn func(external.CallEvent))                     {}

type okGateway struct {
	mu   sync.Mutex
	sent []external.OutboundMessage
}

func (g *okGateway) Send(ctx context.Context, msg external.OutboundMessage) (external.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return external.SendResult{Success: true, ProviderMessageID: "SM" + uuid.NewString()}, nil
}

func (g *okGateway) SendBulk(ctx context.Context, msgs []external.OutboundMessage) ([]external.SendResult, error) {
	out := make([]external.SendResult, 0, len(msgs))
	for _, m := range msgs {
		r, _ := g.Send(ctx, m)
		out = append(out, r)
	}
	return out, nil
}

func (g *okGateway) GetStatus(ctx context.Context, providerMessageID string) (string, error) {
	return "unknown", nil
}

type controlFixture struct {
	svc      *Service
	dialer   *dialer.Dialer
	sms      *delivery.Machine
	smsStore *memstore.DeliveryStore
	appts    *memstore.AppointmentStore
	patients *memstore.PatientStore
	consents *consent.Store
	recalls  *memstore.RecallList
	clock    clock.Fixed
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()
	clk := clock.Fixed{At: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)}
	gate, err := clock.NewBusinessHoursGate(clk, &config.BusinessHoursConfig{Timezone: "UTC", StartHour: 0, EndHour: 24})
	require.NoError(t, err)

	auditor := audit.NewLogger(memstore.NewAuditStore(), clk, nil)
	consents := consent.NewStore(clk)
	deliveryCfg := &config.DeliveryConfig{RetryBaseDelay: time.Minute, MaxRetries: 2, RetryMaxDelay: time.Hour}
	smsStore := memstore.NewDeliveryStore()
	sms := delivery.New(smsStore, &okGateway{}, clk, auditor, deliveryCfg, nil)
	email := delivery.New(memstore.NewDeliveryStore(), &okGateway{}, clk, auditor, deliveryCfg, nil)

	// The dialer stays stopped throughout: queued calls are observable but
	// never dispatched, which is exactly what the queue commands need.
	d := dialer.New("t1", &config.DialerConfig{MaxConcurrentCalls: 1, CallsPerMinute: 60, RingTimeout: time.Second, DrainTimeout: time.Second}, gate, clk, stubSIP{}, nil, nil)

	appts := memstore.NewAppointmentStore()
	patients := memstore.NewPatientStore()
	recalls := memstore.NewRecallList()
	deps := campaign.Deps{TenantID: "t1", Dialer: d, Consent: consents, Audit: auditor, SMS: sms, Clock: clk}

	reminder := campaign.NewReminderWorkflow(deps, appts, patients, &config.ReminderConfig{HoursBefore: 24, MinHoursBefore: 2, MaxAttempts: 2, RetryDelayMinutes: 30, SMSAfterFailedAttempts: 2})
	recall := campaign.NewRecallWorkflow(deps, recalls, &config.RecallConfig{MaxAttempts: 3, DaysBetweenRetry: 7})
	noshow := campaign.NewNoShowWorkflow(deps, appts, patients, &config.NoShowConfig{MinHoursAfter: 1, MaxHoursAfter: 48})
	t.Cleanup(func() {
		reminder.Stop()
		recall.Stop()
		noshow.Stop()
	})

	return &controlFixture{
		svc:      New("t1", d, reminder, recall, noshow, sms, email, clk, nil),
		dialer:   d,
		sms:      sms,
		smsStore: smsStore,
		appts:    appts,
		patients: patients,
		consents: consents,
		recalls:  recalls,
		clock:    clk,
	}
}

func (f *controlFixture) seedAppointment() {
	start := f.clock.At.Add(20 * time.Hour)
	f.appts.Put(&domain.Appointment{ID: "appt-1", TenantID: "t1", PatientID: "pat-1", Start: start, End: start.Add(30 * time.Minute), ProviderName: "Dr. Müller"})
	f.patients.Put(&domain.Patient{ID: "pat-1", TenantID: "t1", Name: "Max", Phone: "+4915112345678"})
	f.consents.Grant("t1", "pat-1", "appointment_reminder", "staff", 0)
}

func TestStartReminderCampaignInvalidDate(t *testing.T) {
	f := newControlFixture(t)
	_, err := f.svc.StartReminderCampaign(context.Background(), ReminderCampaignRequest{TargetDate: "29.07.2026", SMSEnabled: true})
	require.Error(t, err)
	assert.Equal(t, "invalid_input", Kind(err))
}

func TestStartReminderCampaignQueuesCall(t *testing.T) {
	f := newControlFixture(t)
	f.seedAppointment()

	stats, err := f.svc.StartReminderCampaign(context.Background(), ReminderCampaignRequest{SMSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalScheduled)

	queue := f.svc.GetCallQueue()
	require.Len(t, queue, 1)
	assert.Equal(t, "reminder", queue[0].CallType)

	assert.True(t, f.svc.CancelQueuedCall(queue[0].ID))
	assert.False(t, f.svc.CancelQueuedCall(queue[0].ID))
	assert.Empty(t, f.svc.GetCallQueue())
}

func TestClearCallQueue(t *testing.T) {
	f := newControlFixture(t)
	f.seedAppointment()
	_, err := f.svc.StartReminderCampaign(context.Background(), ReminderCampaignRequest{SMSEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, 1, f.svc.ClearCallQueue())
	assert.Equal(t, 0, f.svc.ClearCallQueue())
}

func TestRecallCommands(t *testing.T) {
	f := newControlFixture(t)

	_, err := f.svc.StartRecallCalling(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.Equal(t, "not_found", Kind(err))

	_, err = f.svc.StartRecallCalling(context.Background(), "", 0)
	assert.Equal(t, "invalid_input", Kind(err))

	f.recalls.Enroll("camp-1", campaign.RecallTarget{PatientID: "pat-9", Phone: "+4915199999999", Status: domain.CampaignPending})
	f.consents.Grant("t1", "pat-9", "recall_campaign", "staff", 0)

	stats, err := f.svc.StartRecallCalling(context.Background(), "camp-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CallsAttempted)

	assert.True(t, f.svc.PauseRecall("camp-1"))
	assert.True(t, f.svc.ResumeRecall("camp-1"))
	assert.False(t, f.svc.PauseRecall(""))
}

func TestProcessNoShowsInvalidDate(t *testing.T) {
	f := newControlFixture(t)
	_, err := f.svc.ProcessNoShows(context.Background(), NoShowRequest{TargetDate: "gestern"})
	require.Error(t, err)
	assert.Equal(t, "invalid_input", Kind(err))
}

func TestDialerPauseResume(t *testing.T) {
	f := newControlFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.dialer.Start(ctx)
	defer f.dialer.Stop()

	f.svc.PauseDialer()
	assert.Equal(t, dialer.StatusPaused, f.svc.GetDialerStats().Status)
	f.svc.ResumeDialer()
	assert.Equal(t, dialer.StatusRunning, f.svc.GetDialerStats().Status)
}

func TestHandleSMSWebhook(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	msg := f.sms.Enqueue(ctx, "t1", domain.ChannelSMS, "twilio", "+4915112345678", "Hallo", "", 2)
	require.NoError(t, f.sms.Send(ctx, msg))

	err := f.svc.HandleSMSWebhook(ctx, "twilio", map[string]string{
		"MessageSid":    msg.ProviderMessageID,
		"MessageStatus": "delivered",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)

	assert.Equal(t, "invalid_input", Kind(f.svc.HandleSMSWebhook(ctx, "twilio", map[string]string{"MessageStatus": "teleported"})))
	assert.Equal(t, "invalid_input", Kind(f.svc.HandleSMSWebhook(ctx, "sipgate", nil)))
	assert.Equal(t, "invalid_input", Kind(f.svc.HandleSMSWebhook(ctx, "carrier-pigeon", nil)))
}

func TestHandleEmailWebhook(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	assert.Equal(t, "invalid_input", Kind(f.svc.HandleEmailWebhook(ctx, "sendgrid", []byte("{not json"))))
	assert.Equal(t, "invalid_input", Kind(f.svc.HandleEmailWebhook(ctx, "pigeonpost", []byte("[]"))))

	// Unknown event types inside a valid array are skipped, not errors.
	require.NoError(t, f.svc.HandleEmailWebhook(ctx, "sendgrid", []byte(`[{"event":"processed","sg_message_id":"sg-1"}]`)))
}

func TestKindMapping(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "invalid_input", Kind(domain.NewInvalidInputError("x", "bad")))
	assert.Equal(t, "not_found", Kind(domain.NewNotFoundError("task", "t")))
	assert.Equal(t, "conflict", Kind(domain.NewConflictError("slot", "s", "booked")))
	assert.Equal(t, "consent_denied", Kind(domain.ErrConsentDenied))
	assert.Equal(t, "transient_external", Kind(domain.ErrTransientExternal))
	assert.Equal(t, "permanent_external", Kind(domain.ErrPermanentExternal))
	assert.Equal(t, "cancelled", Kind(domain.ErrCancelled))
	assert.Equal(t, "corruption", Kind(domain.ErrCorruption))
	assert.Equal(t, "internal", Kind(assert.AnError))
}
