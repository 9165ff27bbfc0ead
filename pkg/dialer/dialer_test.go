package dialer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// fakeSIP records origination order; no call is ever answered.
type fakeSIP struct {
	mu         sync.Mutex
	originated []string
}

func (s *fakeSIP) Originate(ctx context.Context, destination, callerID string, ringTimeout time.Duration, metadata map[string]string) (external.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originated = append(s.originated, destination)
	return external.Call{ID: uuid.NewString(), Direction: external.DirectionOutbound, State: external.CallRinging, Destination: destination}, nil
}

func (s *fakeSIP) WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) (bool, error) {
	return false, nil
}

func (s *fakeSIP) Hangup(ctx context.Context, callID string) (bool, error) { return true, nil }

func (s *fakeSIP) OnEvent(fn func(external.CallEvent)) {}

func (s *fakeSIP) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.originated))
	copy(out, s.originated)
	return out
}

func testDialer(t *testing.T, sip external.SIPClient, clk clock.Clock) *Dialer {
	t.Helper()
	cfg := &config.DialerConfig{
		MaxConcurrentCalls: 1,
		CallsPerMinute:     600,
		RingTimeout:        20 * time.Millisecond,
		DrainTimeout:       time.Second,
	}
	gate, err := clock.NewBusinessHoursGate(clk, &config.BusinessHoursConfig{
		Timezone:  "UTC",
		StartHour: 0,
		EndHour:   24,
	})
	require.NoError(t, err)
	return New("t1", cfg, gate, clk, sip, nil, nil)
}

// Tuesday mid-morning, comfortably inside any business window.
func tuesday() time.Time {
	return time.Date(2026, 7, 28, 10, 0, 0, 0, time.UTC)
}

func TestDispatchOrderByPriorityThenQueuedAt(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	sip := &fakeSIP{}
	d := testDialer(t, sip, clk)

	// Queue while stopped: accepted regardless of dialer state.
	d.QueueCall("t1", "p1", "+49-low", "reminder", domain.PriorityLow, nil, nil)
	clk.Advance(time.Second)
	d.QueueCall("t1", "p2", "+49-normal-1", "reminder", domain.PriorityNormal, nil, nil)
	clk.Advance(time.Second)
	d.QueueCall("t1", "p3", "+49-urgent", "reminder", domain.PriorityUrgent, nil, nil)
	clk.Advance(time.Second)
	d.QueueCall("t1", "p4", "+49-normal-2", "reminder", domain.PriorityNormal, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.Eventually(t, func() bool { return len(sip.order()) == 4 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"+49-urgent", "+49-normal-1", "+49-normal-2", "+49-low"}, sip.order())
}

func TestSnapshotInPriorityOrder(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityLow, nil, nil)
	clk.Advance(time.Second)
	d.QueueCall("t1", "p2", "+49-2", "reminder", domain.PriorityUrgent, nil, nil)
	clk.Advance(time.Second)
	d.QueueCall("t1", "p3", "+49-3", "reminder", domain.PriorityHigh, nil, nil)

	snap := d.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "+49-2", snap[0].PhoneNumber)
	assert.Equal(t, "+49-3", snap[1].PhoneNumber)
	assert.Equal(t, "+49-1", snap[2].PhoneNumber)
}

func TestCancelCall(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	id := d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityNormal, nil, nil)
	assert.True(t, d.CancelCall(id))
	assert.Empty(t, d.Snapshot())

	// Cancelling twice returns false.
	assert.False(t, d.CancelCall(id))
	assert.False(t, d.CancelCall("no-such-call"))
}

func TestClearQueue(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityNormal, nil, nil)
	d.QueueCall("t1", "p2", "+49-2", "reminder", domain.PriorityNormal, nil, nil)

	assert.Equal(t, 2, d.ClearQueue())
	assert.Equal(t, 0, d.ClearQueue())
	assert.Empty(t, d.Snapshot())
}

func TestPausedDialerHoldsQueue(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	sip := &fakeSIP{}
	d := testDialer(t, sip, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()
	d.Pause()

	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityNormal, nil, nil)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sip.order())
	assert.Equal(t, StatusPaused, d.Stats().Status)

	d.Resume()
	require.Eventually(t, func() bool { return len(sip.order()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestOutsideBusinessHoursNoDialing(t *testing.T) {
	// Sunday, with a weekday-only gate.
	clk := &fakeClock{at: time.Date(2026, 7, 26, 10, 0, 0, 0, time.UTC)}
	sip := &fakeSIP{}
	cfg := &config.DialerConfig{MaxConcurrentCalls: 1, CallsPerMinute: 600, RingTimeout: 20 * time.Millisecond, DrainTimeout: time.Second}
	gate, err := clock.NewBusinessHoursGate(clk, &config.BusinessHoursConfig{Timezone: "UTC", StartHour: 8, EndHour: 18, WeekdaysOnly: true})
	require.NoError(t, err)
	d := New("t1", cfg, gate, clk, sip, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityUrgent, nil, nil)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sip.order())

	stats := d.Stats()
	assert.False(t, stats.BusinessHoursActive)
	require.NotNil(t, stats.NextBusinessStart)
	// Next window is Monday 08:00.
	assert.Equal(t, time.Date(2026, 7, 27, 8, 0, 0, 0, time.UTC), stats.NextBusinessStart.In(time.UTC))
}

func TestStopDeliversCancelledToQueuedCalls(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Pause()

	var mu sync.Mutex
	var results []domain.CallResult
	cb := func(r domain.CallResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}
	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityNormal, nil, cb)
	d.QueueCall("t1", "p2", "+49-2", "reminder", domain.PriorityNormal, nil, cb)

	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, domain.OutcomeCancelled, r.Outcome)
	}
}

func TestNoAnswerOutcomeDelivered(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	resultCh := make(chan domain.CallResult, 1)
	d.QueueCall("t1", "p1", "+49-1", "reminder", domain.PriorityNormal, nil, func(r domain.CallResult) {
		resultCh <- r
	})

	select {
	case r := <-resultCh:
		assert.Equal(t, domain.OutcomeNoAnswer, r.Outcome)
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired")
	}

	require.Eventually(t, func() bool { return d.Stats().CompletedToday == 1 }, time.Second, 10*time.Millisecond)
}

func TestDailyCounterResetsAtLocalDayBoundary(t *testing.T) {
	clk := &fakeClock{at: tuesday()}
	d := testDialer(t, &fakeSIP{}, clk)

	d.mu.Lock()
	d.completedToday = 7
	d.lastResetDate = "2026-07-28"
	d.maybeResetDailyCounterLocked()
	assert.Equal(t, 7, d.completedToday)
	d.mu.Unlock()

	clk.Advance(24 * time.Hour)
	d.mu.Lock()
	d.maybeResetDailyCounterLocked()
	assert.Equal(t, 0, d.completedToday)
	assert.Equal(t, "2026-07-29", d.lastResetDate)
	d.mu.Unlock()
}
