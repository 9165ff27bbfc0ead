// Package dialer implements the Outbound Dialer (C7, spec.md §4.7): a
// bounded, priority-ordered, rate-limited executor of outbound calls with
// pause/resume/cancel and per-call callbacks. Grounded on tarsy's
// pkg/queue WorkerPool/Worker split (start/stop/health shape, per-pool
// mutex, semaphore-as-capacity) generalized from a DB-backed session queue
// to an in-memory call heap; golang.org/x/time/rate provides the
// calls-per-minute limiter and github.com/sony/gobreaker wraps SIP
// origination so a failing SIP backend trips fast instead of burning the
// whole concurrency budget on doomed originate calls.
package dialer

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

// Status is the Dialer's own lifecycle state (spec.md §4.7).
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// ConversationHandler runs the STT/LLM/TTS conversation (C8) once a call is
// answered and returns its terminal CallResult. The dialer itself only
// knows SIP state; interpreting the conversation is out of its scope
// (spec.md §4.7/§4.8 control flow in §2: "The Dialer ... hands accepted
// calls to C8, which runs the pipeline and returns an Outcome").
type ConversationHandler interface {
	Handle(ctx context.Context, call external.Call, queued *domain.QueuedCall) domain.CallResult
}

// Stats is the Dialer's public snapshot (spec.md §4.7's stats() command).
type Stats struct {
	Status               Status
	QueueSize            int
	ActiveCalls          int
	CompletedToday       int
	BusinessHoursActive  bool
	NextBusinessStart    *time.Time
}

// Dialer is a single tenant's outbound call executor. Its queue, semaphore
// counter, and status are owned exclusively by the dispatch goroutine;
// external callers mutate them only through the command methods below,
// each of which acquires the single per-dialer mutex (spec.md §5).
type Dialer struct {
	tenantID string
	cfg      *config.DialerConfig
	gate     *clock.BusinessHoursGate
	clk      clock.Clock
	sip      external.SIPClient
	conv     ConversationHandler
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	log      *slog.Logger

	mu             sync.Mutex
	queue          callQueue
	byID           map[string]*item
	status         Status
	activeCalls    int
	completedToday int
	lastResetDate  string // YYYY-MM-DD of Clock.Now() in the clock's own location

	sem chan struct{}

	stopCh       chan struct{}
	dispatchDone chan struct{}
	inFlight     sync.WaitGroup
}

// New builds a Dialer in the stopped state. conv may be nil only in tests
// that never let a call be answered.
func New(tenantID string, cfg *config.DialerConfig, gate *clock.BusinessHoursGate, clk clock.Clock, sip external.SIPClient, conv ConversationHandler, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	breakerSettings := gobreaker.Settings{
		Name: "dialer-sip-" + tenantID,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Dialer{
		tenantID: tenantID,
		cfg:      cfg,
		gate:     gate,
		clk:      clk,
		sip:      sip,
		conv:     conv,
		breaker:  gobreaker.NewCircuitBreaker(breakerSettings),
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.CallsPerMinute)/60.0), cfg.CallsPerMinute),
		log:      log,
		byID:     make(map[string]*item),
		status:   StatusStopped,
		sem:      make(chan struct{}, cfg.MaxConcurrentCalls),
	}
}

// Start transitions stopped -> running and launches the dispatch loop.
func (d *Dialer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.status != StatusStopped {
		d.mu.Unlock()
		return
	}
	d.status = StatusRunning
	d.stopCh = make(chan struct{})
	d.dispatchDone = make(chan struct{})
	d.mu.Unlock()

	go d.dispatchLoop(ctx)
}

// Pause transitions running -> paused. Queued calls remain queued.
func (d *Dialer) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusRunning {
		d.status = StatusPaused
	}
}

// Resume transitions paused -> running.
func (d *Dialer) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusPaused {
		d.status = StatusRunning
	}
}

// Stop drains in-flight calls up to cfg.DrainTimeout, then discards the
// remaining queue, delivering a cancelled CallResult to every discarded
// call's callback (spec.md §5).
func (d *Dialer) Stop() {
	d.mu.Lock()
	if d.status == StatusStopped {
		d.mu.Unlock()
		return
	}
	d.status = StatusStopped
	close(d.stopCh)
	d.mu.Unlock()

	<-d.dispatchDone

	drained := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(d.cfg.DrainTimeout):
		d.log.Warn("dialer stop: drain timeout exceeded, abandoning remaining in-flight calls", "tenant_id", d.tenantID)
	}

	d.mu.Lock()
	remaining := d.queue.snapshot()
	d.queue = nil
	d.byID = make(map[string]*item)
	d.mu.Unlock()

	now := d.clk.Now()
	for _, call := range remaining {
		if call.ResultCallback != nil {
			call.ResultCallback(domain.CallResult{
				CallID:    call.ID,
				Outcome:   domain.OutcomeCancelled,
				Reason:    "dialer stopped",
				StartedAt: now,
				EndedAt:   now,
			})
		}
	}
}

// QueueCall enqueues a call regardless of dialer state (spec.md §4.7):
// queuing succeeds even while paused or stopped.
func (d *Dialer) QueueCall(tenantID, patientID, phone, callType string, priority domain.CallPriority, metadata map[string]string, callback func(domain.CallResult)) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	call := &domain.QueuedCall{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		PatientID:      patientID,
		PhoneNumber:    phone,
		CallType:       callType,
		Priority:       priority,
		QueuedAt:       d.clk.Now(),
		Metadata:       metadata,
		ResultCallback: callback,
	}
	it := &item{call: call}
	heap.Push(&d.queue, it)
	d.byID[call.ID] = it
	return call.ID
}

// CancelCall removes a call from the queue if it is still queued (not
// in-flight). Returns false if the call is unknown or already dispatched.
func (d *Dialer) CancelCall(callID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, ok := d.byID[callID]
	if !ok {
		return false
	}
	heap.Remove(&d.queue, it.index)
	delete(d.byID, callID)
	return true
}

// ClearQueue empties all non-in-flight entries and returns the count removed.
func (d *Dialer) ClearQueue() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	d.queue = nil
	d.byID = make(map[string]*item)
	return n
}

// Snapshot returns the queued calls in priority order.
func (d *Dialer) Snapshot() []*domain.QueuedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.snapshot()
}

// Stats returns the Dialer's current public snapshot.
func (d *Dialer) Stats() Stats {
	d.mu.Lock()
	status := d.status
	queueSize := len(d.queue)
	active := d.activeCalls
	completed := d.completedToday
	d.mu.Unlock()

	ok, next := d.gate.MayDial()
	s := Stats{
		Status:              status,
		QueueSize:           queueSize,
		ActiveCalls:         active,
		CompletedToday:      completed,
		BusinessHoursActive: ok,
	}
	if !ok {
		s.NextBusinessStart = &next
	}
	return s
}

// dispatchLoop is the single logical task per Dialer instance implementing
// spec.md §4.7's six-step loop. It polls at a short fixed interval rather
// than blocking on condition variables, mirroring the ticker-driven poll
// idiom this module uses elsewhere (pkg/delivery.Sweeper) instead of
// tarsy's DB-polling worker loop.
func (d *Dialer) dispatchLoop(ctx context.Context) {
	defer close(d.dispatchDone)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dialer) tick(ctx context.Context) {
	d.mu.Lock()
	if d.status != StatusRunning {
		d.mu.Unlock()
		return
	}
	d.maybeResetDailyCounterLocked()
	if d.cfg.MaxCallsPerDay > 0 && d.completedToday >= d.cfg.MaxCallsPerDay {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if ok, _ := d.gate.MayDial(); !ok {
		return
	}

	if !d.limiter.Allow() {
		return
	}

	select {
	case d.sem <- struct{}{}:
	default:
		return
	}

	d.mu.Lock()
	if d.queue.Len() == 0 {
		d.mu.Unlock()
		<-d.sem
		return
	}
	it := heap.Pop(&d.queue).(*item)
	delete(d.byID, it.call.ID)
	d.activeCalls++
	d.mu.Unlock()

	d.inFlight.Add(1)
	go d.runCall(ctx, it.call)
}

func (d *Dialer) runCall(ctx context.Context, call *domain.QueuedCall) {
	defer func() {
		<-d.sem
		d.mu.Lock()
		d.activeCalls--
		d.maybeResetDailyCounterLocked()
		d.completedToday++
		d.mu.Unlock()
		d.inFlight.Done()
	}()

	start := d.clk.Now()

	sipCall, err := d.originate(ctx, call)
	if err != nil {
		d.log.Error("originate failed", "call_id", call.ID, "error", err)
		d.deliver(call, domain.CallResult{
			CallID: call.ID, Outcome: domain.OutcomeFailed, Reason: err.Error(),
			StartedAt: start, EndedAt: d.clk.Now(), Err: err,
		})
		return
	}

	answered, waitErr := d.sip.WaitForAnswer(ctx, sipCall.ID, d.cfg.RingTimeout)
	if waitErr != nil || !answered {
		d.deliver(call, domain.CallResult{
			CallID: call.ID, Outcome: domain.OutcomeNoAnswer, Reason: "ring timeout",
			StartedAt: start, EndedAt: d.clk.Now(),
		})
		return
	}

	if d.conv == nil {
		d.deliver(call, domain.CallResult{
			CallID: call.ID, Outcome: domain.OutcomeFailed, Reason: "no conversation handler configured",
			StartedAt: start, EndedAt: d.clk.Now(),
		})
		return
	}

	result := d.conv.Handle(ctx, sipCall, call)
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = start
	}
	if result.EndedAt.IsZero() {
		result.EndedAt = d.clk.Now()
	}
	d.deliver(call, result)
}

// originate wraps SIPClient.Originate in the circuit breaker so repeated
// SIP failures trip fast (spec.md §5 failure semantics: the breaker opening
// surfaces exactly like a synchronous originate failure — record, callback,
// continue; no retry here, the workflow owns retries per spec.md §4.7).
func (d *Dialer) originate(ctx context.Context, call *domain.QueuedCall) (external.Call, error) {
	res, err := d.breaker.Execute(func() (any, error) {
		return d.sip.Originate(ctx, call.PhoneNumber, "", d.cfg.RingTimeout, call.Metadata)
	})
	if err != nil {
		return external.Call{}, fmt.Errorf("sip originate: %w", err)
	}
	return res.(external.Call), nil
}

func (d *Dialer) deliver(call *domain.QueuedCall, result domain.CallResult) {
	if call.ResultCallback != nil {
		call.ResultCallback(result)
	}
}

// maybeResetDailyCounterLocked resets CompletedToday at the local-day
// boundary per Design Decision D2 (Open Question 2): wall-clock local day,
// checked on every dispatch-loop completion. Caller must hold d.mu.
func (d *Dialer) maybeResetDailyCounterLocked() {
	today := d.clk.Now().Format("2006-01-02")
	if d.lastResetDate == "" {
		d.lastResetDate = today
		return
	}
	if today != d.lastResetDate {
		d.completedToday = 0
		d.lastResetDate = today
	}
}
