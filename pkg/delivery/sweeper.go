package delivery

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/clock"
)

// Sweeper polls Store.Retryable for messages with next_retry_at <= now and
// status=pending && retry_count < max_retries, re-queuing them for Send
// (spec.md §4.4). Built in the idiom of tarsy's pkg/queue poll loops:
// ticker with jittered backoff on an empty poll.
type Sweeper struct {
	machine  *Machine
	store    Store
	clock    clock.Clock
	interval time.Duration
	log      *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a Sweeper polling at interval.
func NewSweeper(machine *Machine, store Store, c clock.Clock, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		machine:  machine,
		store:    store,
		clock:    c,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks, polling until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.sweepOnce(ctx)
			if err != nil {
				s.log.Error("retry sweep failed, backing off one interval", "error", err)
				continue
			}
			if n == 0 {
				// small jitter to avoid thundering-herd alignment across tenants
				jitter := time.Duration(rand.IntN(250)) * time.Millisecond
				time.Sleep(jitter)
			}
		}
	}
}

// Stop signals Run to return and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	due, err := s.store.Retryable(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, msg := range due {
		msg.RetryCount++
		msg.NextRetryAt = nil
		if err := s.machine.Send(ctx, msg); err != nil {
			s.log.Error("retry send failed", "message_id", msg.ID, "error", err)
		}
	}
	return len(due), nil
}
