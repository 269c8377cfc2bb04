// Package scheduler admits work items into execution through three priority
// lanes. Strict priority across lanes, strict FIFO within a lane, with
// head-of-lane hold under backpressure so lane order is never reshuffled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signal-core/internal/events"
	"signal-core/internal/tier"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

var (
	// ErrDuplicateInFlight means the account already has a live work item for
	// the ticker; the new signal is dropped, not queued.
	ErrDuplicateInFlight = errors.New("scheduler: in-flight work item exists for account/ticker")
	// ErrExchangeUnavailable means every pooled session for the target
	// exchange is unhealthy. Backpressure, not a crash.
	ErrExchangeUnavailable = errors.New("scheduler: exchange unavailable")
	// ErrClosed means the scheduler no longer accepts work.
	ErrClosed = errors.New("scheduler: closed")
)

// pollInterval bounds how long a dispatchable item can sit waiting for a
// token-bucket refill that produces no wakeup event.
const pollInterval = 50 * time.Millisecond

// Executor runs one admitted work item to a terminal ledger state.
type Executor interface {
	Execute(ctx context.Context, item WorkItem)
}

// capacityGate is the pool view the scheduler admits against.
type capacityGate interface {
	Available(exchange string, env common.Environment) int
	Healthy(exchange string, env common.Environment) bool
}

// dropRecorder writes terminal records for items dropped before execution.
type dropRecorder interface {
	UpsertExecutionRecord(ctx context.Context, r db.ExecutionRecord) error
}

// Scheduler owns the tier lanes and the work item lifecycle up to hand-off.
type Scheduler struct {
	pool      capacityGate
	ledger    dropRecorder
	executor  Executor
	bus       *events.Bus
	freshness time.Duration

	mu       sync.Mutex
	lanes    map[tier.Tier][]WorkItem
	inflight map[string]struct{}
	limiters map[tier.Tier]*rate.Limiter
	closed   bool

	workers chan struct{} // bounded worker slots
	wg      sync.WaitGroup
}

// New builds a scheduler. workerCap should equal the sum of pool capacities;
// policies supplies each tier's per-minute budget.
func New(pool capacityGate, ledger dropRecorder, executor Executor,
	policies tier.PolicyTable, freshness time.Duration, workerCap int) *Scheduler {

	if workerCap <= 0 {
		workerCap = 1
	}
	s := &Scheduler{
		pool:      pool,
		ledger:    ledger,
		executor:  executor,
		freshness: freshness,
		lanes:     make(map[tier.Tier][]WorkItem, len(tier.All)),
		inflight:  make(map[string]struct{}),
		limiters:  make(map[tier.Tier]*rate.Limiter, len(tier.All)),
		workers:   make(chan struct{}, workerCap),
	}
	for _, t := range tier.All {
		budget := policies[t].BudgetPerMin
		if budget <= 0 {
			budget = 1
		}
		// One token per budget interval keeps any rolling minute at or under
		// the tier budget.
		s.limiters[t] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(budget)), 1)
	}
	return s
}

// SetBus attaches the event bus used to announce dropped items.
func (s *Scheduler) SetBus(b *events.Bus) { s.bus = b }

// Enqueue admits one work item into its tier lane. Enforces the single
// in-flight invariant per (account, ticker) and rejects items targeting an
// exchange with no healthy sessions.
func (s *Scheduler) Enqueue(item WorkItem) error {
	if s.pool != nil && !s.pool.Healthy(item.Exchange, item.Environment) {
		return fmt.Errorf("%w: %s", ErrExchangeUnavailable, item.Exchange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	key := inFlightKey(item.AccountID, item.Signal.Ticker)
	if _, busy := s.inflight[key]; busy {
		return ErrDuplicateInFlight
	}

	item.EnqueuedAt = time.Now()
	s.inflight[key] = struct{}{}
	s.lanes[item.Tier] = append(s.lanes[item.Tier], item)
	return nil
}

// InFlight reports whether a non-terminal work item exists for the pair.
func (s *Scheduler) InFlight(accountID, ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[inFlightKey(accountID, ticker)]
	return busy
}

// Depths returns the current queue depth per tier.
func (s *Scheduler) Depths() map[tier.Tier]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depths := make(map[tier.Tier]int, len(tier.All))
	for _, t := range tier.All {
		depths[t] = len(s.lanes[t])
	}
	return depths
}

// Run is the central admission loop. It acquires a worker slot first so that
// when concurrency is the binding constraint, the lane scan at dispatch time
// always picks the highest-priority ready item.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case s.workers <- struct{}{}:
		}

		item, ok := s.dispatchNext(ctx)
		if !ok {
			<-s.workers
			select {
			case <-ctx.Done():
				s.shutdown()
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		s.wg.Add(1)
		go func(item WorkItem) {
			defer s.wg.Done()
			defer func() { <-s.workers }()
			defer s.finish(item)
			s.executor.Execute(ctx, item)
		}(item)
	}
}

// Wait blocks until all in-flight executions have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// dispatchNext scans lanes from highest to lowest priority and pops the
// first lane head that clears both admission budgets. A blocked head holds
// its whole lane; lower lanes may still proceed on their own budgets.
func (s *Scheduler) dispatchNext(ctx context.Context) (WorkItem, bool) {
	now := time.Now()

	s.mu.Lock()
	var dropped []WorkItem
	var picked WorkItem
	found := false

	for _, t := range tier.All {
		lane := s.lanes[t]

		// Expired heads are dropped, not executed against a stale signal.
		for len(lane) > 0 && lane[0].Expired(now, s.freshness) {
			dropped = append(dropped, lane[0])
			delete(s.inflight, inFlightKey(lane[0].AccountID, lane[0].Signal.Ticker))
			lane = lane[1:]
		}
		s.lanes[t] = lane

		if len(lane) == 0 {
			continue
		}
		head := lane[0]
		if s.pool != nil && s.pool.Available(head.Exchange, head.Environment) == 0 {
			continue // head-of-lane hold
		}
		if !s.limiters[t].Allow() {
			continue // head-of-lane hold, token refills over time
		}
		s.lanes[t] = lane[1:]
		picked = head
		found = true
		break
	}
	s.mu.Unlock()

	for _, d := range dropped {
		s.recordTimeout(ctx, d)
	}
	return picked, found
}

// finish releases the in-flight slot once the executor returned.
func (s *Scheduler) finish(item WorkItem) {
	s.mu.Lock()
	delete(s.inflight, inFlightKey(item.AccountID, item.Signal.Ticker))
	s.mu.Unlock()
}

// recordTimeout writes the auditable terminal record for a dropped item so
// no signal disappears without a trace.
func (s *Scheduler) recordTimeout(ctx context.Context, item WorkItem) {
	log.Printf("⏱️ scheduler: dropping stale %s item for account %s ticker %s (queued %s)",
		item.Tier, item.AccountID, item.Signal.Ticker, time.Since(item.EnqueuedAt).Round(time.Millisecond))

	if s.bus != nil {
		s.bus.Publish(events.EventItemDropped, events.AdmissionEvent{
			AccountID: item.AccountID,
			Ticker:    item.Signal.Ticker,
			Tier:      string(item.Tier),
			Time:      time.Now(),
		})
	}
	if s.ledger == nil {
		return
	}
	rec := db.ExecutionRecord{
		AccountID:       item.AccountID,
		Exchange:        item.Exchange,
		ClientRequestID: item.ClientRequestID(),
		Ticker:          item.Signal.Ticker,
		Status:          db.StatusSchedulingTimeout,
	}
	if err := s.ledger.UpsertExecutionRecord(ctx, rec); err != nil {
		log.Printf("scheduler: failed to record scheduling timeout for %s: %v", item.AccountID, err)
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
