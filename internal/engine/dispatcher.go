package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-core/internal/analyzer"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/scheduler"
	"signal-core/internal/signal"
	"signal-core/internal/tier"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

type advisor interface {
	Analyze(ctx context.Context, sig signal.Signal) analyzer.Advisory
}

type classifier interface {
	ClassifyEligible(ctx context.Context, sig signal.Signal) ([]tier.Eligible, error)
}

type admitter interface {
	Enqueue(item scheduler.WorkItem) error
}

type historyWriter interface {
	AppendSignalHistory(ctx context.Context, e db.HistoryEntry) error
}

// DispatchResult summarizes one signal's admission.
type DispatchResult struct {
	Advisory analyzer.Advisory `json:"advisory"`
	Eligible int               `json:"eligible"`
	Enqueued int               `json:"enqueued"`
	Skipped  int               `json:"skipped"`
}

// Dispatcher is the signal's entry into the core: freshness check, advisory,
// eligibility fan-out, lane admission, and exactly one history append per
// signal regardless of per-account outcomes.
type Dispatcher struct {
	advisor    advisor
	classifier classifier
	admitter   admitter
	history    historyWriter
	market     ContextProvider
	bus        *events.Bus
	freshness  time.Duration
}

func NewDispatcher(adv advisor, cls classifier, adm admitter, hist historyWriter,
	market ContextProvider, bus *events.Bus, freshness time.Duration) *Dispatcher {
	return &Dispatcher{
		advisor:    adv,
		classifier: cls,
		admitter:   adm,
		history:    hist,
		market:     market,
		bus:        bus,
		freshness:  freshness,
	}
}

// Dispatch admits one validated signal. The intake gateway already
// deduplicated it; staleness is re-checked here because queue time upstream
// is not under our control.
func (d *Dispatcher) Dispatch(ctx context.Context, sig signal.Signal) (DispatchResult, error) {
	var res DispatchResult

	if err := sig.Validate(); err != nil {
		monitor.RecordSignal("invalid")
		return res, validationErr("%v", err)
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now()
	}
	if sig.Stale(time.Now(), d.freshness) {
		monitor.RecordSignal("stale")
		d.publishRejected(sig, "stale")
		return res, fmt.Errorf("%w: signal aged %s", ErrSchedulingTimeout, sig.Age(time.Now()).Round(time.Second))
	}

	res.Advisory = d.advisor.Analyze(ctx, sig)
	if d.vetoed(sig, res.Advisory) {
		monitor.RecordSignal("vetoed")
		d.publishRejected(sig, "advisory veto")
		d.appendHistory(ctx, sig)
		return res, nil
	}

	eligible, err := d.classifier.ClassifyEligible(ctx, sig)
	if err != nil {
		monitor.RecordSignal("classify_error")
		return res, fmt.Errorf("classify eligible accounts: %w", err)
	}
	res.Eligible = len(eligible)

	for _, acct := range eligible {
		item := scheduler.WorkItem{
			Signal:      sig,
			AccountID:   acct.AccountID,
			Tier:        acct.Tier,
			Exchange:    acct.Exchange,
			Environment: common.Environment(acct.Environment),
			OrderValue:  acct.OrderValue,
			Leverage:    acct.Leverage,
		}
		if err := d.admitter.Enqueue(item); err != nil {
			res.Skipped++
			if !errors.Is(err, scheduler.ErrDuplicateInFlight) {
				log.Printf("dispatcher: enqueue failed for account %s: %v", acct.AccountID, err)
			}
			continue
		}
		res.Enqueued++
		if d.bus != nil {
			d.bus.Publish(events.EventItemAdmitted, events.AdmissionEvent{
				AccountID: acct.AccountID,
				Ticker:    sig.Ticker,
				Tier:      string(acct.Tier),
				Time:      time.Now(),
			})
		}
	}

	monitor.RecordSignal("accepted")
	if d.bus != nil {
		d.bus.Publish(events.EventSignalAccepted, events.SignalEvent{
			Ticker:    sig.Ticker,
			Direction: string(sig.Direction),
			Strength:  string(sig.Strength),
			Time:      time.Now(),
		})
	}
	d.appendHistory(ctx, sig)
	return res, nil
}

// vetoed applies the advisory as a soft gate: only a REJECT backed by high
// contrarian risk, or a REJECT while the market trend also opposes the
// signal, blocks admission. Anything weaker is advisory only.
func (d *Dispatcher) vetoed(sig signal.Signal, adv analyzer.Advisory) bool {
	if adv.Recommendation != analyzer.RecommendReject {
		return false
	}
	if adv.ContrarianRisk == analyzer.RiskHigh {
		return true
	}
	if d.market != nil {
		snap := d.market.Snapshot()
		if snap.TrendDirection != "" && signal.Direction(snap.TrendDirection) == sig.Direction.Opposite() {
			return true
		}
	}
	return false
}

// appendHistory records the signal once per signal, not once per account.
func (d *Dispatcher) appendHistory(ctx context.Context, sig signal.Signal) {
	if d.history == nil {
		return
	}
	err := d.history.AppendSignalHistory(ctx, db.HistoryEntry{
		Ticker:     sig.Ticker,
		Direction:  string(sig.Direction),
		Strength:   string(sig.Strength),
		ReceivedAt: sig.ReceivedAt,
	})
	if err != nil {
		log.Printf("dispatcher: history append failed for %s: %v", sig.Ticker, err)
	}
}

func (d *Dispatcher) publishRejected(sig signal.Signal, reason string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.EventSignalRejected, events.SignalEvent{
		Ticker:    sig.Ticker,
		Direction: string(sig.Direction),
		Strength:  string(sig.Strength),
		Reason:    reason,
		Time:      time.Now(),
	})
}
