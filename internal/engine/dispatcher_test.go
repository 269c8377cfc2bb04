package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-core/internal/analyzer"
	"signal-core/internal/scheduler"
	"signal-core/internal/signal"
	"signal-core/internal/tier"
	"signal-core/pkg/db"
)

type stubAdvisor struct {
	advisory analyzer.Advisory
}

func (s *stubAdvisor) Analyze(context.Context, signal.Signal) analyzer.Advisory {
	return s.advisory
}

type stubClassifier struct {
	eligible []tier.Eligible
	err      error
}

func (s *stubClassifier) ClassifyEligible(context.Context, signal.Signal) ([]tier.Eligible, error) {
	return s.eligible, s.err
}

type stubAdmitter struct {
	mu       sync.Mutex
	enqueued []scheduler.WorkItem
	failFor  map[string]error
}

func (s *stubAdmitter) Enqueue(item scheduler.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[item.AccountID]; ok {
		return err
	}
	s.enqueued = append(s.enqueued, item)
	return nil
}

type stubHistory struct {
	mu      sync.Mutex
	appends int
}

func (s *stubHistory) AppendSignalHistory(context.Context, db.HistoryEntry) error {
	s.mu.Lock()
	s.appends++
	s.mu.Unlock()
	return nil
}

func freshSignal() signal.Signal {
	now := time.Now()
	return signal.Signal{
		Ticker:          "BTCUSDT",
		Direction:       signal.DirectionLong,
		Strength:        signal.StrengthNormal,
		ReceivedAt:      now,
		SourceTimestamp: now,
	}
}

func neutralAdvisor() *stubAdvisor {
	return &stubAdvisor{advisory: analyzer.Neutral()}
}

func TestDispatchFanOut(t *testing.T) {
	classifier := &stubClassifier{eligible: []tier.Eligible{
		{AccountID: "real-acct", Tier: tier.TierReal, Exchange: "binance", Environment: "main", OrderValue: 100, Leverage: 5},
		{AccountID: "bonus-acct", Tier: tier.TierBonus, Exchange: "bybit", Environment: "main", OrderValue: 50, Leverage: 3},
		{AccountID: "test-acct", Tier: tier.TierTest, Exchange: "binance", Environment: "main", OrderValue: 10, Leverage: 1},
	}}
	admitter := &stubAdmitter{}
	history := &stubHistory{}
	d := NewDispatcher(neutralAdvisor(), classifier, admitter, history, nil, nil, 45*time.Second)

	res, err := d.Dispatch(context.Background(), freshSignal())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Eligible != 3 || res.Enqueued != 3 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(admitter.enqueued) != 3 {
		t.Fatalf("expected 3 work items, got %d", len(admitter.enqueued))
	}
	if admitter.enqueued[0].AccountID != "real-acct" {
		t.Errorf("first enqueued = %s, want real-acct", admitter.enqueued[0].AccountID)
	}
	// Exactly one history entry per signal, never one per account.
	if history.appends != 1 {
		t.Errorf("history appends = %d, want 1", history.appends)
	}
}

func TestDispatchRejectsInvalidSignal(t *testing.T) {
	d := NewDispatcher(neutralAdvisor(), &stubClassifier{}, &stubAdmitter{}, &stubHistory{}, nil, nil, 45*time.Second)

	sig := freshSignal()
	sig.Direction = "SIDEWAYS"
	_, err := d.Dispatch(context.Background(), sig)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDispatchRejectsStaleSignal(t *testing.T) {
	history := &stubHistory{}
	d := NewDispatcher(neutralAdvisor(), &stubClassifier{}, &stubAdmitter{}, history, nil, nil, 45*time.Second)

	sig := freshSignal()
	sig.SourceTimestamp = time.Now().Add(-time.Minute)
	_, err := d.Dispatch(context.Background(), sig)
	if !errors.Is(err, ErrSchedulingTimeout) {
		t.Errorf("expected ErrSchedulingTimeout, got %v", err)
	}
	if history.appends != 0 {
		t.Errorf("stale signal must not enter history, appends = %d", history.appends)
	}
}

func TestDispatchSkipsDuplicateInFlight(t *testing.T) {
	classifier := &stubClassifier{eligible: []tier.Eligible{
		{AccountID: "busy", Tier: tier.TierReal, Exchange: "binance", Environment: "main"},
		{AccountID: "idle", Tier: tier.TierReal, Exchange: "binance", Environment: "main"},
	}}
	admitter := &stubAdmitter{failFor: map[string]error{"busy": scheduler.ErrDuplicateInFlight}}
	d := NewDispatcher(neutralAdvisor(), classifier, admitter, &stubHistory{}, nil, nil, 45*time.Second)

	res, err := d.Dispatch(context.Background(), freshSignal())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Enqueued != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 enqueued and 1 skipped", res)
	}
}

func TestDispatchAdvisoryVeto(t *testing.T) {
	rejectHigh := &stubAdvisor{advisory: analyzer.Advisory{
		Recommendation: analyzer.RecommendReject,
		Pattern:        analyzer.PatternStrongShortTrend,
		Confidence:     0.8,
		ContrarianRisk: analyzer.RiskHigh,
	}}
	classifier := &stubClassifier{eligible: []tier.Eligible{
		{AccountID: "acct", Tier: tier.TierReal, Exchange: "binance", Environment: "main"},
	}}
	admitter := &stubAdmitter{}
	history := &stubHistory{}
	d := NewDispatcher(rejectHigh, classifier, admitter, history, nil, nil, 45*time.Second)

	res, err := d.Dispatch(context.Background(), freshSignal())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Enqueued != 0 {
		t.Errorf("vetoed signal must not enqueue, got %d", res.Enqueued)
	}
	if len(admitter.enqueued) != 0 {
		t.Errorf("admitter received %d items", len(admitter.enqueued))
	}
	// A vetoed signal is still observed history.
	if history.appends != 1 {
		t.Errorf("history appends = %d, want 1", history.appends)
	}
}

func TestDispatchMarketContextVeto(t *testing.T) {
	rejectMedium := &stubAdvisor{advisory: analyzer.Advisory{
		Recommendation: analyzer.RecommendReject,
		Pattern:        analyzer.PatternStrongShortTrend,
		Confidence:     0.8,
		ContrarianRisk: analyzer.RiskMedium,
	}}
	classifier := &stubClassifier{eligible: []tier.Eligible{
		{AccountID: "acct", Tier: tier.TierReal, Exchange: "binance", Environment: "main"},
	}}

	t.Run("opposing trend blocks", func(t *testing.T) {
		market := &StaticContext{}
		market.Update(MarketContext{TrendDirection: "SHORT"})
		admitter := &stubAdmitter{}
		d := NewDispatcher(rejectMedium, classifier, admitter, &stubHistory{}, market, nil, 45*time.Second)

		res, err := d.Dispatch(context.Background(), freshSignal())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if res.Enqueued != 0 {
			t.Errorf("expected veto with opposing market trend, enqueued %d", res.Enqueued)
		}
	})

	t.Run("aligned trend admits", func(t *testing.T) {
		market := &StaticContext{}
		market.Update(MarketContext{TrendDirection: "LONG"})
		admitter := &stubAdmitter{}
		d := NewDispatcher(rejectMedium, classifier, admitter, &stubHistory{}, market, nil, 45*time.Second)

		res, err := d.Dispatch(context.Background(), freshSignal())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if res.Enqueued != 1 {
			t.Errorf("reject without high risk or opposing trend must admit, enqueued %d", res.Enqueued)
		}
	})
}
