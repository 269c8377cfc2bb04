// Package analyzer derives an advisory from recent signal history for a
// ticker. The result informs admission; it is never a hard gate.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"signal-core/internal/signal"
	"signal-core/pkg/db"
)

// Recommendation values.
const (
	RecommendApprove = "APPROVE"
	RecommendReject  = "REJECT"
	RecommendNeutral = "NEUTRAL"
)

// Contrarian risk levels.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Pattern labels.
const (
	PatternStrongLongTrend  = "STRONG_LONG_TREND"
	PatternStrongShortTrend = "STRONG_SHORT_TREND"
	PatternLongBias         = "LONG_BIAS"
	PatternShortBias        = "SHORT_BIAS"
	PatternMixed            = "MIXED"
	PatternInsufficient     = "INSUFFICIENT_HISTORY"
)

const (
	fetchDepth      = 20 // entries fetched per ticker
	biasDepth       = 5  // most recent entries used for bias detection
	contrarianDepth = 3  // most recent entries used for contrarian risk
)

// Advisory is the analyzer's output for one signal.
type Advisory struct {
	Recommendation string  `json:"recommendation"`
	Pattern        string  `json:"pattern"`
	Confidence     float64 `json:"confidence"`
	ContrarianRisk string  `json:"contrarian_risk"`
}

// Neutral is the fail-open advisory used when history cannot be read.
func Neutral() Advisory {
	return Advisory{
		Recommendation: RecommendNeutral,
		Pattern:        PatternInsufficient,
		Confidence:     0.5,
		ContrarianRisk: RiskLow,
	}
}

type historyReader interface {
	RecentHistory(ctx context.Context, ticker string, n int) ([]db.HistoryEntry, error)
}

// Analyzer classifies directional bias from signal history.
type Analyzer struct {
	history historyReader

	mu       sync.RWMutex
	fallback map[string][]db.HistoryEntry // last good read per ticker
}

func New(history historyReader) *Analyzer {
	return &Analyzer{
		history:  history,
		fallback: make(map[string][]db.HistoryEntry),
	}
}

// Analyze returns an advisory for sig. On history-read failure it falls back
// to the last cached read for the ticker, or a neutral advisory; the analyzer
// never blocks admission.
func (a *Analyzer) Analyze(ctx context.Context, sig signal.Signal) Advisory {
	entries, err := a.history.RecentHistory(ctx, sig.Ticker, fetchDepth)
	if err != nil {
		log.Printf("analyzer: history read failed for %s, failing open: %v", sig.Ticker, err)
		if cached := a.cached(sig.Ticker); cached != nil {
			return a.classify(sig, cached)
		}
		return Neutral()
	}

	a.remember(sig.Ticker, entries)
	return a.classify(sig, entries)
}

func (a *Analyzer) classify(sig signal.Signal, entries []db.HistoryEntry) Advisory {
	if len(entries) == 0 {
		return Neutral()
	}

	pattern, bias, confidence := detectBias(entries)

	adv := Advisory{
		Pattern:        pattern,
		Confidence:     confidence,
		Recommendation: RecommendNeutral,
		ContrarianRisk: contrarianRisk(sig, entries),
	}

	strong := pattern == PatternStrongLongTrend || pattern == PatternStrongShortTrend
	switch {
	case bias != "" && signal.Direction(bias) == sig.Direction:
		adv.Recommendation = RecommendApprove
	case strong && signal.Direction(bias) == sig.Direction.Opposite():
		adv.Recommendation = RecommendReject
	}
	return adv
}

// detectBias classifies the most recent entries (newest first) into a trend
// pattern: ≥4 of 5 one way is a strong trend, a plain majority is a bias,
// anything else is mixed.
func detectBias(entries []db.HistoryEntry) (pattern, bias string, confidence float64) {
	window := entries
	if len(window) > biasDepth {
		window = window[:biasDepth]
	}

	var longs, shorts int
	for _, e := range window {
		if signal.Direction(e.Direction) == signal.DirectionLong {
			longs++
		} else {
			shorts++
		}
	}

	total := len(window)
	switch {
	case total >= biasDepth && longs >= 4:
		return PatternStrongLongTrend, string(signal.DirectionLong), 0.8
	case total >= biasDepth && shorts >= 4:
		return PatternStrongShortTrend, string(signal.DirectionShort), 0.8
	case longs > shorts:
		return PatternLongBias, string(signal.DirectionLong), 0.6
	case shorts > longs:
		return PatternShortBias, string(signal.DirectionShort), 0.6
	default:
		return PatternMixed, "", 0.5
	}
}

// contrarianRisk checks the 3 most recent entries for opposition to the new
// signal: ≥2 opposite is HIGH, exactly 1 is MEDIUM, else LOW.
func contrarianRisk(sig signal.Signal, entries []db.HistoryEntry) string {
	window := entries
	if len(window) > contrarianDepth {
		window = window[:contrarianDepth]
	}

	opposite := 0
	for _, e := range window {
		if signal.Direction(e.Direction) == sig.Direction.Opposite() {
			opposite++
		}
	}
	switch {
	case opposite >= 2:
		return RiskHigh
	case opposite == 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (a *Analyzer) remember(ticker string, entries []db.HistoryEntry) {
	a.mu.Lock()
	a.fallback[ticker] = entries
	a.mu.Unlock()
}

func (a *Analyzer) cached(ticker string) []db.HistoryEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fallback[ticker]
}

// String implements fmt.Stringer for log lines.
func (adv Advisory) String() string {
	return fmt.Sprintf("%s pattern=%s conf=%.1f risk=%s",
		adv.Recommendation, adv.Pattern, adv.Confidence, adv.ContrarianRisk)
}
