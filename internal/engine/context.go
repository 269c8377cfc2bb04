package engine

import "sync"

// MarketContext is a periodically refreshed market snapshot supplied by an
// external provider. The engine consumes it as read-only advisory input; it
// never computes market direction itself.
type MarketContext struct {
	SentimentIndex  float64 // 0..100
	DominanceMetric float64 // percent
	TrendDirection  string  // LONG, SHORT or empty when unknown
}

// ContextProvider exposes the latest market snapshot.
type ContextProvider interface {
	Snapshot() MarketContext
}

// StaticContext is a concurrency-safe ContextProvider fed by an external
// refresher.
type StaticContext struct {
	mu   sync.RWMutex
	snap MarketContext
}

func (s *StaticContext) Update(snap MarketContext) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *StaticContext) Snapshot() MarketContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
