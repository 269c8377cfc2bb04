// Package pool manages bounded sets of reusable exchange sessions. Callers
// borrow a session, bind account credentials to it, and return it instead of
// building a fresh client per order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-core/pkg/exchanges/common"
)

var (
	// ErrAcquireTimeout is returned when no session frees up in time.
	ErrAcquireTimeout = errors.New("pool: acquire timed out")
	// ErrUnknownExchange is returned for an exchange the pool was not
	// configured with.
	ErrUnknownExchange = errors.New("pool: unknown exchange")
	// ErrExchangeUnhealthy is returned when every session for an exchange is
	// out of rotation. Callers should apply backpressure, not crash.
	ErrExchangeUnhealthy = errors.New("pool: all sessions unhealthy")
)

// unhealthyAfter is the consecutive-failure count that removes a session
// from rotation.
const unhealthyAfter = 2

// ClientFactory builds an exchange client bound to one credential pair.
type ClientFactory func(apiKey, apiSecret string, env common.Environment) common.Client

// ExchangeConfig sizes one exchange's session set. Clock and Limits are the
// per-environment state every session shares: the clock is started with the
// pool, and the weight tracker feeds the admission gate.
type ExchangeConfig struct {
	Exchange    string
	Environment common.Environment
	Size        int
	Factory     ClientFactory
	Clock       *common.TimeSync
	Limits      *common.RateLimiter
}

// Session is a pooled handle to an exchange. It is owned by exactly one
// caller between Acquire and Release.
type Session struct {
	ID          int
	Exchange    string
	Environment common.Environment

	client     common.Client
	credRef    string
	lastUsedAt time.Time
	strikes    int
}

// Bind attaches account credentials to the session for the duration of one
// checkout. credRef identifies the credential for logging, never the secret.
func (s *Session) Bind(credRef, apiKey, apiSecret string, factory ClientFactory) {
	s.credRef = credRef
	s.client = factory(apiKey, apiSecret, s.Environment)
	s.lastUsedAt = time.Now()
}

// Client returns the exchange client bound by Bind, or nil.
func (s *Session) Client() common.Client { return s.client }

// CredRef returns the identifier of the currently bound credential.
func (s *Session) CredRef() string { return s.credRef }

type bucket struct {
	exchange string
	env      common.Environment
	factory  ClientFactory
	size     int
	clock    *common.TimeSync
	limits   *common.RateLimiter

	idle chan *Session

	mu        sync.Mutex
	unhealthy []*Session
	inFlight  int
}

// Stats is a point-in-time view of one exchange's sessions.
type Stats struct {
	Idle      int
	InFlight  int
	Unhealthy int
	Size      int
}

// Pool holds fixed-size session sets per exchange.
type Pool struct {
	buckets        map[string]*bucket
	acquireTimeout time.Duration
	probeInterval  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithAcquireTimeout bounds how long Acquire blocks.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithProbeInterval sets how often unhealthy sessions are re-probed.
func WithProbeInterval(d time.Duration) Option {
	return func(p *Pool) { p.probeInterval = d }
}

// New builds a pool with the given per-exchange configurations. Sizes are
// fixed at startup.
func New(configs []ExchangeConfig, opts ...Option) (*Pool, error) {
	p := &Pool{
		buckets:        make(map[string]*bucket, len(configs)),
		acquireTimeout: 5 * time.Second,
		probeInterval:  30 * time.Second,
		stop:           make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	for _, cfg := range configs {
		if cfg.Size <= 0 {
			return nil, fmt.Errorf("pool: non-positive size %d for %s", cfg.Size, cfg.Exchange)
		}
		if cfg.Factory == nil {
			return nil, fmt.Errorf("pool: nil factory for %s", cfg.Exchange)
		}
		b := &bucket{
			exchange: cfg.Exchange,
			env:      cfg.Environment,
			factory:  cfg.Factory,
			size:     cfg.Size,
			clock:    cfg.Clock,
			limits:   cfg.Limits,
			idle:     make(chan *Session, cfg.Size),
		}
		for i := 0; i < cfg.Size; i++ {
			b.idle <- &Session{ID: i, Exchange: cfg.Exchange, Environment: cfg.Environment}
		}
		p.buckets[key(cfg.Exchange, cfg.Environment)] = b
	}
	return p, nil
}

// Start syncs each exchange's shared clock and launches the background health
// probe loop.
func (p *Pool) Start(ctx context.Context) {
	for _, b := range p.buckets {
		if b.clock != nil {
			b.clock.Start(ctx)
		}
	}
	go p.probeLoop(ctx)
}

// Close stops the probe loop.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Acquire borrows a session, blocking until one is idle or the acquire
// timeout elapses.
func (p *Pool) Acquire(ctx context.Context, exchange string, env common.Environment) (*Session, error) {
	b, ok := p.buckets[key(exchange, env)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExchange, exchange, env)
	}
	if p.allUnhealthy(b) {
		return nil, fmt.Errorf("%w: %s", ErrExchangeUnhealthy, exchange)
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case s := <-b.idle:
		b.mu.Lock()
		b.inFlight++
		b.mu.Unlock()
		return s, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrAcquireTimeout, exchange, p.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a borrowed session. healthy=false counts one strike; two
// consecutive strikes pull the session from rotation until a probe succeeds.
func (p *Pool) Release(s *Session, healthy bool) {
	b, ok := p.buckets[key(s.Exchange, s.Environment)]
	if !ok {
		return
	}

	b.mu.Lock()
	b.inFlight--
	if healthy {
		s.strikes = 0
		b.mu.Unlock()
		b.idle <- s
		return
	}

	s.strikes++
	if s.strikes < unhealthyAfter {
		b.mu.Unlock()
		b.idle <- s
		return
	}

	b.unhealthy = append(b.unhealthy, s)
	b.mu.Unlock()
	log.Printf("⚠️ pool: %s session %d marked unhealthy after %d consecutive failures",
		s.Exchange, s.ID, s.strikes)
}

// Factory returns the client constructor for an exchange so callers can Bind.
func (p *Pool) Factory(exchange string, env common.Environment) (ClientFactory, error) {
	b, ok := p.buckets[key(exchange, env)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExchange, exchange, env)
	}
	return b.factory, nil
}

// Available reports how many sessions are idle right now, or zero while the
// exchange-reported weight usage is near its ceiling. Used by the admission
// gate; it is advisory, Acquire still serializes checkout.
func (p *Pool) Available(exchange string, env common.Environment) int {
	b, ok := p.buckets[key(exchange, env)]
	if !ok {
		return 0
	}
	if b.limits != nil && b.limits.NearLimit() {
		return 0
	}
	return len(b.idle)
}

// Healthy reports whether at least one session for the exchange remains in
// rotation.
func (p *Pool) Healthy(exchange string, env common.Environment) bool {
	b, ok := p.buckets[key(exchange, env)]
	if !ok {
		return false
	}
	return !p.allUnhealthy(b)
}

// Stats returns a snapshot for one exchange.
func (p *Pool) Stats(exchange string, env common.Environment) Stats {
	b, ok := p.buckets[key(exchange, env)]
	if !ok {
		return Stats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Idle:      len(b.idle),
		InFlight:  b.inFlight,
		Unhealthy: len(b.unhealthy),
		Size:      b.size,
	}
}

func (p *Pool) allUnhealthy(b *bucket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unhealthy) >= b.size
}

func (p *Pool) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			for _, b := range p.buckets {
				p.probeBucket(ctx, b)
			}
		}
	}
}

// probeBucket re-checks quarantined sessions. A session with no bound client
// cannot have failed auth, so it goes straight back; otherwise connectivity
// is verified against the exchange clock endpoint.
func (p *Pool) probeBucket(ctx context.Context, b *bucket) {
	b.mu.Lock()
	quarantined := b.unhealthy
	b.unhealthy = nil
	b.mu.Unlock()

	for _, s := range quarantined {
		if s.client != nil {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := s.client.FetchServerTime(probeCtx)
			cancel()
			if err != nil {
				b.mu.Lock()
				b.unhealthy = append(b.unhealthy, s)
				b.mu.Unlock()
				continue
			}
		}
		s.strikes = 0
		b.idle <- s
		log.Printf("✅ pool: %s session %d restored to rotation", s.Exchange, s.ID)
	}
}

func key(exchange string, env common.Environment) string {
	return exchange + "/" + string(env)
}
