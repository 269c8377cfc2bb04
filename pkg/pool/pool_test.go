package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal-core/pkg/exchanges/common"
)

type stubClient struct {
	serverTimeErr error
}

func (c *stubClient) Sign(int64, string) string { return "" }
func (c *stubClient) SubmitOrder(context.Context, common.OrderRequest) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (c *stubClient) FetchBalance(context.Context) (common.Balance, error) {
	return common.Balance{}, nil
}
func (c *stubClient) FetchServerTime(context.Context) (int64, error) {
	if c.serverTimeErr != nil {
		return 0, c.serverTimeErr
	}
	return time.Now().UnixMilli(), nil
}

func newTestPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	p, err := New([]ExchangeConfig{{
		Exchange:    "binance",
		Environment: common.EnvMain,
		Size:        size,
		Factory: func(_, _ string, _ common.Environment) common.Client {
			return &stubClient{}
		},
	}}, opts...)
	if err != nil {
		t.Fatalf("pool init: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestAcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	s1, err := p.Acquire(ctx, "binance", common.EnvMain)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if s1.Exchange != "binance" {
		t.Errorf("unexpected exchange %s", s1.Exchange)
	}
	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Errorf("available = %d, want 1", got)
	}

	p.Release(s1, true)
	if got := p.Available("binance", common.EnvMain); got != 2 {
		t.Errorf("available after release = %d, want 2", got)
	}

	if _, err := p.Acquire(ctx, "kraken", common.EnvMain); !errors.Is(err, ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(t, 1, WithAcquireTimeout(2*time.Second))
	ctx := context.Background()

	s1, err := p.Acquire(ctx, "binance", common.EnvMain)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan *Session, 1)
	go func() {
		s2, err := p.Acquire(ctx, "binance", common.EnvMain)
		if err != nil {
			return
		}
		acquired <- s2
	}()

	// Second caller must wait while the only session is checked out.
	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while session was checked out")
	case <-time.After(200 * time.Millisecond):
	}

	p.Release(s1, true)
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestAcquireTimeout(t *testing.T) {
	p := newTestPool(t, 1, WithAcquireTimeout(100*time.Millisecond))
	ctx := context.Background()

	if _, err := p.Acquire(ctx, "binance", common.EnvMain); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err := p.Acquire(ctx, "binance", common.EnvMain)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestTwoStrikeUnhealthy(t *testing.T) {
	p := newTestPool(t, 1, WithAcquireTimeout(100*time.Millisecond))
	ctx := context.Background()

	// First strike returns the session to rotation.
	s, err := p.Acquire(ctx, "binance", common.EnvMain)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(s, false)
	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Fatalf("one strike must keep the session in rotation, available = %d", got)
	}

	// Second consecutive strike pulls it.
	s, err = p.Acquire(ctx, "binance", common.EnvMain)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	p.Release(s, false)
	if got := p.Available("binance", common.EnvMain); got != 0 {
		t.Errorf("two strikes must remove the session, available = %d", got)
	}
	if p.Healthy("binance", common.EnvMain) {
		t.Error("single-session pool with quarantined session must be unhealthy")
	}
	if _, err := p.Acquire(ctx, "binance", common.EnvMain); !errors.Is(err, ErrExchangeUnhealthy) {
		t.Errorf("expected ErrExchangeUnhealthy, got %v", err)
	}

	stats := p.Stats("binance", common.EnvMain)
	if stats.Unhealthy != 1 {
		t.Errorf("stats.Unhealthy = %d, want 1", stats.Unhealthy)
	}
}

func TestHealthyReleaseResetsStrikes(t *testing.T) {
	p := newTestPool(t, 1, WithAcquireTimeout(100*time.Millisecond))
	ctx := context.Background()

	s, _ := p.Acquire(ctx, "binance", common.EnvMain)
	p.Release(s, false) // strike one
	s, _ = p.Acquire(ctx, "binance", common.EnvMain)
	p.Release(s, true) // healthy release resets
	s, _ = p.Acquire(ctx, "binance", common.EnvMain)
	p.Release(s, false) // strike one again, not two

	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Errorf("non-consecutive failures must not quarantine, available = %d", got)
	}
}

func TestProbeRestoresSession(t *testing.T) {
	p := newTestPool(t, 1,
		WithAcquireTimeout(100*time.Millisecond),
		WithProbeInterval(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := p.Acquire(ctx, "binance", common.EnvMain)
	p.Release(s, false)
	s, _ = p.Acquire(ctx, "binance", common.EnvMain)
	p.Release(s, false)
	if p.Healthy("binance", common.EnvMain) {
		t.Fatal("expected pool to be unhealthy before probe")
	}

	// Session has no bound client, so the probe restores it immediately.
	p.Start(ctx)
	deadline := time.After(2 * time.Second)
	for !p.Healthy("binance", common.EnvMain) {
		select {
		case <-deadline:
			t.Fatal("probe never restored the session")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Errorf("restored session must be idle, available = %d", got)
	}
}

func TestStartSyncsSharedClock(t *testing.T) {
	clock := common.NewTimeSync(func(context.Context) (int64, error) {
		return time.Now().UnixMilli() + 90_000, nil
	})
	p, err := New([]ExchangeConfig{{
		Exchange:    "binance",
		Environment: common.EnvMain,
		Size:        1,
		Clock:       clock,
		Factory: func(_, _ string, _ common.Environment) common.Client {
			return &stubClient{}
		},
	}})
	if err != nil {
		t.Fatalf("pool init: %v", err)
	}
	t.Cleanup(p.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	if off := clock.Offset(); off < 60_000 {
		t.Errorf("offset = %dms, want the startup sync to measure the skew", off)
	}
}

func TestWeightNearLimitHoldsAdmission(t *testing.T) {
	limits := common.NewRateLimiter(100, time.Minute)
	p, err := New([]ExchangeConfig{{
		Exchange:    "binance",
		Environment: common.EnvMain,
		Size:        1,
		Limits:      limits,
		Factory: func(_, _ string, _ common.Environment) common.Client {
			return &stubClient{}
		},
	}})
	if err != nil {
		t.Fatalf("pool init: %v", err)
	}
	t.Cleanup(p.Close)

	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}

	limits.UpdateFromHeader("95")
	if got := p.Available("binance", common.EnvMain); got != 0 {
		t.Errorf("near-limit weight must gate admission, available = %d", got)
	}

	limits.UpdateFromHeader("10")
	if got := p.Available("binance", common.EnvMain); got != 1 {
		t.Errorf("recovered weight must free admission, available = %d", got)
	}
}

func TestSessionBind(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	s, err := p.Acquire(ctx, "binance", common.EnvMain)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	factory, err := p.Factory("binance", common.EnvMain)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	s.Bind("acct-1/binance", "key", "secret", factory)
	if s.Client() == nil {
		t.Error("bound session must expose a client")
	}
	if s.CredRef() != "acct-1/binance" {
		t.Errorf("cred ref = %s", s.CredRef())
	}
	p.Release(s, true)
}
