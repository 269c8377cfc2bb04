package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"signal-core/internal/signal"
	"signal-core/internal/tier"
	"signal-core/pkg/exchanges/common"
)

// WorkItem is one unit of admitted work: a signal bound to one eligible
// account. Created once per eligible account per signal.
type WorkItem struct {
	Signal      signal.Signal
	AccountID   string
	Tier        tier.Tier
	Exchange    string
	Environment common.Environment
	OrderValue  float64
	Leverage    int
	EnqueuedAt  time.Time
}

// ClientRequestID derives the idempotency key from (accountID, ticker,
// receivedAt). Retries and redeliveries of the same signal reuse the same id,
// so the exchange and the ledger both collapse them into one logical order.
func (w WorkItem) ClientRequestID() string {
	seed := fmt.Sprintf("%s|%s|%d", w.AccountID, w.Signal.Ticker, w.Signal.ReceivedAt.UnixMilli())
	sum := sha256.Sum256([]byte(seed))
	return "sc-" + hex.EncodeToString(sum[:])[:24]
}

// Expired reports whether the signal's freshness deadline has passed.
func (w WorkItem) Expired(now time.Time, window time.Duration) bool {
	return w.Signal.Stale(now, window)
}

func inFlightKey(accountID, ticker string) string {
	return accountID + "|" + ticker
}
