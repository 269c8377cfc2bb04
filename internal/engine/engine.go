// Package engine executes admitted work items against exchanges and is the
// sole writer of execution records.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/scheduler"
	"signal-core/internal/signal"
	"signal-core/pkg/crypto"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/pool"
)

// Engine turns one work item into exactly one terminal execution record.
type Engine struct {
	pool     *pool.Pool
	accounts *db.AccountStore
	ledger   *db.Ledger
	keys     *crypto.KeyManager
	bus      *events.Bus

	freshness    time.Duration
	callTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// Options bound the engine's retry and timeout behavior.
type Options struct {
	Freshness    time.Duration
	CallTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func New(p *pool.Pool, accounts *db.AccountStore, ledger *db.Ledger,
	keys *crypto.KeyManager, bus *events.Bus, opts Options) *Engine {

	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Engine{
		pool:         p,
		accounts:     accounts,
		ledger:       ledger,
		keys:         keys,
		bus:          bus,
		freshness:    opts.Freshness,
		callTimeout:  opts.CallTimeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
	}
}

// Execute runs one work item to a terminal ledger state. Failures are
// contained here; one account's failure never propagates to sibling items of
// the same signal.
func (e *Engine) Execute(ctx context.Context, item scheduler.WorkItem) {
	start := time.Now()
	clientID := item.ClientRequestID()

	// Redelivery short-circuit: a terminal record for this idempotency key
	// means the order already ran to completion.
	prevRetries := 0
	if existing, err := e.ledger.GetExecutionRecord(ctx, item.AccountID, item.Exchange, clientID); err == nil {
		if db.Terminal(existing.Status) {
			log.Printf("engine: duplicate delivery for %s/%s, record already %s",
				item.AccountID, item.Signal.Ticker, existing.Status)
			return
		}
		prevRetries = existing.RetryCount
	}

	if item.Expired(time.Now(), e.freshness) {
		e.finalize(ctx, item, clientID, db.ExecutionRecord{
			Status: db.StatusSchedulingTimeout, RetryCount: prevRetries,
		}, start)
		return
	}

	e.upsert(ctx, db.ExecutionRecord{
		AccountID:       item.AccountID,
		Exchange:        item.Exchange,
		ClientRequestID: clientID,
		Ticker:          item.Signal.Ticker,
		Status:          db.StatusPending,
		RetryCount:      prevRetries,
	})

	client, release, err := e.bindSession(ctx, item)
	if err != nil {
		status := db.StatusFailed
		if errors.Is(err, ErrAuthentication) {
			status = db.StatusAuthError
		}
		log.Printf("engine: session setup failed for %s: %v", item.AccountID, err)
		e.finalize(ctx, item, clientID, db.ExecutionRecord{
			Status: status, RetryCount: prevRetries,
		}, start)
		return
	}

	req := common.OrderRequest{
		Symbol:   item.Signal.Ticker,
		Side:     sideFor(item.Signal.Direction),
		Qty:      orderQty(item.OrderValue, item.Leverage),
		Leverage: item.Leverage,
		ClientID: clientID,
	}

	result, retries, lastErr := e.submitWithRetry(ctx, client, req, item)
	rec := db.ExecutionRecord{RetryCount: prevRetries + retries}
	sessionHealthy := true

	switch {
	case lastErr == nil:
		switch result.Status {
		case common.StatusRejected:
			rec.Status = db.StatusRejected
		case common.StatusFilled:
			rec.Status = db.StatusFilled
			rec.FilledQty = result.FilledQty
			rec.FilledPrice = result.FilledPrice
		default:
			// Accepted but not confirmed filled; keep the record open with
			// whatever partial fill the exchange reported.
			rec.Status = db.StatusPending
			rec.FilledQty = result.FilledQty
			rec.FilledPrice = result.FilledPrice
		}
	case common.IsAuthError(lastErr):
		rec.Status = db.StatusAuthError
		sessionHealthy = false
		e.quarantine(ctx, item, lastErr)
	case common.IsRejection(lastErr):
		rec.Status = db.StatusRejected
	case common.IsTransient(lastErr):
		rec.Status = db.StatusFailed
		sessionHealthy = false
	default:
		rec.Status = db.StatusFailed
	}
	if lastErr != nil {
		log.Printf("❌ engine: %s order for %s/%s failed after %d retries: %v",
			item.Exchange, item.AccountID, item.Signal.Ticker, retries, lastErr)
	}

	release(sessionHealthy)
	e.finalize(ctx, item, clientID, rec, start)
}

// bindSession acquires a pooled session and binds the account's decrypted
// credential to it. The returned release must be called exactly once.
func (e *Engine) bindSession(ctx context.Context, item scheduler.WorkItem) (common.Client, func(healthy bool), error) {
	cred, err := e.accounts.GetCredential(ctx, item.AccountID, item.Exchange)
	if err != nil {
		return nil, nil, ErrAuthentication
	}
	if !cred.Complete() || cred.Quarantined {
		return nil, nil, ErrAuthentication
	}

	apiKey, err := e.keys.Decrypt(cred.APIKeyEncrypted)
	if err != nil {
		return nil, nil, ErrAuthentication
	}
	apiSecret, err := e.keys.Decrypt(cred.APISecretEncrypted)
	if err != nil {
		return nil, nil, ErrAuthentication
	}

	session, err := e.pool.Acquire(ctx, item.Exchange, item.Environment)
	if err != nil {
		return nil, nil, err
	}
	factory, err := e.pool.Factory(item.Exchange, item.Environment)
	if err != nil {
		e.pool.Release(session, true)
		return nil, nil, err
	}
	session.Bind(item.AccountID+"/"+item.Exchange, apiKey, apiSecret, factory)

	release := func(healthy bool) { e.pool.Release(session, healthy) }
	return session.Client(), release, nil
}

// submitWithRetry submits the order, retrying transient failures with
// exponential backoff. It never retries past the signal's freshness deadline.
func (e *Engine) submitWithRetry(ctx context.Context, client common.Client,
	req common.OrderRequest, item scheduler.WorkItem) (common.OrderResult, int, error) {

	var (
		result  common.OrderResult
		lastErr error
		retries int
	)
	deadline := item.Signal.Deadline(e.freshness)

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		result, lastErr = client.SubmitOrder(callCtx, req)
		cancel()

		if lastErr == nil || !common.IsTransient(lastErr) || attempt >= e.maxRetries {
			return result, retries, lastErr
		}

		backoff := e.retryBackoff << attempt
		if e.freshness > 0 && time.Now().Add(backoff).After(deadline) {
			return result, retries, lastErr
		}

		retries++
		monitor.ExecutionRetries.WithLabelValues(item.Exchange).Inc()
		select {
		case <-ctx.Done():
			return result, retries, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// quarantine flags the credential and raises the alert condition. The
// classifier excludes the account from the next signal onward.
func (e *Engine) quarantine(ctx context.Context, item scheduler.WorkItem, cause error) {
	if err := e.accounts.QuarantineCredential(ctx, item.AccountID, item.Exchange); err != nil {
		log.Printf("engine: quarantine write failed for %s/%s: %v", item.AccountID, item.Exchange, err)
	}
	monitor.CredentialQuarantines.WithLabelValues(item.Exchange).Inc()
	log.Printf("🚨 engine: credential quarantined for account %s on %s: %v",
		item.AccountID, item.Exchange, cause)

	if e.bus != nil {
		e.bus.Publish(events.EventCredentialQuarantine, events.QuarantineEvent{
			AccountID: item.AccountID,
			Exchange:  item.Exchange,
			Reason:    cause.Error(),
			Time:      time.Now(),
		})
	}
}

// finalize writes the terminal record and emits metrics and events.
func (e *Engine) finalize(ctx context.Context, item scheduler.WorkItem, clientID string,
	rec db.ExecutionRecord, start time.Time) {

	rec.AccountID = item.AccountID
	rec.Exchange = item.Exchange
	rec.ClientRequestID = clientID
	rec.Ticker = item.Signal.Ticker
	rec.LatencyMs = time.Since(start).Milliseconds()

	e.upsert(ctx, rec)
	monitor.RecordExecution(string(item.Tier), rec.Status, item.Exchange, rec.LatencyMs)

	if e.bus != nil {
		e.bus.Publish(events.EventExecutionFinished, events.ExecutionEvent{
			AccountID:       rec.AccountID,
			Exchange:        rec.Exchange,
			ClientRequestID: rec.ClientRequestID,
			Ticker:          rec.Ticker,
			Status:          rec.Status,
			RetryCount:      rec.RetryCount,
			LatencyMs:       rec.LatencyMs,
			Time:            time.Now(),
		})
	}
}

// upsert writes through the ledger's conditional write. A conflict is
// resolved by re-reading the row and re-applying the terminal state.
func (e *Engine) upsert(ctx context.Context, rec db.ExecutionRecord) {
	if err := e.ledger.UpsertExecutionRecord(ctx, rec); err != nil {
		log.Printf("engine: ledger upsert failed for %s/%s: %v", rec.AccountID, rec.ClientRequestID, err)
		if _, readErr := e.ledger.GetExecutionRecord(ctx, rec.AccountID, rec.Exchange, rec.ClientRequestID); readErr == nil {
			if retryErr := e.ledger.UpsertExecutionRecord(ctx, rec); retryErr != nil {
				log.Printf("engine: %v: %v", ErrPersistenceConflict, retryErr)
			}
		}
	}
}

func sideFor(d signal.Direction) common.Side {
	if d == signal.DirectionShort {
		return common.SideSell
	}
	return common.SideBuy
}
