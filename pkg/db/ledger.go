// Execution ledger: the engine is the sole writer of execution records, and
// every write goes through a single conditional upsert so concurrent retries
// and redeliveries can never produce duplicate rows.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAccountIDRequired = errors.New("account_id is required for data isolation")
	ErrNotFound          = errors.New("record not found")
)

// Ledger provides account-isolated execution record and history queries.
type Ledger struct {
	db *sql.DB
}

// UpsertExecutionRecord creates the record on first write and updates status,
// retry count and fill data in place on every subsequent write for the same
// (account_id, exchange, client_request_id) key. The conflict clause is the
// concurrency safety net: the same key written twice lands in one row.
func (l *Ledger) UpsertExecutionRecord(ctx context.Context, r ExecutionRecord) error {
	if r.AccountID == "" {
		return ErrAccountIDRequired
	}
	if r.ClientRequestID == "" {
		return errors.New("client_request_id is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO execution_records
			(id, account_id, exchange, client_request_id, ticker, status,
			 retry_count, latency_ms, filled_qty, filled_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id, exchange, client_request_id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			latency_ms = excluded.latency_ms,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.AccountID, r.Exchange, r.ClientRequestID, r.Ticker, r.Status,
		r.RetryCount, r.LatencyMs, r.FilledQty, r.FilledPrice)
	if err != nil {
		return fmt.Errorf("upsert execution record: %w", err)
	}
	return nil
}

// GetExecutionRecord returns the record for an idempotency key, or ErrNotFound.
func (l *Ledger) GetExecutionRecord(ctx context.Context, accountID, exchange, clientRequestID string) (*ExecutionRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	var r ExecutionRecord
	err := l.db.QueryRowContext(ctx, `
		SELECT id, account_id, exchange, client_request_id, ticker, status,
		       retry_count, latency_ms, filled_qty, filled_price, created_at, updated_at
		FROM execution_records
		WHERE account_id = ? AND exchange = ? AND client_request_id = ?
	`, accountID, exchange, clientRequestID).Scan(
		&r.ID, &r.AccountID, &r.Exchange, &r.ClientRequestID, &r.Ticker, &r.Status,
		&r.RetryCount, &r.LatencyMs, &r.FilledQty, &r.FilledPrice, &r.CreatedAt, &r.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query execution record: %w", err)
	}
	return &r, nil
}

// ListExecutionsByAccount returns recent records for one account.
func (l *Ledger) ListExecutionsByAccount(ctx context.Context, accountID string, limit int) ([]ExecutionRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, account_id, exchange, client_request_id, ticker, status,
		       retry_count, latency_ms, filled_qty, filled_price, created_at, updated_at
		FROM execution_records
		WHERE account_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Exchange, &r.ClientRequestID, &r.Ticker, &r.Status,
			&r.RetryCount, &r.LatencyMs, &r.FilledQty, &r.FilledPrice, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// AppendSignalHistory records one processed signal for a ticker. Append-only;
// pruning is an external concern.
func (l *Ledger) AppendSignalHistory(ctx context.Context, e HistoryEntry) error {
	if e.Ticker == "" {
		return errors.New("ticker is required")
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO signal_history (ticker, direction, strength, received_at)
		VALUES (?, ?, ?, ?)
	`, e.Ticker, e.Direction, e.Strength, e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("append signal history: %w", err)
	}
	return nil
}

// RecentHistory returns the most recent n entries for a ticker, newest first.
func (l *Ledger) RecentHistory(ctx context.Context, ticker string, n int) ([]HistoryEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ticker, direction, strength, received_at
		FROM signal_history
		WHERE ticker = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("query signal history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Ticker, &e.Direction, &e.Strength, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
