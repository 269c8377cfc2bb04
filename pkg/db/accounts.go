package db

import (
	"context"
	"database/sql"
	"fmt"
)

// AccountStore reads tenant accounts and their exchange credentials.
type AccountStore struct {
	db *sql.DB
}

// ListAutoTradeAccounts returns every account with auto-trading enabled,
// with balances as of now. Callers must not cache the result across signals.
func (s *AccountStore) ListAutoTradeAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auto_trade, real_balance, bonus_balance,
		       order_value, leverage, exchange, environment, updated_at
		FROM accounts
		WHERE auto_trade = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.AutoTrade, &a.RealBalance, &a.BonusBalance,
			&a.OrderValue, &a.Leverage, &a.Exchange, &a.Environment, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetCredential returns the credential for (account, exchange), or ErrNotFound.
func (s *AccountStore) GetCredential(ctx context.Context, accountID, exchange string) (*Credential, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	var c Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, exchange, api_key_encrypted, api_secret_encrypted,
		       COALESCE(key_version, 1), quarantined, updated_at
		FROM credentials
		WHERE account_id = ? AND exchange = ?
	`, accountID, exchange).Scan(&c.AccountID, &c.Exchange, &c.APIKeyEncrypted,
		&c.APISecretEncrypted, &c.KeyVersion, &c.Quarantined, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential stores or replaces an account's encrypted credential.
func (s *AccountStore) UpsertCredential(ctx context.Context, c Credential) error {
	if c.AccountID == "" {
		return ErrAccountIDRequired
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials
			(account_id, exchange, api_key_encrypted, api_secret_encrypted, key_version, quarantined, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id, exchange) DO UPDATE SET
			api_key_encrypted = excluded.api_key_encrypted,
			api_secret_encrypted = excluded.api_secret_encrypted,
			key_version = excluded.key_version,
			quarantined = excluded.quarantined,
			updated_at = CURRENT_TIMESTAMP
	`, c.AccountID, c.Exchange, c.APIKeyEncrypted, c.APISecretEncrypted, c.KeyVersion, c.Quarantined)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// QuarantineCredential marks a credential invalid so the classifier excludes
// the account until the credential is revalidated externally.
func (s *AccountStore) QuarantineCredential(ctx context.Context, accountID, exchange string) error {
	if accountID == "" {
		return ErrAccountIDRequired
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET quarantined = 1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND exchange = ?
	`, accountID, exchange)
	if err != nil {
		return fmt.Errorf("quarantine credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertAccount stores or replaces an account row. Used by intake tooling and
// tests; the engine itself only reads accounts.
func (s *AccountStore) UpsertAccount(ctx context.Context, a Account) error {
	if a.ID == "" {
		return ErrAccountIDRequired
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
			(id, auto_trade, real_balance, bonus_balance, order_value, leverage, exchange, environment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			auto_trade = excluded.auto_trade,
			real_balance = excluded.real_balance,
			bonus_balance = excluded.bonus_balance,
			order_value = excluded.order_value,
			leverage = excluded.leverage,
			exchange = excluded.exchange,
			environment = excluded.environment,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.AutoTrade, a.RealBalance, a.BonusBalance, a.OrderValue, a.Leverage, a.Exchange, a.Environment)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}
