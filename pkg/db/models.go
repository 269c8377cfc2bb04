package db

import "time"

// Execution record statuses. PENDING is the only non-terminal status; every
// work item must end in exactly one of the terminal values.
const (
	StatusPending           = "PENDING"
	StatusFilled            = "FILLED"
	StatusRejected          = "REJECTED"
	StatusFailed            = "FAILED"
	StatusAuthError         = "AUTH_ERROR"
	StatusSchedulingTimeout = "SCHEDULING_TIMEOUT"
)

// Terminal reports whether a status ends the record's lifecycle.
func Terminal(status string) bool {
	return status != StatusPending && status != ""
}

// Account is a tenant trading account row.
type Account struct {
	ID           string
	AutoTrade    bool
	RealBalance  float64
	BonusBalance float64
	OrderValue   float64
	Leverage     int
	Exchange     string
	Environment  string
	UpdatedAt    time.Time
}

// Credential holds an account's encrypted API credential for one exchange.
type Credential struct {
	AccountID          string
	Exchange           string
	APIKeyEncrypted    string
	APISecretEncrypted string
	KeyVersion         int
	Quarantined        bool
	UpdatedAt          time.Time
}

// Complete reports whether both key and secret are present. A key without a
// secret is treated as no credential at all.
func (c Credential) Complete() bool {
	return c.APIKeyEncrypted != "" && c.APISecretEncrypted != ""
}

// ExecutionRecord is the durable, idempotent outcome of one work item,
// keyed by (account_id, exchange, client_request_id).
type ExecutionRecord struct {
	ID              string
	AccountID       string
	Exchange        string
	ClientRequestID string
	Ticker          string
	Status          string
	RetryCount      int
	LatencyMs       int64
	FilledQty       float64
	FilledPrice     float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HistoryEntry is one processed signal for a ticker, append-only.
type HistoryEntry struct {
	ID         int64
	Ticker     string
	Direction  string
	Strength   string
	ReceivedAt time.Time
}
