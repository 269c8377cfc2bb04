package common

import "context"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Environment distinguishes the live exchange from its test network.
type Environment string

const (
	EnvMain    Environment = "main"
	EnvTestnet Environment = "test-network"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusFilled   OrderStatus = "FILLED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures a market order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	Leverage int
	ClientID string // idempotent client order id
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	FilledQty       float64
	FilledPrice     float64
}

// Balance is a wallet snapshot for the quote asset.
type Balance struct {
	Total     float64
	Available float64
}

// Client is the single exchange contract: one concrete implementation per
// exchange, consumed only through the connection pool.
type Client interface {
	// Sign returns the hex HMAC-SHA256 signature for a canonical query at a
	// millisecond timestamp, per the exchange's wire contract.
	Sign(timestamp int64, query string) string
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	FetchBalance(ctx context.Context) (Balance, error)
	FetchServerTime(ctx context.Context) (int64, error)
}
