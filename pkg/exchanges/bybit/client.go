// Package bybit implements the exchange contract against the Bybit v5 REST
// API (linear perpetuals).
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signal-core/pkg/exchanges/common"
)

const Name = "bybit"

// Config holds Bybit credentials. HTTPClient, TimeSync and RateLimiter are
// shared across every pooled session for one environment; when nil the client
// builds private ones, which is only appropriate for standalone use.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms

	HTTPClient  *http.Client
	TimeSync    *common.TimeSync
	RateLimiter *common.RateLimiter
}

// Client is a Bybit v5 trading client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

func New(cfg Config) *Client {
	base := "https://api.bybit.com"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  cfg.HTTPClient,
		timeSync:    cfg.TimeSync,
		rateLimiter: cfg.RateLimiter,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.timeSync == nil {
		c.timeSync = common.NewTimeSync(func(ctx context.Context) (int64, error) {
			return c.FetchServerTime(ctx)
		})
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateTracker()
	}
	return c
}

// NewRateTracker returns a tracker sized to the order-endpoint ceiling,
// 10 requests per second.
func NewRateTracker() *common.RateLimiter {
	return common.NewRateLimiter(10, time.Second)
}

// Sign returns the hex HMAC-SHA256 over the Bybit v5 payload:
// timestamp + apiKey + recvWindow + params. This concatenation is the wire
// contract the exchange verifies; do not reorder it.
func (c *Client) Sign(timestamp int64, params string) string {
	message := strconv.FormatInt(timestamp, 10) + c.cfg.APIKey +
		strconv.FormatInt(c.cfg.RecvWindow, 10) + params
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("bybit: API key/secret required")
	}

	params := map[string]string{
		"category":  "linear",
		"symbol":    req.Symbol,
		"side":      sideToBybit(req.Side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.ClientID != "" {
		params["orderLinkId"] = req.ClientID
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	// Bybit acks market orders without fill data; a filled market order is
	// reported as created.
	return common.OrderResult{
		ExchangeOrderID: resp.Result.OrderID,
		Status:          common.StatusFilled,
		ClientID:        resp.Result.OrderLinkID,
		FilledQty:       req.Qty,
	}, nil
}

// FetchBalance returns USDT equity from the unified account.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Balance{}, errors.New("bybit: API key/secret required")
	}

	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return common.Balance{}, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					Equity              string `json:"equity"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Balance{}, fmt.Errorf("decode balance: %w", err)
	}

	for _, list := range resp.Result.List {
		for _, coin := range list.Coin {
			if coin.Coin == "USDT" {
				total, _ := strconv.ParseFloat(coin.Equity, 64)
				avail, _ := strconv.ParseFloat(coin.AvailableToWithdraw, 64)
				return common.Balance{Total: total, Available: avail}, nil
			}
		}
	}
	return common.Balance{}, nil
}

// FetchServerTime fetches server time (ms).
func (c *Client) FetchServerTime(ctx context.Context) (int64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v5/market/time", nil, false)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			TimeNano string `json:"timeNano"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	nano, err := strconv.ParseInt(resp.Result.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse server time: %w", err)
	}
	return nano / 1e6, nil
}

// doRequest performs an HTTP request; signed requests carry the X-BAPI-*
// header set over the canonical payload.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody, reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = c.baseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = c.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := time.Now().UnixMilli()
		if c.timeSync != nil && c.timeSync.SkewExceeds(c.cfg.RecvWindow) {
			timestamp = c.timeSync.Now()
		}
		req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-BAPI-SIGN", c.Sign(timestamp, reqBody))
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-BAPI-RECV-WINDOW", strconv.FormatInt(c.cfg.RecvWindow, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Bybit reports remaining allowance, not used weight.
	if c.rateLimiter != nil {
		limit, err1 := strconv.Atoi(resp.Header.Get("X-Bapi-Limit"))
		remaining, err2 := strconv.Atoi(resp.Header.Get("X-Bapi-Limit-Status"))
		if err1 == nil && err2 == nil && limit >= remaining {
			c.rateLimiter.UpdateFromHeader(strconv.Itoa(limit - remaining))
		}
	}

	if resp.StatusCode >= 300 {
		return nil, &common.APIError{Exchange: Name, StatusCode: resp.StatusCode, Message: string(body)}
	}

	// Bybit reports failures with HTTP 200 and a non-zero retCode.
	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if baseResp.RetCode != 0 {
		status := http.StatusBadRequest
		switch baseResp.RetCode {
		case 10003, 10004, 33004:
			status = http.StatusUnauthorized
		case 10006, 10018:
			status = http.StatusTooManyRequests
		}
		return nil, &common.APIError{
			Exchange:   Name,
			StatusCode: status,
			Code:       baseResp.RetCode,
			Message:    baseResp.RetMsg,
		}
	}

	return body, nil
}

func sideToBybit(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}
