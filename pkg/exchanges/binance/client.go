// Package binance implements the exchange contract against the Binance
// USDT-margined futures REST API.
package binance

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

const Name = "binance"

// Config holds Binance credentials. HTTPClient, TimeSync and RateLimiter are
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

// Client is a Binance futures trading client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

func New(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
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

// NewRateTracker returns a weight tracker sized to the futures request
// ceiling, 2400 weight per minute.
func NewRateTracker() *common.RateLimiter {
	return common.NewRateLimiter(2400, time.Minute)
}

// Sign returns the hex HMAC-SHA256 of the canonical query string. Binance
// folds the timestamp into the query itself, so the payload is the query
// alone; timestamp is accepted here to satisfy the exchange contract.
func (c *Client) Sign(_ int64, query string) string {
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance: API key/secret required")
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(req.Qty))
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	c.stampParams(params)

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		FilledQty:       parseFloat(resp.ExecutedQty),
		FilledPrice:     parseFloat(resp.AvgPrice),
	}, nil
}

// FetchBalance returns the USDT wallet balance.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Balance{}, errors.New("binance: API key/secret required")
	}

	params := url.Values{}
	c.stampParams(params)

	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", params)
	if err != nil {
		return common.Balance{}, err
	}

	var assets []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &assets); err != nil {
		return common.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	for _, a := range assets {
		if a.Asset == "USDT" {
			return common.Balance{
				Total:     parseFloat(a.Balance),
				Available: parseFloat(a.AvailableBalance),
			}, nil
		}
	}
	return common.Balance{}, nil
}

// FetchServerTime fetches server time (ms).
func (c *Client) FetchServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, apiError(resp.StatusCode, b)
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// stampParams adds timestamp and recvWindow, preferring server time when the
// measured clock skew would push the request outside the receive window.
func (c *Client) stampParams(params url.Values) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.SkewExceeds(c.cfg.RecvWindow) {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	sig := c.Sign(0, params.Encode())
	params.Set("signature", sig)

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, apiError(res.StatusCode, body)
	}
	return body, nil
}

func apiError(status int, body []byte) error {
	apiErr := &common.APIError{Exchange: Name, StatusCode: status, Message: string(body)}
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Code != 0 {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Msg
	}
	return apiErr
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PARTIALLY_FILLED":
		return common.StatusNew
	case "FILLED":
		return common.StatusFilled
	case "REJECTED", "EXPIRED", "CANCELED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
