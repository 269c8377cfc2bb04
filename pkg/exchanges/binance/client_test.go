package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"testing"
	"time"

	"signal-core/pkg/exchanges/common"
)

func TestSignMatchesHMACOverQuery(t *testing.T) {
	secret := "2b5eb11e18796d12d88f13dc27dbbd02c2cc51ff7059765ed9821957d82bb4d9"
	c := New(Config{APIKey: "key", APISecret: secret})

	query := "symbol=BTCUSDT&side=BUY&type=MARKET&quantity=1&recvWindow=5000&timestamp=1591702613943"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	want := hex.EncodeToString(mac.Sum(nil))

	// The signature covers the query alone; timestamp is already folded in.
	if got := c.Sign(0, query); got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
	if got := c.Sign(1591702613943, query); got != want {
		t.Errorf("timestamp argument must not change the payload, got %s", got)
	}
}

func TestBaseURLSelection(t *testing.T) {
	live := New(Config{})
	if live.baseURL != "https://fapi.binance.com" {
		t.Errorf("live base = %s", live.baseURL)
	}
	test := New(Config{Testnet: true})
	if test.baseURL != "https://testnet.binancefuture.com" {
		t.Errorf("testnet base = %s", test.baseURL)
	}
	if live.cfg.RecvWindow != 5000 {
		t.Errorf("default recvWindow = %d, want 5000", live.cfg.RecvWindow)
	}
}

func TestStampParamsUsesServerTimeUnderSkew(t *testing.T) {
	// Server runs two minutes ahead, well outside the 5000ms receive window.
	skew := int64(120_000)
	clock := common.NewTimeSync(func(context.Context) (int64, error) {
		return time.Now().UnixMilli() + skew, nil
	})
	if err := clock.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	c := New(Config{APIKey: "key", APISecret: "secret", TimeSync: clock})
	params := url.Values{}
	c.stampParams(params)

	ts, err := strconv.ParseInt(params.Get("timestamp"), 10, 64)
	if err != nil {
		t.Fatalf("parse timestamp: %v", err)
	}
	if ts-time.Now().UnixMilli() < skew/2 {
		t.Errorf("timestamp %d tracks the local clock despite %dms skew", ts, skew)
	}
	if params.Get("recvWindow") != "5000" {
		t.Errorf("recvWindow = %s, want 5000", params.Get("recvWindow"))
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in   string
		want common.OrderStatus
	}{
		{"NEW", common.StatusNew},
		{"PARTIALLY_FILLED", common.StatusNew},
		{"FILLED", common.StatusFilled},
		{"filled", common.StatusFilled},
		{"REJECTED", common.StatusRejected},
		{"EXPIRED", common.StatusRejected},
		{"CANCELED", common.StatusRejected},
		{"???", common.StatusUnknown},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.in); got != tc.want {
			t.Errorf("mapStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestAPIErrorParsing(t *testing.T) {
	err := apiError(401, []byte(`{"code":-2015,"msg":"Invalid API-key"}`))
	apiErr, ok := err.(*common.APIError)
	if !ok {
		t.Fatalf("expected *common.APIError, got %T", err)
	}
	if apiErr.Code != -2015 || apiErr.Message != "Invalid API-key" {
		t.Errorf("parsed = %+v", apiErr)
	}
	if !common.IsAuthError(err) {
		t.Error("-2015 must classify as auth error")
	}

	plain := apiError(500, []byte("upstream blew up"))
	if !common.IsTransient(plain) {
		t.Error("500 must classify as transient")
	}
}
