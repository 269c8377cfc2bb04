package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"

	"signal-core/pkg/exchanges/common"
)

func TestSignConcatenationOrder(t *testing.T) {
	apiKey := "XXXXXXXXXX"
	secret := "YYYYYYYYYY"
	c := New(Config{APIKey: apiKey, APISecret: secret, RecvWindow: 5000})

	timestamp := int64(1658385579423)
	payload := "category=linear&symbol=BTCUSDT"

	// Bybit v5 signs timestamp + apiKey + recvWindow + payload, in that order.
	message := strconv.FormatInt(timestamp, 10) + apiKey + "5000" + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := c.Sign(timestamp, payload); got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}

	// A different timestamp must change the signature.
	if c.Sign(timestamp+1, payload) == want {
		t.Error("timestamp is part of the payload and must affect the signature")
	}
}

func TestBaseURLSelection(t *testing.T) {
	live := New(Config{})
	if live.baseURL != "https://api.bybit.com" {
		t.Errorf("live base = %s", live.baseURL)
	}
	test := New(Config{Testnet: true})
	if test.baseURL != "https://api-testnet.bybit.com" {
		t.Errorf("testnet base = %s", test.baseURL)
	}
	if live.cfg.RecvWindow != 5000 {
		t.Errorf("default recvWindow = %d, want 5000", live.cfg.RecvWindow)
	}
}

func TestSideMapping(t *testing.T) {
	if got := sideToBybit(common.SideBuy); got != "Buy" {
		t.Errorf("buy = %s", got)
	}
	if got := sideToBybit(common.SideSell); got != "Sell" {
		t.Errorf("sell = %s", got)
	}
}

func TestRetCodeClassification(t *testing.T) {
	authErr := &common.APIError{Exchange: Name, StatusCode: 401, Code: 10003, Message: "invalid api key"}
	if !common.IsAuthError(authErr) {
		t.Error("retCode 10003 must classify as auth error")
	}

	rateErr := &common.APIError{Exchange: Name, StatusCode: 429, Code: 10006, Message: "too many visits"}
	if !common.IsTransient(rateErr) {
		t.Error("retCode 10006 must classify as transient")
	}

	bizErr := &common.APIError{Exchange: Name, StatusCode: 400, Code: 110007, Message: "insufficient balance"}
	if !common.IsRejection(bizErr) {
		t.Error("insufficient balance must classify as rejection")
	}
}
