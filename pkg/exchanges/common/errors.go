package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx exchange response.
type APIError struct {
	Exchange   string
	StatusCode int
	Code       int // exchange-specific error code, 0 when absent
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error status=%d code=%d: %s", e.Exchange, e.StatusCode, e.Code, e.Message)
}

// IsAuthError reports whether err indicates an invalid or expired credential.
// These are never retried; the credential must be quarantined.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
		return true
	}
	// Binance: -2015 invalid key, -1022 bad signature, -2014 key format.
	switch apiErr.Code {
	case -2015, -2014, -1022:
		return true
	}
	// Bybit v5: 10003 invalid key, 10004 bad signature, 33004 key expired.
	switch apiErr.Code {
	case 10003, 10004, 33004:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return false
}

// IsRejection reports whether err is a business-level rejection (insufficient
// balance, invalid symbol). Terminal, never retried.
func IsRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		!IsAuthError(err) && apiErr.StatusCode != 429
}
