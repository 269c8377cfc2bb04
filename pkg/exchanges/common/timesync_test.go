package common

import (
	"context"
	"testing"
	"time"
)

func TestSyncComputesOffset(t *testing.T) {
	var serverAhead int64 = 30_000
	ts := NewTimeSync(func(_ context.Context) (int64, error) {
		return nowPlus(serverAhead), nil
	})

	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	off := ts.Offset()
	// Latency correction keeps the measured offset near the real skew.
	if off < 29_000 || off > 31_000 {
		t.Errorf("offset = %d, want ~30000", off)
	}
}

func TestSkewExceeds(t *testing.T) {
	ts := NewTimeSync(nil)

	ts.offset = 3_000
	if ts.SkewExceeds(5000) {
		t.Error("3s skew is inside a 5s receive window")
	}

	ts.offset = -8_000
	if !ts.SkewExceeds(5000) {
		t.Error("8s skew exceeds a 5s receive window regardless of sign")
	}
}

func nowPlus(ms int64) int64 {
	return time.Now().UnixMilli() + ms
}
