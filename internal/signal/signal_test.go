package signal

import (
	"errors"
	"testing"
	"time"
)

func validSignal() Signal {
	now := time.Now()
	return Signal{
		Ticker:          "BTCUSDT",
		Direction:       DirectionLong,
		Strength:        StrengthNormal,
		ReceivedAt:      now,
		SourceTimestamp: now,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validSignal().Validate(); err != nil {
			t.Errorf("expected valid signal, got %v", err)
		}
	})

	t.Run("empty ticker", func(t *testing.T) {
		s := validSignal()
		s.Ticker = ""
		if err := s.Validate(); !errors.Is(err, ErrInvalidSignal) {
			t.Errorf("expected ErrInvalidSignal, got %v", err)
		}
	})

	t.Run("bad direction", func(t *testing.T) {
		s := validSignal()
		s.Direction = "SIDEWAYS"
		if err := s.Validate(); !errors.Is(err, ErrInvalidSignal) {
			t.Errorf("expected ErrInvalidSignal, got %v", err)
		}
	})

	t.Run("bad strength", func(t *testing.T) {
		s := validSignal()
		s.Strength = "weak"
		if err := s.Validate(); !errors.Is(err, ErrInvalidSignal) {
			t.Errorf("expected ErrInvalidSignal, got %v", err)
		}
	})

	t.Run("missing source timestamp", func(t *testing.T) {
		s := validSignal()
		s.SourceTimestamp = time.Time{}
		if err := s.Validate(); !errors.Is(err, ErrInvalidSignal) {
			t.Errorf("expected ErrInvalidSignal, got %v", err)
		}
	})
}

func TestStaleness(t *testing.T) {
	window := 45 * time.Second
	now := time.Now()

	fresh := validSignal()
	fresh.SourceTimestamp = now.Add(-30 * time.Second)
	if fresh.Stale(now, window) {
		t.Error("30s old signal should be fresh in a 45s window")
	}

	stale := validSignal()
	stale.SourceTimestamp = now.Add(-46 * time.Second)
	if !stale.Stale(now, window) {
		t.Error("46s old signal should be stale in a 45s window")
	}

	deadline := stale.Deadline(window)
	want := stale.SourceTimestamp.Add(window)
	if !deadline.Equal(want) {
		t.Errorf("Deadline() = %v, want %v", deadline, want)
	}
}

func TestOpposite(t *testing.T) {
	if DirectionLong.Opposite() != DirectionShort {
		t.Error("LONG opposite should be SHORT")
	}
	if DirectionShort.Opposite() != DirectionLong {
		t.Error("SHORT opposite should be LONG")
	}
}
